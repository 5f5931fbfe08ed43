// Package reward prices accepted contributions and issues each reward at most
// once through the token ledger.
package reward

import (
	"context"
	"errors"
	"strconv"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/paw-chain/poc/app/telemetry"
	"github.com/paw-chain/poc/reputation"
	"github.com/paw-chain/poc/types"
)

// Store persists reward records. ReserveReward is the atomic check-and-insert
// that makes issuance at-most-once. QuoteReward pins the first priced record
// of a contribution so every later attempt mints the same amount.
type Store interface {
	QuoteReward(ctx context.Context, rec types.RewardRecord) (types.RewardRecord, error)
	ReserveReward(ctx context.Context, rec types.RewardRecord) (types.RewardRecord, bool, error)
	MarkIssued(ctx context.Context, rec types.RewardRecord) error
	ReleaseReservation(ctx context.Context, id uuid.UUID) error
	GetReward(ctx context.Context, id uuid.UUID) (types.RewardRecord, bool, error)
	RewardsByEpoch(ctx context.Context, epoch uint64) ([]types.RewardRecord, error)
	PendingRewards(ctx context.Context) ([]types.RewardRecord, error)
	IterateRewards(ctx context.Context, fn func(types.RewardRecord) bool) error
}

// IssuanceHook is told about the treasury fee of every issued reward.
type IssuanceHook interface {
	CollectRewardFee(ctx context.Context, contributionID uuid.UUID, fee math.LegacyDec) error
}

// MintKey is the ledger idempotency key of a contribution's reward.
func MintKey(id uuid.UUID) string {
	return types.RewardIdempotencyKey(id.String())
}

// Engine computes and issues rewards.
type Engine struct {
	config     Config
	store      Store
	acceptance types.AcceptanceChecker
	ledger     types.TokenLedger
	hook       IssuanceHook
	flight     singleflight.Group
	logger     log.Logger
	metrics    *Metrics
	now        func() time.Time
}

// NewEngine creates a reward engine. hook may be nil.
func NewEngine(
	config Config,
	store Store,
	acceptance types.AcceptanceChecker,
	ledger types.TokenLedger,
	hook IssuanceHook,
	logger log.Logger,
) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config:     config,
		store:      store,
		acceptance: acceptance,
		ledger:     ledger,
		hook:       hook,
		logger:     logger.With("module", "reward"),
		metrics:    NewMetrics(),
		now:        time.Now,
	}, nil
}

// Compute prices an accepted contribution without side effects. The record
// is returned in the pending state.
func (e *Engine) Compute(acc types.AcceptedContribution, rep types.ReputationScore, state types.NetworkState) (types.RewardRecord, error) {
	sub := acc.Submission
	base, ok := e.config.BaseRewards[sub.ContributionType]
	if !ok {
		return types.RewardRecord{}, types.ErrInvalidSubmission.Wrapf("no base reward for %s", sub.ContributionType)
	}

	r := e.config.Ranges
	m := types.Multipliers{
		Quality:    r.Quality.Clamp(0.5 + 1.5*acc.Quality),
		Reputation: r.Reputation.Clamp(0.8 + 1.7*reputation.Composite(rep, sub.ContributionType)),
		Novelty:    r.Novelty.Clamp(acc.NoveltyMultiplier),
		Peer:       r.Peer.Clamp(acc.PeerMultiplier),
		Demand:     r.Demand.Clamp(state.DemandFor(sub.ContributionType)),
		Pricing:    r.Pricing.Clamp(state.PricingOrDefault()),
	}

	return types.RewardRecord{
		ContributionID:   sub.ID,
		Recipient:        sub.Submitter,
		ContributionType: sub.ContributionType,
		BaseReward:       base,
		Amount:           Amount(base, m),
		Multipliers:      m,
		Quality:          acc.Quality,
		Epoch:            state.Epoch,
		Status:           types.RewardPending,
	}, nil
}

// Amount multiplies the base reward by every factor in decimal arithmetic.
func Amount(base float64, m types.Multipliers) math.LegacyDec {
	out := decFromFloat(base)
	for _, f := range []float64{m.Quality, m.Reputation, m.Novelty, m.Peer, m.Demand, m.Pricing} {
		out = out.Mul(decFromFloat(f))
	}
	return out
}

// decFromFloat rounds to 12 decimals so values like 1.2 stay exact.
func decFromFloat(v float64) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(strconv.FormatFloat(v, 'f', 12, 64))
}

// ComputeAndIssue issues the reward of an accepted contribution exactly once.
// A repeated call returns the existing record without minting. When the mint
// fails no reward record is kept and ErrLedgerMintFailure is returned; the
// priced quote stays, so a retry reuses its amount and multipliers whatever
// rep and state say by then.
func (e *Engine) ComputeAndIssue(ctx context.Context, acc types.AcceptedContribution, rep types.ReputationScore, state types.NetworkState) (types.RewardRecord, error) {
	id := acc.Submission.ID
	v, err, _ := e.flight.Do(id.String(), func() (interface{}, error) {
		return e.issue(ctx, acc, rep, state)
	})
	if err != nil {
		return types.RewardRecord{}, err
	}
	return v.(types.RewardRecord), nil
}

func (e *Engine) issue(ctx context.Context, acc types.AcceptedContribution, rep types.ReputationScore, state types.NetworkState) (rec types.RewardRecord, err error) {
	id := acc.Submission.ID
	ctx, span := telemetry.StartComponentSpan(ctx, "reward", "issue")
	start := time.Now()
	outcome := "issued"
	defer func() {
		if err != nil {
			outcome = "failed"
		}
		e.metrics.Issuances.WithLabelValues(outcome).Inc()
		e.metrics.Duration.Observe(time.Since(start).Seconds())
		telemetry.AddSpanAttributes(span,
			attribute.String("contribution.id", id.String()),
			attribute.String("reward.outcome", outcome),
		)
		telemetry.RecordError(span, err)
		span.End()
	}()

	existing, found, err := e.store.GetReward(ctx, id)
	if err != nil {
		return types.RewardRecord{}, err
	}
	if found {
		if existing.Status == types.RewardIssued {
			outcome = "existing"
			return existing, nil
		}
		outcome = "recovered"
		return e.recover(ctx, existing)
	}

	accepted, err := e.acceptance.IsAccepted(ctx, id)
	if err != nil {
		return types.RewardRecord{}, err
	}
	if !accepted {
		return types.RewardRecord{}, types.ErrNotAccepted.Wrapf("contribution %s", id)
	}

	priced, err := e.Compute(acc, rep, state)
	if err != nil {
		return types.RewardRecord{}, err
	}
	priced.IssuedAt = e.now().UTC()
	rec, err = e.store.QuoteReward(ctx, priced)
	if err != nil {
		return types.RewardRecord{}, err
	}
	if !rec.Amount.Equal(priced.Amount) {
		e.logger.Debug("reusing earlier reward quote", "contribution_id", id, "quoted", rec.Amount, "repriced", priced.Amount)
	}

	reserved, ok, err := e.store.ReserveReward(ctx, rec)
	if err != nil {
		return types.RewardRecord{}, err
	}
	if !ok {
		// another process reserved first
		if reserved.Status == types.RewardIssued {
			outcome = "existing"
			return reserved, nil
		}
		outcome = "recovered"
		return e.recover(ctx, reserved)
	}

	if err := e.ledger.Mint(ctx, rec.Recipient, rec.Amount, MintKey(id)); err != nil {
		if errors.Is(err, types.ErrDoubleIssuanceAttempt) {
			e.logger.Error("ledger refused reward mint as double issuance",
				"contribution_id", id, "amount", rec.Amount, "error", err, "critical", true)
			return types.RewardRecord{}, err
		}
		if rerr := e.store.ReleaseReservation(ctx, id); rerr != nil {
			e.logger.Error("failed to release reward reservation", "contribution_id", id, "error", rerr)
		}
		return types.RewardRecord{}, types.ErrLedgerMintFailure.Wrapf("contribution %s: %s", id, err)
	}

	return e.finalize(ctx, rec)
}

// recover completes a reservation left pending by an interrupted issuance. The
// mint is repeated with the reserved amount, which the ledger treats as a
// no-op if the first attempt went through.
func (e *Engine) recover(ctx context.Context, rec types.RewardRecord) (types.RewardRecord, error) {
	if err := e.ledger.Mint(ctx, rec.Recipient, rec.Amount, MintKey(rec.ContributionID)); err != nil {
		if errors.Is(err, types.ErrDoubleIssuanceAttempt) {
			e.logger.Error("ledger refused pending reward as double issuance",
				"contribution_id", rec.ContributionID, "amount", rec.Amount, "error", err, "critical", true)
			return types.RewardRecord{}, err
		}
		return types.RewardRecord{}, types.ErrLedgerMintFailure.Wrapf("pending contribution %s: %s", rec.ContributionID, err)
	}
	return e.finalize(ctx, rec)
}

// finalize marks a minted record issued and routes the treasury fee.
func (e *Engine) finalize(ctx context.Context, rec types.RewardRecord) (types.RewardRecord, error) {
	if err := e.store.MarkIssued(ctx, rec); err != nil {
		if errors.Is(err, types.ErrDoubleIssuanceAttempt) {
			e.logger.Error("reward record already issued", "contribution_id", rec.ContributionID, "critical", true)
		}
		return types.RewardRecord{}, err
	}
	rec.Status = types.RewardIssued
	e.metrics.Amount.WithLabelValues(rec.ContributionType.String()).Observe(rec.Amount.MustFloat64())

	if fee := e.Fee(rec.Amount); e.hook != nil && fee.IsPositive() {
		if err := e.hook.CollectRewardFee(ctx, rec.ContributionID, fee); err != nil {
			e.metrics.FeeFailures.Inc()
			e.logger.Error("failed to collect treasury fee", "contribution_id", rec.ContributionID, "fee", fee, "error", err)
		}
	}

	e.logger.Info("reward issued",
		"contribution_id", rec.ContributionID,
		"recipient", rec.Recipient,
		"amount", rec.Amount,
		"epoch", rec.Epoch,
	)
	return rec, nil
}

// Fee is the treasury share of amount.
func (e *Engine) Fee(amount math.LegacyDec) math.LegacyDec {
	return amount.MulInt64(int64(e.config.TreasuryFeeBps)).QuoInt64(10_000)
}

// Reward loads the record of a contribution.
func (e *Engine) Reward(ctx context.Context, id uuid.UUID) (types.RewardRecord, error) {
	rec, found, err := e.store.GetReward(ctx, id)
	if err != nil {
		return types.RewardRecord{}, err
	}
	if !found {
		return types.RewardRecord{}, types.ErrNotFound.Wrapf("reward for %s", id)
	}
	return rec, nil
}

// Reconcile completes every pending reservation, typically on startup. It
// returns the number of records finalized.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	pending, err := e.store.PendingRewards(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	var errs []error
	for _, rec := range pending {
		id := rec.ContributionID
		_, err, _ := e.flight.Do(id.String(), func() (interface{}, error) {
			return e.recover(ctx, rec)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	if len(pending) > 0 {
		e.logger.Info("reconciled pending rewards", "pending", len(pending), "finalized", done)
	}
	return done, errors.Join(errs...)
}

// Stats summarizes issued rewards
type Stats struct {
	TotalIssued    math.LegacyDec                    `json:"total_issued"`
	Count          uint64                            `json:"count"`
	Pending        uint64                            `json:"pending"`
	AverageAmount  math.LegacyDec                    `json:"average_amount"`
	AverageQuality float64                           `json:"average_quality"`
	PerType        map[types.ContributionType]uint64 `json:"per_type"`
}

// Stats aggregates every stored record.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		TotalIssued:   math.LegacyZeroDec(),
		AverageAmount: math.LegacyZeroDec(),
		PerType:       make(map[types.ContributionType]uint64),
	}
	qualitySum := 0.0
	err := e.store.IterateRewards(ctx, func(rec types.RewardRecord) bool {
		if rec.Status != types.RewardIssued {
			stats.Pending++
			return false
		}
		stats.Count++
		stats.TotalIssued = stats.TotalIssued.Add(rec.Amount)
		stats.PerType[rec.ContributionType]++
		qualitySum += rec.Quality
		return false
	})
	if err != nil {
		return Stats{}, err
	}
	if stats.Count > 0 {
		stats.AverageAmount = stats.TotalIssued.QuoInt64(int64(stats.Count))
		stats.AverageQuality = qualitySum / float64(stats.Count)
	}
	return stats, nil
}
