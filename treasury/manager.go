// Package treasury runs the discretionary funding pool: proposal curation,
// community voting with an epoch freeze, and milestone-gated disbursement.
package treasury

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"cosmossdk.io/log"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/paw-chain/poc/app/telemetry"
	"github.com/paw-chain/poc/types"
	"github.com/paw-chain/poc/zk"
)

const lockStripes = 64

// decisionEpsilon absorbs float noise at the pass threshold.
const decisionEpsilon = 1e-9

// Store persists proposals and the current epoch.
type Store interface {
	GetProposal(ctx context.Context, id uuid.UUID) (types.TreasuryProposal, error)
	SetProposal(ctx context.Context, p types.TreasuryProposal) error
	IterateProposals(ctx context.Context, fn func(types.TreasuryProposal) bool) error
	GetEpoch(ctx context.Context) (uint64, error)
	SetEpoch(ctx context.Context, epoch uint64) error
}

// ProofVerifier checks milestone completion proofs.
type ProofVerifier interface {
	Verify(ctx context.Context, proof types.ZkProof, stmt zk.Statement) error
}

// EpochReport summarizes one epoch rollover.
type EpochReport struct {
	Closed   uint64      `json:"closed"`
	Passed   []uuid.UUID `json:"passed,omitempty"`
	Rejected []uuid.UUID `json:"rejected,omitempty"`
	Resumed  []uuid.UUID `json:"resumed,omitempty"`
}

// Stats summarizes the treasury.
type Stats struct {
	Epoch          uint64                       `json:"epoch"`
	Balance        sdkmath.LegacyDec            `json:"balance"`
	Proposals      map[types.ProposalStatus]int `json:"proposals"`
	TotalRequested sdkmath.LegacyDec            `json:"total_requested"`
	TotalApproved  sdkmath.LegacyDec            `json:"total_approved"`
	TotalDisbursed sdkmath.LegacyDec            `json:"total_disbursed"`
}

// Manager drives treasury proposals through their lifecycle.
//
// Votes hold epochMu for reading; AdvanceEpoch holds it for writing, so
// every vote of a closing epoch lands before tallying starts and none after.
type Manager struct {
	config   Config
	store    Store
	treasury types.TreasuryAccount
	curator  *guardedCurator
	proofs   ProofVerifier
	oracle   types.MilestoneOracle

	epochMu sync.RWMutex
	epoch   uint64
	locks   [lockStripes]sync.Mutex

	logger  log.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewManager creates a treasury manager and loads the current epoch.
// curator defaults to HeuristicCurator; proofs and oracle may be nil, in which
// case milestones needing them cannot be verified.
func NewManager(
	ctx context.Context,
	config Config,
	store Store,
	treasury types.TreasuryAccount,
	curator types.AICurationModel,
	proofs ProofVerifier,
	oracle types.MilestoneOracle,
	logger log.Logger,
) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if curator == nil {
		curator = HeuristicCurator{}
	}
	epoch, err := store.GetEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load epoch: %w", err)
	}

	logger = logger.With("module", "treasury")
	metrics := NewMetrics()
	return &Manager{
		config:   config,
		store:    store,
		treasury: treasury,
		curator:  newGuardedCurator(curator, config.Curator, logger, metrics),
		proofs:   proofs,
		oracle:   oracle,
		epoch:    epoch,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}, nil
}

func (m *Manager) lock(id uuid.UUID) func() {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	mu := &m.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Epoch returns the current treasury epoch.
func (m *Manager) Epoch() uint64 {
	m.epochMu.RLock()
	defer m.epochMu.RUnlock()
	return m.epoch
}

// Draft registers a new proposal. Lifecycle fields of p are reset; a nil ID
// is assigned.
func (m *Manager) Draft(ctx context.Context, p types.TreasuryProposal) (types.TreasuryProposal, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p = p.Clone()
	for i := range p.Milestones {
		p.Milestones[i].Status = types.MilestonePending
		p.Milestones[i].PaidAmount = sdkmath.LegacyZeroDec()
		p.Milestones[i].Evidence = nil
		p.Milestones[i].Proof = nil
		p.Milestones[i].FailureReason = ""
	}
	if err := p.ValidateBasic(); err != nil {
		return types.TreasuryProposal{}, err
	}

	unlock := m.lock(p.ID)
	defer unlock()

	if _, err := m.store.GetProposal(ctx, p.ID); err == nil {
		return types.TreasuryProposal{}, types.ErrInvalidProposal.Wrapf("proposal %s already exists", p.ID)
	} else if !errors.Is(err, types.ErrProposalNotFound) {
		return types.TreasuryProposal{}, err
	}

	now := m.now().UTC()
	p.Status = types.ProposalDrafted
	p.ApprovedAmount = sdkmath.LegacyZeroDec()
	p.PaidAmount = sdkmath.LegacyZeroDec()
	p.AIScore = 0
	p.CommunityYes, p.CommunityNo, p.CommunityAbstain = 0, 0, 0
	p.Voters = map[types.Address]bool{}
	p.StallReason = ""
	p.CreatedEpoch = m.Epoch()
	p.VotingEndsEpoch = 0
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := m.store.SetProposal(ctx, p); err != nil {
		return types.TreasuryProposal{}, err
	}
	m.transitioned(p)
	return p, nil
}

// Curate scores a drafted proposal and opens it for voting. A curator failure
// leaves the proposal under curation so the call can be repeated.
func (m *Manager) Curate(ctx context.Context, id uuid.UUID) (types.TreasuryProposal, error) {
	ctx, span := telemetry.StartComponentSpan(ctx, "treasury", "curate")
	defer span.End()

	m.epochMu.RLock()
	defer m.epochMu.RUnlock()
	unlock := m.lock(id)
	defer unlock()

	p, err := m.store.GetProposal(ctx, id)
	if err != nil {
		return p, err
	}
	switch p.Status {
	case types.ProposalDrafted:
		p.Status = types.ProposalUnderCuration
		p.UpdatedAt = m.now().UTC()
		if err := m.store.SetProposal(ctx, p); err != nil {
			return p, err
		}
		m.transitioned(p)
	case types.ProposalUnderCuration:
	default:
		return p, types.ErrInvalidTransition.Wrapf("cannot curate proposal in status %s", p.Status)
	}

	score, err := m.curator.score(ctx, p)
	if err != nil {
		telemetry.RecordError(span, err)
		m.logger.Error("curation failed", "proposal_id", id, "error", err)
		return p, err
	}

	p.AIScore = score
	p.Status = types.ProposalOpenForVoting
	p.VotingEndsEpoch = m.epoch + m.config.VotingEpochs - 1
	p.UpdatedAt = m.now().UTC()
	if err := m.store.SetProposal(ctx, p); err != nil {
		return p, err
	}
	m.transitioned(p)
	telemetry.AddSpanAttributes(span,
		attribute.String("proposal.id", id.String()),
		attribute.Float64("proposal.ai_score", score),
	)
	return p, nil
}

// Vote records a ballot with the given voting power.
func (m *Manager) Vote(ctx context.Context, id uuid.UUID, voter types.Address, option types.VoteOption, power float64) (types.TreasuryProposal, error) {
	if err := voter.Validate(); err != nil {
		return types.TreasuryProposal{}, types.ErrInvalidProposal.Wrapf("voter: %s", err)
	}
	if _, err := types.ParseVoteOption(string(option)); err != nil {
		return types.TreasuryProposal{}, types.ErrInvalidProposal.Wrap(err.Error())
	}
	if !(power > 0) || math.IsInf(power, 0) {
		return types.TreasuryProposal{}, types.ErrInvalidProposal.Wrapf("voting power must be positive and finite, got %v", power)
	}

	m.epochMu.RLock()
	defer m.epochMu.RUnlock()
	unlock := m.lock(id)
	defer unlock()

	p, err := m.store.GetProposal(ctx, id)
	if err != nil {
		return p, err
	}
	switch {
	case p.Status == types.ProposalOpenForVoting && m.epoch > p.VotingEndsEpoch:
		return p, types.ErrProposalExpired.Wrapf("voting closed at epoch %d", p.VotingEndsEpoch)
	case p.Status == types.ProposalOpenForVoting:
	case p.Status == types.ProposalDrafted || p.Status == types.ProposalUnderCuration:
		return p, types.ErrInvalidTransition.Wrapf("proposal %s is not open for voting", id)
	default:
		return p, types.ErrProposalExpired.Wrapf("proposal is %s", p.Status)
	}
	if p.Voters == nil {
		p.Voters = map[types.Address]bool{}
	}
	if p.Voters[voter] {
		return p, types.ErrAlreadyVoted.Wrapf("%s on %s", voter, id)
	}

	p.Voters[voter] = true
	switch option {
	case types.VoteYes:
		p.CommunityYes += power
	case types.VoteNo:
		p.CommunityNo += power
	case types.VoteAbstain:
		p.CommunityAbstain += power
	}
	p.UpdatedAt = m.now().UTC()
	if err := m.store.SetProposal(ctx, p); err != nil {
		return p, err
	}
	m.metrics.Votes.WithLabelValues(string(option)).Inc()
	return p, nil
}

// Decide returns the outcome of a closed vote and its combined score.
// Turnout below quorum rejects regardless of the AI score.
func Decide(p types.TreasuryProposal, config Config) (types.ProposalStatus, float64) {
	combined := config.CommunityWeight*p.YesFraction() + config.AIWeight*p.AIScore
	if p.Turnout() < config.QuorumPower {
		return types.ProposalRejected, combined
	}
	if combined+decisionEpsilon >= config.PassThreshold {
		return types.ProposalPassed, combined
	}
	return types.ProposalRejected, combined
}

// AdvanceEpoch freezes votes of the closing epoch, tallies every proposal
// whose window ended, retries stalled payouts, then moves to the next epoch.
// A failed tally stays open and is retried at the next rollover.
func (m *Manager) AdvanceEpoch(ctx context.Context) (EpochReport, error) {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()

	closing := m.epoch
	ctx, span := telemetry.StartEpochSpan(ctx, closing)
	defer span.End()

	var due, stalled []uuid.UUID
	err := m.store.IterateProposals(ctx, func(p types.TreasuryProposal) bool {
		switch {
		case p.Status == types.ProposalOpenForVoting && p.VotingEndsEpoch <= closing:
			due = append(due, p.ID)
		case p.Status == types.ProposalStalled && awaitingFunds(p):
			stalled = append(stalled, p.ID)
		}
		return false
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return EpochReport{}, err
	}

	report := EpochReport{Closed: closing}
	var errs []error
	for _, id := range due {
		status, err := m.tally(ctx, id, closing)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("tally %s: %w", id, err))
		case status == types.ProposalPassed:
			report.Passed = append(report.Passed, id)
		case status == types.ProposalRejected:
			report.Rejected = append(report.Rejected, id)
		}
	}
	for _, id := range stalled {
		p, err := m.resume(ctx, id)
		if err != nil {
			m.logger.Info("stalled proposal still blocked", "proposal_id", id, "error", err)
			continue
		}
		if p.Status != types.ProposalStalled {
			report.Resumed = append(report.Resumed, id)
		}
	}

	if err := m.store.SetEpoch(ctx, closing+1); err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("failed to persist epoch: %w", err)
	}
	m.epoch = closing + 1

	m.logger.Info("treasury epoch advanced",
		"closed", closing,
		"passed", len(report.Passed),
		"rejected", len(report.Rejected),
		"resumed", len(report.Resumed),
	)
	err = errors.Join(errs...)
	telemetry.RecordError(span, err)
	return report, err
}

func (m *Manager) tally(ctx context.Context, id uuid.UUID, closing uint64) (types.ProposalStatus, error) {
	unlock := m.lock(id)
	defer unlock()

	p, err := m.store.GetProposal(ctx, id)
	if err != nil {
		return "", err
	}
	if p.Status != types.ProposalOpenForVoting || p.VotingEndsEpoch > closing {
		return p.Status, nil
	}

	status, combined := Decide(p, m.config)
	if status == types.ProposalPassed {
		approved, err := m.allocation(ctx, p)
		if err != nil {
			return "", err
		}
		if !approved.IsPositive() {
			m.logger.Info("passed proposal has no allocation", "proposal_id", id, "category", p.Category)
			status = types.ProposalRejected
		}
		p.ApprovedAmount = approved
	}

	p.Status = status
	p.UpdatedAt = m.now().UTC()
	if err := m.store.SetProposal(ctx, p); err != nil {
		return "", err
	}
	m.transitioned(p)
	m.logger.Info("proposal tallied",
		"proposal_id", id,
		"status", status,
		"combined", combined,
		"turnout", p.Turnout(),
		"approved", p.ApprovedAmount,
	)
	return status, nil
}

// allocation is min(requested, category cap × current balance).
func (m *Manager) allocation(ctx context.Context, p types.TreasuryProposal) (sdkmath.LegacyDec, error) {
	balance, err := m.treasury.TreasuryBalance(ctx)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	share := m.config.CategoryCaps[p.Category]
	capped := balance.Mul(sdkmath.LegacyMustNewDecFromStr(strconv.FormatFloat(share, 'f', 6, 64)))
	return sdkmath.LegacyMinDec(p.RequestedAmount, capped), nil
}

// SubmitMilestoneEvidence verifies the next unpaid milestone and pays every
// verified milestone in order. Proofs are checked against MilestoneStatement;
// milestones without a proof go to the oracle. A failed verification stalls
// the proposal; paid milestones are kept.
func (m *Manager) SubmitMilestoneEvidence(ctx context.Context, id uuid.UUID, index int, evidence []byte, proof *types.ZkProof) (types.TreasuryProposal, error) {
	ctx, span := telemetry.StartComponentSpan(ctx, "treasury", "milestone")
	defer span.End()
	telemetry.AddSpanAttributes(span,
		attribute.String("proposal.id", id.String()),
		attribute.Int("milestone.index", index),
	)

	unlock := m.lock(id)
	defer unlock()

	p, err := m.store.GetProposal(ctx, id)
	if err != nil {
		return p, err
	}
	if err := disbursable(p); err != nil {
		return p, err
	}
	if index < 0 || index >= len(p.Milestones) {
		return p, types.ErrMilestoneNotFound.Wrapf("proposal %s has %d milestones", id, len(p.Milestones))
	}
	if next := nextUnpaid(p); index != next {
		return p, types.ErrInvalidTransition.Wrapf("milestone %d is next, got %d", next, index)
	}

	ms := &p.Milestones[index]
	if ms.Status != types.MilestoneVerified {
		ms.Evidence = evidence
		ms.Proof = proof
		if err := m.verify(ctx, p, index, evidence, proof); err != nil {
			if !errors.Is(err, types.ErrMilestoneVerification) {
				telemetry.RecordError(span, err)
				return p, err
			}
			ms.Status = types.MilestoneRejected
			ms.FailureReason = err.Error()
			m.stall(&p, fmt.Sprintf("milestone %d verification failed", index))
			if serr := m.store.SetProposal(ctx, p); serr != nil {
				return p, serr
			}
			telemetry.RecordError(span, err)
			return p, err
		}
		ms.Status = types.MilestoneVerified
		ms.FailureReason = ""
	}

	err = m.disburse(ctx, &p)
	if serr := m.store.SetProposal(ctx, p); serr != nil {
		return p, serr
	}
	telemetry.RecordError(span, err)
	return p, err
}

// verify returns ErrMilestoneVerification when the evidence is refused and
// any other error when the verifier could not answer.
func (m *Manager) verify(ctx context.Context, p types.TreasuryProposal, index int, evidence []byte, proof *types.ZkProof) error {
	ms := p.Milestones[index]
	switch {
	case proof != nil:
		if m.proofs == nil {
			return types.ErrMilestoneVerification.Wrap("no proof verifier configured")
		}
		if err := m.proofs.Verify(ctx, *proof, MilestoneStatement(p, index, evidence)); err != nil {
			return types.ErrMilestoneVerification.Wrap(err.Error())
		}
		return nil
	case ms.ProofRequired:
		return types.ErrMilestoneVerification.Wrapf("milestone %d requires a completion proof", index)
	case m.oracle == nil:
		return types.ErrMilestoneVerification.Wrap("no milestone oracle configured")
	}

	ok, err := m.oracle.AttestMilestone(ctx, p.ID, index, evidence)
	if err != nil {
		return fmt.Errorf("milestone oracle: %w", err)
	}
	if !ok {
		return types.ErrMilestoneVerification.Wrapf("oracle refused milestone %d", index)
	}
	return nil
}

// Disburse pays every verified, unpaid milestone of a proposal.
func (m *Manager) Disburse(ctx context.Context, id uuid.UUID) (types.TreasuryProposal, error) {
	unlock := m.lock(id)
	defer unlock()

	p, err := m.store.GetProposal(ctx, id)
	if err != nil {
		return p, err
	}
	if err := disbursable(p); err != nil {
		return p, err
	}
	err = m.disburse(ctx, &p)
	if serr := m.store.SetProposal(ctx, p); serr != nil {
		return p, serr
	}
	return p, err
}

func (m *Manager) resume(ctx context.Context, id uuid.UUID) (types.TreasuryProposal, error) {
	unlock := m.lock(id)
	defer unlock()

	p, err := m.store.GetProposal(ctx, id)
	if err != nil {
		return p, err
	}
	if p.Status != types.ProposalStalled || !awaitingFunds(p) {
		return p, nil
	}
	err = m.disburse(ctx, &p)
	if serr := m.store.SetProposal(ctx, p); serr != nil {
		return p, serr
	}
	return p, err
}

// disburse pays consecutive verified milestones. Each payout checks the
// treasury balance first; a shortfall or ledger failure stalls the proposal.
func (m *Manager) disburse(ctx context.Context, p *types.TreasuryProposal) error {
	ctx, span := telemetry.StartComponentSpan(ctx, "treasury", "disburse")
	defer span.End()

	for i := range p.Milestones {
		ms := &p.Milestones[i]
		if ms.Status == types.MilestonePaid {
			continue
		}
		if ms.Status != types.MilestoneVerified {
			break
		}

		payout := Payout(*p, i)
		balance, err := m.treasury.TreasuryBalance(ctx)
		if err != nil {
			m.stall(p, "treasury unavailable")
			telemetry.RecordError(span, err)
			return err
		}
		if balance.LT(payout) {
			m.stall(p, fmt.Sprintf("insufficient funds for milestone %d", i))
			err := types.ErrTreasuryInsufficientFunds.Wrapf("milestone %d needs %s, balance %s", i, payout, balance)
			telemetry.RecordError(span, err)
			return err
		}
		if payout.IsPositive() {
			key := types.MilestoneIdempotencyKey(p.ID.String(), i)
			if err := m.treasury.Transfer(ctx, p.Proposer, payout, key); err != nil {
				if errors.Is(err, types.ErrDoubleIssuanceAttempt) {
					m.logger.Error("milestone payout key reused with a different amount",
						"proposal_id", p.ID, "milestone", i, "critical", true, "error", err)
				}
				m.stall(p, fmt.Sprintf("transfer for milestone %d failed", i))
				telemetry.RecordError(span, err)
				return err
			}
		}

		ms.Status = types.MilestonePaid
		ms.PaidAmount = payout
		p.PaidAmount = p.PaidAmount.Add(payout)
		p.StallReason = ""
		if p.Status != types.ProposalDisbursing {
			p.Status = types.ProposalDisbursing
			m.transitioned(*p)
		}
		m.metrics.Disbursed.Add(payout.MustFloat64())
		m.logger.Info("milestone paid", "proposal_id", p.ID, "milestone", i, "amount", payout)
	}

	if nextUnpaid(*p) == len(p.Milestones) && p.Status != types.ProposalCompleted {
		p.Status = types.ProposalCompleted
		m.transitioned(*p)
	}
	p.UpdatedAt = m.now().UTC()
	return nil
}

// Payout is the transfer owed for milestone i: its amount scaled by
// approved/requested, bounded by what remains of the approved amount.
func Payout(p types.TreasuryProposal, i int) sdkmath.LegacyDec {
	if p.ApprovedAmount.IsNil() || !p.ApprovedAmount.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}
	scaled := p.Milestones[i].Amount.Mul(p.ApprovedAmount).Quo(p.RequestedAmount)
	remaining := p.ApprovedAmount.Sub(p.PaidAmount)
	if remaining.IsNegative() {
		return sdkmath.LegacyZeroDec()
	}
	return sdkmath.LegacyMinDec(scaled, remaining)
}

// MilestoneStatement is the public statement a milestone completion proof
// must satisfy: the fingerprint binds proposal, milestone and evidence.
func MilestoneStatement(p types.TreasuryProposal, index int, evidence []byte) zk.Statement {
	buf := make([]byte, 0, len(p.ID)+4+len(evidence))
	buf = append(buf, p.ID[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(index))
	buf = append(buf, evidence...)
	return zk.Statement{
		Fingerprint: types.HashPayload(buf),
		Submitter:   p.Proposer,
		QualityBps:  types.QualityScale,
	}
}

// CollectRewardFee deposits a reward fee into the treasury account.
func (m *Manager) CollectRewardFee(ctx context.Context, contributionID uuid.UUID, fee sdkmath.LegacyDec) error {
	if fee.IsNil() || !fee.IsPositive() {
		return nil
	}
	if err := m.treasury.Deposit(ctx, fee, types.FeeIdempotencyKey(contributionID.String())); err != nil {
		return err
	}
	m.metrics.Fees.Add(fee.MustFloat64())
	return nil
}

// Get returns a proposal.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (types.TreasuryProposal, error) {
	return m.store.GetProposal(ctx, id)
}

// List returns proposals in creation order, filtered by status when given.
func (m *Manager) List(ctx context.Context, status types.ProposalStatus) ([]types.TreasuryProposal, error) {
	var out []types.TreasuryProposal
	err := m.store.IterateProposals(ctx, func(p types.TreasuryProposal) bool {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Stats summarizes proposals and the treasury balance.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	balance, err := m.treasury.TreasuryBalance(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		Epoch:          m.Epoch(),
		Balance:        balance,
		Proposals:      map[types.ProposalStatus]int{},
		TotalRequested: sdkmath.LegacyZeroDec(),
		TotalApproved:  sdkmath.LegacyZeroDec(),
		TotalDisbursed: sdkmath.LegacyZeroDec(),
	}
	err = m.store.IterateProposals(ctx, func(p types.TreasuryProposal) bool {
		stats.Proposals[p.Status]++
		stats.TotalRequested = stats.TotalRequested.Add(p.RequestedAmount)
		if !p.ApprovedAmount.IsNil() {
			stats.TotalApproved = stats.TotalApproved.Add(p.ApprovedAmount)
		}
		if !p.PaidAmount.IsNil() {
			stats.TotalDisbursed = stats.TotalDisbursed.Add(p.PaidAmount)
		}
		return false
	})
	return stats, err
}

func (m *Manager) stall(p *types.TreasuryProposal, reason string) {
	p.StallReason = reason
	p.UpdatedAt = m.now().UTC()
	if p.Status != types.ProposalStalled {
		p.Status = types.ProposalStalled
		m.transitioned(*p)
	}
	m.logger.Info("proposal stalled", "proposal_id", p.ID, "reason", reason)
}

func (m *Manager) transitioned(p types.TreasuryProposal) {
	m.metrics.Transitions.WithLabelValues(string(p.Status)).Inc()
}

func disbursable(p types.TreasuryProposal) error {
	switch p.Status {
	case types.ProposalPassed, types.ProposalDisbursing, types.ProposalStalled:
		return nil
	}
	return types.ErrInvalidTransition.Wrapf("proposal %s is %s", p.ID, p.Status)
}

// nextUnpaid returns the index of the first unpaid milestone, or
// len(p.Milestones) when all are paid.
func nextUnpaid(p types.TreasuryProposal) int {
	for i, ms := range p.Milestones {
		if ms.Status != types.MilestonePaid {
			return i
		}
	}
	return len(p.Milestones)
}

// awaitingFunds reports whether the next milestone is verified but unpaid.
func awaitingFunds(p types.TreasuryProposal) bool {
	i := nextUnpaid(p)
	return i < len(p.Milestones) && p.Milestones[i].Status == types.MilestoneVerified
}
