// Package attestation gathers M-of-N peer votes on a submission within a
// bounded window.
package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/paw-chain/poc/app/telemetry"
	"github.com/paw-chain/poc/types"
)

// Config configures attestation rounds.
type Config struct {
	// SampleSize is N, the number of peers asked per attempt.
	SampleSize int `mapstructure:"sample_size" json:"sample_size"`
	// Quorum is M, the votes required before a decision.
	Quorum int `mapstructure:"quorum" json:"quorum"`
	// Window bounds each attempt.
	Window time.Duration `mapstructure:"window" json:"window"`
	// MaxAttempts caps validation attempts per contribution id. Storage
	// enforces it when a retry is claimed, so the cap survives restarts.
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts"`
}

// DefaultConfig returns the default attestation configuration.
func DefaultConfig() Config {
	return Config{
		SampleSize:  7,
		Quorum:      5,
		Window:      10 * time.Second,
		MaxAttempts: 3,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Quorum < 1 {
		return fmt.Errorf("attestation quorum must be >= 1")
	}
	if c.SampleSize < c.Quorum {
		return fmt.Errorf("attestation sample size %d below quorum %d", c.SampleSize, c.Quorum)
	}
	if c.Window <= 0 {
		return fmt.Errorf("attestation window must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("attestation max attempts must be >= 1")
	}
	return nil
}

// Result is the decided outcome of one attestation round.
type Result struct {
	Votes        []types.AttestationVote
	AcceptWeight float64
	RejectWeight float64
	// Agreement is the accepting share of vote weight.
	Agreement float64
}

// Attesters returns the addresses that voted.
func (r Result) Attesters() []types.Address {
	out := make([]types.Address, len(r.Votes))
	for i, v := range r.Votes {
		out[i] = v.Attester
	}
	return out
}

// Collector runs attestation rounds over a NetworkLayer.
type Collector struct {
	config  Config
	network types.NetworkLayer
	logger  log.Logger
	metrics *Metrics
}

// NewCollector creates a collector.
func NewCollector(config Config, network types.NetworkLayer, logger log.Logger) (*Collector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid attestation config: %w", err)
	}
	return &Collector{
		config:  config,
		network: network,
		logger:  logger.With("module", "attestation"),
		metrics: NewMetrics(),
	}, nil
}

// Collect broadcasts the submission to a random sample of N peers and gathers
// their votes until M arrive or the window elapses. The partial tally is
// evaluated once; votes arriving after that are ignored.
func (c *Collector) Collect(ctx context.Context, sub types.ContributionSubmission) (res Result, err error) {
	ctx, span := telemetry.StartComponentSpan(ctx, "attestation", "collect")
	start := time.Now()
	defer func() {
		c.metrics.Rounds.WithLabelValues(outcomeLabel(err)).Inc()
		c.metrics.Duration.Observe(time.Since(start).Seconds())
		telemetry.AddSpanAttributes(span,
			attribute.Int("attestation.votes", len(res.Votes)),
		)
		telemetry.RecordError(span, err)
		span.End()
	}()

	peers, err := c.network.SamplePeers(ctx, c.config.SampleSize)
	if err != nil {
		return res, c.interrupted(ctx, err)
	}
	if len(peers) < c.config.Quorum {
		return res, types.ErrQuorumNotReached.Wrapf("only %d peers available for quorum %d", len(peers), c.config.Quorum)
	}
	sampled := make(map[types.Address]bool, len(peers))
	for _, p := range peers {
		sampled[p] = true
	}

	if err := c.network.Broadcast(ctx, sub); err != nil {
		return res, c.interrupted(ctx, err)
	}

	deadline := time.Now().Add(c.config.Window)
	wctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	ch, err := c.network.CollectVotes(wctx, sub.ID, deadline)
	if err != nil {
		return res, c.interrupted(ctx, err)
	}

	voted := make(map[types.Address]bool, len(peers))
collect:
	for len(res.Votes) < c.config.Quorum {
		select {
		case v, ok := <-ch:
			if !ok {
				break collect
			}
			if v.ContributionID != sub.ID || !sampled[v.Attester] || voted[v.Attester] || !validVote(v) {
				continue
			}
			voted[v.Attester] = true
			res.Votes = append(res.Votes, v)
		case <-wctx.Done():
			break collect
		}
	}
	cancel()

	if len(res.Votes) < c.config.Quorum && ctx.Err() != nil {
		return res, types.ErrAttestationTimeout.Wrapf("%d of %d votes before cancellation: %s", len(res.Votes), c.config.Quorum, ctx.Err())
	}
	if len(res.Votes) < c.config.Quorum {
		c.logger.Info("attestation quorum not reached",
			"contribution_id", sub.ID,
			"votes", len(res.Votes),
			"quorum", c.config.Quorum,
		)
		return res, types.ErrQuorumNotReached.Wrapf("%d of %d votes within %s", len(res.Votes), c.config.Quorum, c.config.Window)
	}

	for _, v := range res.Votes {
		if v.Verdict == types.VerdictAccept {
			res.AcceptWeight += v.Weight
		} else {
			res.RejectWeight += v.Weight
		}
	}
	res.Agreement = res.AcceptWeight / (res.AcceptWeight + res.RejectWeight)

	if res.RejectWeight > res.AcceptWeight {
		return res, types.ErrAttestationRejected.Wrapf("reject weight %.3f > accept weight %.3f", res.RejectWeight, res.AcceptWeight)
	}
	return res, nil
}

// interrupted maps a transport failure caused by the caller's context to a
// timeout, so the submission remains retryable.
func (c *Collector) interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.ErrAttestationTimeout.Wrap(err.Error())
	}
	return types.ErrQuorumNotReached.Wrapf("network: %s", err)
}

func validVote(v types.AttestationVote) bool {
	return (v.Verdict == types.VerdictAccept || v.Verdict == types.VerdictReject) && v.Weight > 0
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, types.ErrAttestationRejected):
		return "rejected"
	case errors.Is(err, types.ErrQuorumNotReached):
		return "no_quorum"
	case errors.Is(err, types.ErrAttestationTimeout):
		return "timeout"
	default:
		return "error"
	}
}
