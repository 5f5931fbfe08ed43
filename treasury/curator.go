package treasury

import (
	"context"
	"fmt"
	"math"

	"cosmossdk.io/log"
	sdkmath "cosmossdk.io/math"
	"github.com/sony/gobreaker"

	"github.com/paw-chain/poc/types"
)

// Grant size thresholds in tokens
var (
	largeGrant     = sdkmath.LegacyNewDec(100)
	excessiveGrant = sdkmath.LegacyNewDec(1000)
)

// HeuristicCurator scores proposals without a model: the mean of impact,
// feasibility and inverse risk, derived from category, size and milestones.
type HeuristicCurator struct{}

var _ types.AICurationModel = HeuristicCurator{}

func (HeuristicCurator) ScoreProposal(_ context.Context, p types.TreasuryProposal) (float64, error) {
	var impact float64
	switch p.Category {
	case types.CategoryResearch:
		impact = 0.7
	case types.CategoryInfrastructure:
		impact = 0.8
	case types.CategorySecurity:
		impact = 0.9
	case types.CategoryInnovation:
		impact = 0.6
	case types.CategoryCommunity:
		impact = 0.5
	default:
		return 0, types.ErrInvalidProposal.Wrapf("unknown category %q", p.Category)
	}
	if p.RequestedAmount.GT(largeGrant) {
		impact *= 0.9
	}

	milestones := 0.6
	if len(p.Milestones) >= 3 {
		milestones = 0.8
	}
	reasonable := 0.9
	if !p.RequestedAmount.LT(excessiveGrant) {
		reasonable = 0.7
	}
	feasibility := (milestones + reasonable) / 2

	const risk = 0.3
	return (impact + feasibility + (1 - risk)) / 3, nil
}

// guardedCurator bounds curation calls with a timeout and a circuit breaker.
type guardedCurator struct {
	model   types.AICurationModel
	cb      *gobreaker.CircuitBreaker
	config  CuratorConfig
	metrics *Metrics
}

func newGuardedCurator(model types.AICurationModel, config CuratorConfig, logger log.Logger, metrics *Metrics) *guardedCurator {
	return &guardedCurator{
		model:   model,
		config:  config,
		metrics: metrics,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "curator",
			MaxRequests: 1,
			Timeout:     config.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("curator circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		}),
	}
}

// score returns the advisory AI score clamped to [0,1].
func (g *guardedCurator) score(ctx context.Context, p types.TreasuryProposal) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	res, err := g.cb.Execute(func() (interface{}, error) {
		s, err := g.model.ScoreProposal(ctx, p)
		if err == nil && math.IsNaN(s) {
			err = fmt.Errorf("curator returned NaN")
		}
		return s, err
	})
	if err != nil {
		g.metrics.CuratorFailures.Inc()
		return 0, types.ErrCuratorUnavailable.Wrap(err.Error())
	}
	return math.Max(0, math.Min(1, res.(float64))), nil
}
