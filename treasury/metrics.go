package treasury

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paw-chain/poc/types"
)

// Metrics holds Prometheus metrics for the treasury
type Metrics struct {
	Transitions     *prometheus.CounterVec
	Votes           *prometheus.CounterVec
	Disbursed       prometheus.Counter
	Fees            prometheus.Counter
	CuratorFailures prometheus.Counter
}

var (
	treasuryMetricsOnce sync.Once
	treasuryMetrics     *Metrics
)

// NewMetrics creates and registers treasury metrics (singleton pattern)
func NewMetrics() *Metrics {
	treasuryMetricsOnce.Do(func() {
		treasuryMetrics = &Metrics{
			Transitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "treasury",
					Name:      "transitions_total",
					Help:      "Proposal state transitions by target status",
				},
				[]string{"status"},
			),
			Votes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "treasury",
					Name:      "votes_total",
					Help:      "Votes cast by option",
				},
				[]string{"option"},
			),
			Disbursed: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "treasury",
					Name:      "disbursed_tokens_total",
					Help:      "Tokens paid out for verified milestones",
				},
			),
			Fees: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "treasury",
					Name:      "reward_fees_total",
					Help:      "Tokens deposited from reward fees",
				},
			),
			CuratorFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "treasury",
					Name:      "curator_failures_total",
					Help:      "AI curation calls that failed or were short-circuited",
				},
			),
		}
	})
	return treasuryMetrics
}
