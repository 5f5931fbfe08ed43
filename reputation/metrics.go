package reputation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paw-chain/poc/types"
)

// Metrics holds Prometheus metrics for the reputation ledger
type Metrics struct {
	Updates   *prometheus.CounterVec
	Conflicts prometheus.Counter
	Capped    prometheus.Counter
	Composite prometheus.Histogram
}

var (
	reputationMetricsOnce sync.Once
	reputationMetrics     *Metrics
)

// NewMetrics creates and registers reputation metrics (singleton pattern)
func NewMetrics() *Metrics {
	reputationMetricsOnce.Do(func() {
		reputationMetrics = &Metrics{
			Updates: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "reputation",
					Name:      "updates_total",
					Help:      "Reputation updates by outcome",
				},
				[]string{"outcome"},
			),
			Conflicts: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "reputation",
					Name:      "write_conflicts_total",
					Help:      "Optimistic write conflicts that forced a retry",
				},
			),
			Capped: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "reputation",
					Name:      "cluster_caps_total",
					Help:      "Addresses whose peer trust was capped as sybil cluster members",
				},
			),
			Composite: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: types.ModuleName,
					Subsystem: "reputation",
					Name:      "composite_score",
					Help:      "Composite score after each update",
					Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
				},
			),
		}
	})
	return reputationMetrics
}
