package reward

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paw-chain/poc/types"
)

// Metrics holds Prometheus metrics for reward issuance
type Metrics struct {
	Issuances   *prometheus.CounterVec
	Amount      *prometheus.HistogramVec
	Duration    prometheus.Histogram
	FeeFailures prometheus.Counter
}

var (
	rewardMetricsOnce sync.Once
	rewardMetrics     *Metrics
)

// NewMetrics creates and registers reward metrics (singleton pattern)
func NewMetrics() *Metrics {
	rewardMetricsOnce.Do(func() {
		rewardMetrics = &Metrics{
			Issuances: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "reward",
					Name:      "issuances_total",
					Help:      "Issuance calls by outcome (issued, existing, recovered, failed)",
				},
				[]string{"outcome"},
			),
			Amount: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: types.ModuleName,
					Subsystem: "reward",
					Name:      "amount",
					Help:      "Issued reward amounts by contribution type",
					Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
				},
				[]string{"contribution_type"},
			),
			Duration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: types.ModuleName,
					Subsystem: "reward",
					Name:      "issue_duration_seconds",
					Help:      "Time to issue a reward",
					Buckets:   prometheus.DefBuckets,
				},
			),
			FeeFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "reward",
					Name:      "fee_failures_total",
					Help:      "Treasury fee deposits that failed after issuance",
				},
			),
		}
	})
	return rewardMetrics
}
