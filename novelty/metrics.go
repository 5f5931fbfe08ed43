package novelty

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paw-chain/poc/types"
)

// Metrics holds Prometheus metrics for novelty scoring
type Metrics struct {
	Scores     *prometheus.HistogramVec
	Duplicates *prometheus.CounterVec
	IndexSize  *prometheus.GaugeVec
}

var (
	noveltyMetricsOnce sync.Once
	noveltyMetrics     *Metrics
)

// NewMetrics creates and registers novelty metrics (singleton pattern)
func NewMetrics() *Metrics {
	noveltyMetricsOnce.Do(func() {
		noveltyMetrics = &Metrics{
			Scores: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: types.ModuleName,
					Subsystem: "novelty",
					Name:      "score",
					Help:      "Novelty score of scored submissions",
					Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
				},
				[]string{"contribution_type"},
			),
			Duplicates: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "novelty",
					Name:      "duplicates_total",
					Help:      "Submissions rejected as duplicates",
				},
				[]string{"contribution_type"},
			),
			IndexSize: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: types.ModuleName,
					Subsystem: "novelty",
					Name:      "index_entries",
					Help:      "Entries in the recent-submission window",
				},
				[]string{"contribution_type"},
			),
		}
	})
	return noveltyMetrics
}
