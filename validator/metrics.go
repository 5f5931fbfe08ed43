package validator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paw-chain/poc/types"
)

// Metrics holds Prometheus metrics for the validation pipeline
type Metrics struct {
	Decisions *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
}

var (
	validatorMetricsOnce sync.Once
	validatorMetrics     *Metrics
)

// NewMetrics creates and registers validator metrics (singleton pattern)
func NewMetrics() *Metrics {
	validatorMetricsOnce.Do(func() {
		validatorMetrics = &Metrics{
			Decisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "validator",
					Name:      "decisions_total",
					Help:      "Validation decisions by type, result and the stage that decided",
				},
				[]string{"contribution_type", "result", "stage"},
			),
			Duration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: types.ModuleName,
					Subsystem: "validator",
					Name:      "duration_seconds",
					Help:      "Validation time by deciding stage",
					Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
				},
				[]string{"stage"},
			),
		}
	})
	return validatorMetrics
}
