package attestation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paw-chain/poc/types"
)

// Metrics holds Prometheus metrics for attestation rounds
type Metrics struct {
	Rounds   *prometheus.CounterVec
	Duration prometheus.Histogram
}

var (
	attestationMetricsOnce sync.Once
	attestationMetrics     *Metrics
)

// NewMetrics creates and registers attestation metrics (singleton pattern)
func NewMetrics() *Metrics {
	attestationMetricsOnce.Do(func() {
		attestationMetrics = &Metrics{
			Rounds: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "attestation",
					Name:      "rounds_total",
					Help:      "Attestation rounds by outcome",
				},
				[]string{"outcome"},
			),
			Duration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: types.ModuleName,
					Subsystem: "attestation",
					Name:      "round_duration_seconds",
					Help:      "Time from broadcast to decision",
					Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
				},
			),
		}
	})
	return attestationMetrics
}
