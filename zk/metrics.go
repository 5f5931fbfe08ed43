package zk

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paw-chain/poc/types"
)

// Metrics holds Prometheus metrics for proof verification
type Metrics struct {
	ProofsVerified   *prometheus.CounterVec
	VerificationTime *prometheus.HistogramVec
}

var (
	zkMetricsOnce sync.Once
	zkMetrics     *Metrics
)

// NewMetrics creates and registers verifier metrics (singleton pattern)
func NewMetrics() *Metrics {
	zkMetricsOnce.Do(func() {
		zkMetrics = &Metrics{
			ProofsVerified: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: types.ModuleName,
					Subsystem: "zk",
					Name:      "proofs_verified_total",
					Help:      "Proof verifications by scheme and result",
				},
				[]string{"scheme", "result"},
			),
			VerificationTime: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: types.ModuleName,
					Subsystem: "zk",
					Name:      "verification_seconds",
					Help:      "Proof verification latency",
					Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
				},
				[]string{"scheme"},
			),
		}
	})
	return zkMetrics
}
