package sybil

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paw-chain/poc/types"
)

// Metrics holds Prometheus metrics for sybil analysis
type Metrics struct {
	Risk       prometheus.Histogram
	Rejections prometheus.Counter
	Clusters   prometheus.Gauge
	Nodes      prometheus.Gauge
}

var (
	sybilMetricsOnce sync.Once
	sybilMetrics     *Metrics
)

// NewMetrics creates and registers sybil metrics (singleton pattern)
func NewMetrics() *Metrics {
	sybilMetricsOnce.Do(func() {
		sybilMetrics = &Metrics{
			Risk: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: types.ModuleName,
				Subsystem: "sybil",
				Name:      "risk",
				Help:      "Sybil risk of analyzed submissions",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			}),
			Rejections: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: types.ModuleName,
				Subsystem: "sybil",
				Name:      "rejections_total",
				Help:      "Submissions rejected as suspected sybil activity",
			}),
			Clusters: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: types.ModuleName,
				Subsystem: "sybil",
				Name:      "clusters",
				Help:      "Detected clusters of correlated addresses",
			}),
			Nodes: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: types.ModuleName,
				Subsystem: "sybil",
				Name:      "graph_nodes",
				Help:      "Addresses tracked by the co-submission graph",
			}),
		}
	})
	return sybilMetrics
}
