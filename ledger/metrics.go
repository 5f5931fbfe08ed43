package ledger

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/paw-chain/poc/types"
)

// Metrics holds Prometheus metrics for the token ledger
type Metrics struct {
	Minted       prometheus.Counter
	Transfers    prometheus.Counter
	Treasury     prometheus.Gauge
	BreakerState prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *Metrics
)

// NewMetrics creates and registers ledger metrics (singleton pattern)
func NewMetrics() *Metrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = &Metrics{
			Minted: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: types.ModuleName,
				Subsystem: "ledger",
				Name:      "minted_tokens_total",
				Help:      "Tokens minted to contributors",
			}),
			Transfers: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: types.ModuleName,
				Subsystem: "ledger",
				Name:      "treasury_transfers_total",
				Help:      "Treasury payouts executed",
			}),
			Treasury: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: types.ModuleName,
				Subsystem: "ledger",
				Name:      "treasury_balance",
				Help:      "Current treasury balance",
			}),
			BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: types.ModuleName,
				Subsystem: "ledger",
				Name:      "breaker_state",
				Help:      "Ledger circuit breaker state (0 closed, 1 half-open, 2 open)",
			}),
		}
	})
	return ledgerMetrics
}
