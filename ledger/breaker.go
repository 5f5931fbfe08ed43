package ledger

import (
	"context"
	"errors"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/sony/gobreaker"

	"github.com/paw-chain/poc/types"
)

// BreakerConfig configures the ledger circuit breaker.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures" json:"consecutive_failures"`
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	// HalfOpenRequests are allowed through while probing.
	HalfOpenRequests uint32 `mapstructure:"half_open_requests" json:"half_open_requests"`
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		Timeout:             30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Breaker guards a Ledger with a circuit breaker. While open, calls fail fast
// with ErrLedgerUnavailable and never reach the ledger.
type Breaker struct {
	next   Ledger
	cb     *gobreaker.CircuitBreaker
	logger log.Logger
}

var _ Ledger = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(next Ledger, config BreakerConfig, logger log.Logger) *Breaker {
	logger = logger.With("module", "ledger")
	metrics := NewMetrics()
	b := &Breaker{next: next, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: config.HalfOpenRequests,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("ledger circuit breaker state changed", "from", from.String(), "to", to.String())
			metrics.BreakerState.Set(float64(to))
		},
		IsSuccessful: isLedgerHealthy,
	})
	return b
}

// isLedgerHealthy treats answers that prove the ledger is reachable as
// successes, refusals included.
func isLedgerHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, types.ErrDoubleIssuanceAttempt) ||
		errors.Is(err, types.ErrTreasuryInsufficientFunds) ||
		errors.Is(err, context.Canceled)
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.ErrLedgerUnavailable.Wrap(err.Error())
	}
	return err
}

func (b *Breaker) Mint(ctx context.Context, to types.Address, amount math.LegacyDec, idempotencyKey string) error {
	return b.execute(func() error { return b.next.Mint(ctx, to, amount, idempotencyKey) })
}

func (b *Breaker) Deposit(ctx context.Context, amount math.LegacyDec, idempotencyKey string) error {
	return b.execute(func() error { return b.next.Deposit(ctx, amount, idempotencyKey) })
}

func (b *Breaker) Transfer(ctx context.Context, to types.Address, amount math.LegacyDec, idempotencyKey string) error {
	return b.execute(func() error { return b.next.Transfer(ctx, to, amount, idempotencyKey) })
}

func (b *Breaker) TreasuryBalance(ctx context.Context) (math.LegacyDec, error) {
	var bal math.LegacyDec
	err := b.execute(func() (err error) {
		bal, err = b.next.TreasuryBalance(ctx)
		return err
	})
	return bal, err
}

func (b *Breaker) Balance(ctx context.Context, addr types.Address) (math.LegacyDec, error) {
	var bal math.LegacyDec
	err := b.execute(func() (err error) {
		bal, err = b.next.Balance(ctx, addr)
		return err
	})
	return bal, err
}
