// Package ledger provides the in-process token ledger and treasury account
// used by standalone nodes, plus a circuit breaker for remote ledgers.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"cosmossdk.io/log"
	"cosmossdk.io/math"

	"github.com/paw-chain/poc/types"
)

// Ledger is a token ledger that also holds the treasury account.
type Ledger interface {
	types.TokenLedger
	types.TreasuryAccount
	Balance(ctx context.Context, addr types.Address) (math.LegacyDec, error)
}

type opKind string

const (
	opMint     opKind = "mint"
	opDeposit  opKind = "deposit"
	opTransfer opKind = "transfer"
)

// operation is what an idempotency key was first used for.
type operation struct {
	kind   opKind
	to     types.Address
	amount math.LegacyDec
}

func (o operation) matches(other operation) bool {
	return o.kind == other.kind && o.to == other.to && o.amount.Equal(other.amount)
}

// Memory is an in-memory Ledger. Every mutating call carries an idempotency
// key: a repeat of the same operation is a no-op, while reuse of a key for a
// different operation fails with ErrDoubleIssuanceAttempt.
type Memory struct {
	mu       sync.Mutex
	balances map[types.Address]math.LegacyDec
	treasury math.LegacyDec
	supply   math.LegacyDec
	ops      map[string]operation
	logger   log.Logger
	metrics  *Metrics
}

var _ Ledger = (*Memory)(nil)

// NewMemory creates an empty ledger.
func NewMemory(logger log.Logger) *Memory {
	return &Memory{
		balances: make(map[types.Address]math.LegacyDec),
		treasury: math.LegacyZeroDec(),
		supply:   math.LegacyZeroDec(),
		ops:      make(map[string]operation),
		logger:   logger.With("module", "ledger"),
		metrics:  NewMetrics(),
	}
}

// Mint creates amount new tokens for to.
func (m *Memory) Mint(_ context.Context, to types.Address, amount math.LegacyDec, idempotencyKey string) error {
	if err := to.Validate(); err != nil {
		return fmt.Errorf("mint recipient: %w", err)
	}
	if err := checkAmount(amount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	done, err := m.claim(idempotencyKey, operation{kind: opMint, to: to, amount: amount})
	if err != nil || done {
		return err
	}
	m.credit(to, amount)
	m.supply = m.supply.Add(amount)
	m.metrics.Minted.Add(amount.MustFloat64())
	return nil
}

// Balance returns the token balance of addr.
func (m *Memory) Balance(_ context.Context, addr types.Address) (math.LegacyDec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.balances[addr]; ok {
		return bal, nil
	}
	return math.LegacyZeroDec(), nil
}

// Supply returns the total minted amount.
func (m *Memory) Supply() math.LegacyDec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply
}

// TreasuryBalance returns the treasury pool.
func (m *Memory) TreasuryBalance(_ context.Context) (math.LegacyDec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.treasury, nil
}

// Deposit adds amount to the treasury. Deposits are new supply: reward fees
// are issued on top of the reward they are charged on.
func (m *Memory) Deposit(_ context.Context, amount math.LegacyDec, idempotencyKey string) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	done, err := m.claim(idempotencyKey, operation{kind: opDeposit, amount: amount})
	if err != nil || done {
		return err
	}
	m.treasury = m.treasury.Add(amount)
	m.supply = m.supply.Add(amount)
	m.metrics.Treasury.Set(m.treasury.MustFloat64())
	return nil
}

// Transfer pays amount from the treasury to to.
func (m *Memory) Transfer(_ context.Context, to types.Address, amount math.LegacyDec, idempotencyKey string) error {
	if err := to.Validate(); err != nil {
		return fmt.Errorf("transfer recipient: %w", err)
	}
	if err := checkAmount(amount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	op := operation{kind: opTransfer, to: to, amount: amount}
	if prev, ok := m.ops[idempotencyKey]; ok {
		if prev.matches(op) {
			return nil
		}
		return types.ErrDoubleIssuanceAttempt.Wrapf("idempotency key %q reused", idempotencyKey)
	}
	if m.treasury.LT(amount) {
		return types.ErrTreasuryInsufficientFunds.Wrapf("balance %s, requested %s", m.treasury, amount)
	}
	m.ops[idempotencyKey] = op
	m.treasury = m.treasury.Sub(amount)
	m.credit(to, amount)
	m.metrics.Transfers.Inc()
	m.metrics.Treasury.Set(m.treasury.MustFloat64())
	return nil
}

// claim records key for op. It reports done when the same operation was
// already applied.
func (m *Memory) claim(key string, op operation) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("empty idempotency key")
	}
	if prev, ok := m.ops[key]; ok {
		if prev.matches(op) {
			return true, nil
		}
		m.logger.Error("idempotency key reused for a different operation",
			"key", key, "kind", op.kind, "amount", op.amount, "previous_amount", prev.amount, "critical", true)
		return false, types.ErrDoubleIssuanceAttempt.Wrapf("idempotency key %q reused", key)
	}
	m.ops[key] = op
	return false, nil
}

func (m *Memory) credit(to types.Address, amount math.LegacyDec) {
	bal, ok := m.balances[to]
	if !ok {
		bal = math.LegacyZeroDec()
	}
	m.balances[to] = bal.Add(amount)
}

func checkAmount(amount math.LegacyDec) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("invalid amount %v", amount)
	}
	return nil
}
