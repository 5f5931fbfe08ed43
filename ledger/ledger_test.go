package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/paw-chain/poc/testutil"
	"github.com/paw-chain/poc/types"
)

func TestMintIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(log.NewNopLogger())
	to := testutil.Addr(1)

	require.NoError(t, m.Mint(ctx, to, testutil.Dec("18.5"), "reward/a"))
	require.NoError(t, m.Mint(ctx, to, testutil.Dec("18.5"), "reward/a"))

	bal, err := m.Balance(ctx, to)
	require.NoError(t, err)
	require.Equal(t, "18.500000000000000000", bal.String())
	require.True(t, m.Supply().Equal(testutil.Dec("18.5")))

	err = m.Mint(ctx, to, testutil.Dec("20"), "reward/a")
	require.ErrorIs(t, err, types.ErrDoubleIssuanceAttempt)
	err = m.Mint(ctx, testutil.Addr(2), testutil.Dec("18.5"), "reward/a")
	require.ErrorIs(t, err, types.ErrDoubleIssuanceAttempt)

	require.Error(t, m.Mint(ctx, to, testutil.Dec("-1"), "reward/b"))
	require.Error(t, m.Mint(ctx, to, testutil.Dec("1"), ""))
}

func TestTreasuryTransfer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(log.NewNopLogger())
	to := testutil.Addr(1)

	require.NoError(t, m.Deposit(ctx, testutil.Dec("100"), "genesis"))
	require.NoError(t, m.Deposit(ctx, testutil.Dec("100"), "genesis"))

	err := m.Transfer(ctx, to, testutil.Dec("150"), "treasury/p/0")
	require.ErrorIs(t, err, types.ErrTreasuryInsufficientFunds)

	// a refused transfer does not burn its key
	require.NoError(t, m.Transfer(ctx, to, testutil.Dec("60"), "treasury/p/0"))
	require.NoError(t, m.Transfer(ctx, to, testutil.Dec("60"), "treasury/p/0"))

	bal, err := m.TreasuryBalance(ctx)
	require.NoError(t, err)
	require.True(t, bal.Equal(testutil.Dec("40")))
	got, err := m.Balance(ctx, to)
	require.NoError(t, err)
	require.True(t, got.Equal(testutil.Dec("60")))
}

type flakyLedger struct {
	*Memory
	fail  bool
	calls int
}

func (f *flakyLedger) Mint(ctx context.Context, to types.Address, amount math.LegacyDec, key string) error {
	f.calls++
	if f.fail {
		return errors.New("connection refused")
	}
	return f.Memory.Mint(ctx, to, amount, key)
}

func TestBreakerOpensOnFailures(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyLedger{Memory: NewMemory(log.NewNopLogger()), fail: true}
	b := NewBreaker(flaky, BreakerConfig{ConsecutiveFailures: 2, Timeout: 50 * time.Millisecond, HalfOpenRequests: 1}, log.NewNopLogger())
	to := testutil.Addr(1)

	for i := 0; i < 2; i++ {
		err := b.Mint(ctx, to, testutil.Dec("1"), "k")
		require.Error(t, err)
		require.NotErrorIs(t, err, types.ErrLedgerUnavailable)
	}
	require.Equal(t, "open", b.State())

	err := b.Mint(ctx, to, testutil.Dec("1"), "k")
	require.ErrorIs(t, err, types.ErrLedgerUnavailable)
	require.Equal(t, 2, flaky.calls, "open breaker short-circuits")

	flaky.fail = false
	require.Eventually(t, func() bool {
		return b.Mint(ctx, to, testutil.Dec("1"), "k") == nil
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "closed", b.State())
}

func TestBreakerIgnoresRefusals(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(NewMemory(log.NewNopLogger()), BreakerConfig{ConsecutiveFailures: 1, Timeout: time.Minute, HalfOpenRequests: 1}, log.NewNopLogger())

	for i := 0; i < 3; i++ {
		err := b.Transfer(ctx, testutil.Addr(1), testutil.Dec("5"), "treasury/x/0")
		require.ErrorIs(t, err, types.ErrTreasuryInsufficientFunds)
	}
	require.Equal(t, "closed", b.State())

	bal, err := b.TreasuryBalance(ctx)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}
