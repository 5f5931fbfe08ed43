package types

import (
	"context"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
)

// NetworkLayer is the peer-to-peer transport used for attestation.
type NetworkLayer interface {
	Broadcast(ctx context.Context, submission ContributionSubmission) error
	SamplePeers(ctx context.Context, n int) ([]Address, error)
	// CollectVotes streams votes for a contribution until the deadline or ctx ends,
	// then closes the channel.
	CollectVotes(ctx context.Context, contributionID uuid.UUID, deadline time.Time) (<-chan AttestationVote, error)
}

// TokenLedger mints rewards. Repeating a mint with the same idempotency key and
// amount is a no-op; reusing a key with a different amount must fail with
// ErrDoubleIssuanceAttempt.
type TokenLedger interface {
	Mint(ctx context.Context, to Address, amount math.LegacyDec, idempotencyKey string) error
}

// TreasuryAccount holds the discretionary funding pool.
type TreasuryAccount interface {
	TreasuryBalance(ctx context.Context) (math.LegacyDec, error)
	Deposit(ctx context.Context, amount math.LegacyDec, idempotencyKey string) error
	Transfer(ctx context.Context, to Address, amount math.LegacyDec, idempotencyKey string) error
}

// AICurationModel scores proposals in [0,1]. Advisory only.
type AICurationModel interface {
	ScoreProposal(ctx context.Context, proposal TreasuryProposal) (float64, error)
}

// MilestoneOracle attests off-chain milestone evidence.
type MilestoneOracle interface {
	AttestMilestone(ctx context.Context, proposalID uuid.UUID, index int, evidence []byte) (bool, error)
}

// AcceptanceChecker reports whether the validator accepted a contribution.
type AcceptanceChecker interface {
	IsAccepted(ctx context.Context, contributionID uuid.UUID) (bool, error)
}
