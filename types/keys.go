package types

import "strconv"

const (
	// ModuleName is the codespace for registered errors and the metric namespace.
	ModuleName = "poc"

	// AddressPrefix is the bech32 human readable part of participant addresses.
	AddressPrefix = "paw"

	// QualityScale converts a [0,1] quality into the integer basis points used by circuits.
	QualityScale = 10_000
)

// Idempotency key prefixes used against the external ledger
const (
	RewardKeyPrefix   = "reward/"
	FeeKeyPrefix      = "fee/"
	TreasuryKeyPrefix = "treasury/"
)

// RewardIdempotencyKey derives the mint key for a contribution reward.
func RewardIdempotencyKey(contributionID string) string {
	return RewardKeyPrefix + contributionID
}

// FeeIdempotencyKey derives the treasury deposit key for a reward fee.
func FeeIdempotencyKey(contributionID string) string {
	return FeeKeyPrefix + contributionID
}

// MilestoneIdempotencyKey derives the transfer key for a milestone payout.
func MilestoneIdempotencyKey(proposalID string, milestone int) string {
	return TreasuryKeyPrefix + proposalID + "/" + strconv.Itoa(milestone)
}
