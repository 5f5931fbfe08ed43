package types

import (
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
)

// Multipliers are the factors applied to a base reward.
type Multipliers struct {
	Quality    float64 `json:"quality"`
	Reputation float64 `json:"reputation"`
	Novelty    float64 `json:"novelty"`
	Peer       float64 `json:"peer"`
	Demand     float64 `json:"demand"`
	Pricing    float64 `json:"pricing"`
}

// RewardStatus is the issuance phase of a reward record.
type RewardStatus string

const (
	// RewardPending marks a reservation whose mint has not been confirmed.
	RewardPending RewardStatus = "pending"
	RewardIssued  RewardStatus = "issued"
)

// RewardRecord is the single issuance record of an accepted contribution.
type RewardRecord struct {
	ContributionID   uuid.UUID        `json:"contribution_id"`
	Recipient        Address          `json:"recipient"`
	ContributionType ContributionType `json:"contribution_type"`
	BaseReward       float64          `json:"base_reward"`
	Amount           math.LegacyDec   `json:"amount"`
	Multipliers      Multipliers      `json:"multipliers"`
	Quality          float64          `json:"quality"`
	Epoch            uint64           `json:"epoch"`
	Status           RewardStatus     `json:"status"`
	IssuedAt         time.Time        `json:"issued_at"`
}

// NetworkState is an immutable snapshot of economic conditions at issuance time.
type NetworkState struct {
	Epoch   uint64                       `json:"epoch"`
	Demand  map[ContributionType]float64 `json:"demand"`
	Pricing float64                      `json:"pricing"`
}

// DemandFor returns the demand signal for t, 1.0 when unspecified.
func (n NetworkState) DemandFor(t ContributionType) float64 {
	if v, ok := n.Demand[t]; ok {
		return v
	}
	return 1.0
}

// PricingOrDefault returns the pricing signal, 1.0 when unset.
func (n NetworkState) PricingOrDefault() float64 {
	if n.Pricing == 0 {
		return 1.0
	}
	return n.Pricing
}
