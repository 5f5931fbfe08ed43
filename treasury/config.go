package treasury

import (
	"fmt"
	"time"

	"github.com/paw-chain/poc/types"
)

// Config configures proposal voting, tallying and allocation.
type Config struct {
	// VotingEpochs is how many epochs a proposal stays open for votes.
	VotingEpochs uint64 `mapstructure:"voting_epochs" json:"voting_epochs"`
	// PassThreshold is the minimum combined score to pass.
	PassThreshold   float64 `mapstructure:"pass_threshold" json:"pass_threshold"`
	CommunityWeight float64 `mapstructure:"community_weight" json:"community_weight"`
	AIWeight        float64 `mapstructure:"ai_weight" json:"ai_weight"`
	// QuorumPower is the minimum voting power cast, abstentions included.
	QuorumPower float64 `mapstructure:"quorum_power" json:"quorum_power"`
	// CategoryCaps bound the approved amount as a fraction of the treasury
	// balance at approval.
	CategoryCaps map[types.FundingCategory]float64 `mapstructure:"category_caps" json:"category_caps"`
	Curator      CuratorConfig                     `mapstructure:"curator" json:"curator"`
}

// CuratorConfig guards calls to the AI curation model.
type CuratorConfig struct {
	Timeout             time.Duration `mapstructure:"timeout" json:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures" json:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout" json:"open_timeout"`
}

// DefaultCategoryCaps returns the per-category allocation caps.
func DefaultCategoryCaps() map[types.FundingCategory]float64 {
	return map[types.FundingCategory]float64{
		types.CategoryResearch:       0.05,
		types.CategoryInfrastructure: 0.10,
		types.CategoryCommunity:      0.02,
		types.CategorySecurity:       0.20,
		types.CategoryInnovation:     0.04,
	}
}

// DefaultConfig returns the default treasury configuration.
func DefaultConfig() Config {
	return Config{
		VotingEpochs:    2,
		PassThreshold:   0.5,
		CommunityWeight: 0.7,
		AIWeight:        0.3,
		QuorumPower:     100,
		CategoryCaps:    DefaultCategoryCaps(),
		Curator: CuratorConfig{
			Timeout:             5 * time.Second,
			ConsecutiveFailures: 3,
			OpenTimeout:         time.Minute,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.VotingEpochs == 0 {
		return fmt.Errorf("treasury voting epochs must be >= 1")
	}
	if c.PassThreshold <= 0 || c.PassThreshold > 1 {
		return fmt.Errorf("treasury pass threshold must be in (0, 1]")
	}
	if c.CommunityWeight < 0 || c.AIWeight < 0 || c.CommunityWeight+c.AIWeight > 1+1e-9 {
		return fmt.Errorf("treasury weights must be non-negative and sum to at most 1")
	}
	if c.QuorumPower < 0 {
		return fmt.Errorf("treasury quorum power must be non-negative")
	}
	for _, cat := range []types.FundingCategory{
		types.CategoryResearch, types.CategoryInfrastructure, types.CategoryCommunity,
		types.CategorySecurity, types.CategoryInnovation,
	} {
		share, ok := c.CategoryCaps[cat]
		if !ok {
			return fmt.Errorf("missing allocation cap for category %s", cat)
		}
		if share <= 0 || share > 1 {
			return fmt.Errorf("allocation cap for %s must be in (0, 1]", cat)
		}
	}
	if c.Curator.Timeout <= 0 {
		return fmt.Errorf("curator timeout must be positive")
	}
	if c.Curator.ConsecutiveFailures == 0 {
		return fmt.Errorf("curator consecutive failures must be >= 1")
	}
	return nil
}
