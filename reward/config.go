package reward

import (
	"fmt"
	"math"

	"github.com/paw-chain/poc/types"
)

// Range bounds one multiplier.
type Range struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

// Clamp restricts v to the range. NaN maps to Min.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return r.Min
	}
	return math.Max(r.Min, math.Min(r.Max, v))
}

func (r Range) validate(name string) error {
	if r.Min < 0 || r.Max < r.Min || math.IsInf(r.Max, 0) {
		return fmt.Errorf("%s multiplier range [%v, %v] is invalid", name, r.Min, r.Max)
	}
	return nil
}

// Ranges bounds every multiplier.
type Ranges struct {
	Quality    Range `mapstructure:"quality" json:"quality"`
	Reputation Range `mapstructure:"reputation" json:"reputation"`
	Novelty    Range `mapstructure:"novelty" json:"novelty"`
	Peer       Range `mapstructure:"peer" json:"peer"`
	Demand     Range `mapstructure:"demand" json:"demand"`
	Pricing    Range `mapstructure:"pricing" json:"pricing"`
}

// Config configures the reward engine.
type Config struct {
	// BaseRewards are token units per contribution type.
	BaseRewards map[types.ContributionType]float64 `mapstructure:"-" json:"base_rewards"`
	Ranges      Ranges                             `mapstructure:"ranges" json:"ranges"`
	// TreasuryFeeBps is the share of each reward deposited to the treasury.
	TreasuryFeeBps uint32 `mapstructure:"treasury_fee_bps" json:"treasury_fee_bps"`
}

// DefaultBaseRewards returns the per-type base reward table.
func DefaultBaseRewards() map[types.ContributionType]float64 {
	return map[types.ContributionType]float64{
		types.ContributionMLTraining:              1.0,
		types.ContributionInferenceServing:        0.5,
		types.ContributionDataValidation:          0.25,
		types.ContributionModelOptimization:       1.5,
		types.ContributionNetworkMaintenance:      0.75,
		types.ContributionGovernanceParticipation: 0.1,
		types.ContributionCrossPlatformCompute:    2.0,
		types.ContributionStorageProvision:        0.3,
		types.ContributionGenerativeMedia:         0.8,
		types.ContributionSymbolicMath:            1.2,
		types.ContributionSimulation:              1.0,
		types.ContributionMediaGeneration:         0.8,
	}
}

// DefaultDemand returns the per-type network demand signal. Types not listed
// have a neutral demand of 1.0.
func DefaultDemand() map[types.ContributionType]float64 {
	return map[types.ContributionType]float64{
		types.ContributionMLTraining:              1.5,
		types.ContributionInferenceServing:        1.8,
		types.ContributionDataValidation:          1.2,
		types.ContributionModelOptimization:       1.6,
		types.ContributionNetworkMaintenance:      2.0,
		types.ContributionGovernanceParticipation: 1.1,
		types.ContributionCrossPlatformCompute:    1.9,
		types.ContributionStorageProvision:        1.3,
		types.ContributionGenerativeMedia:         1.4,
		types.ContributionSymbolicMath:            1.7,
	}
}

// DefaultConfig returns the default reward configuration.
func DefaultConfig() Config {
	return Config{
		BaseRewards: DefaultBaseRewards(),
		Ranges: Ranges{
			Quality:    Range{Min: 0.5, Max: 2.0},
			Reputation: Range{Min: 0.8, Max: 2.5},
			Novelty:    Range{Min: 0.0, Max: 1.5},
			Peer:       Range{Min: 0.9, Max: 1.2},
			Demand:     Range{Min: 0.5, Max: 2.0},
			Pricing:    Range{Min: 0.5, Max: 2.0},
		},
		TreasuryFeeBps: 100,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	for t, base := range c.BaseRewards {
		if !t.IsValid() {
			return fmt.Errorf("base reward for unknown contribution type %d", t)
		}
		if base < 0 || math.IsNaN(base) || math.IsInf(base, 0) {
			return fmt.Errorf("base reward for %s must be a non-negative number", t)
		}
	}
	r := c.Ranges
	for name, rng := range map[string]Range{
		"quality": r.Quality, "reputation": r.Reputation, "novelty": r.Novelty,
		"peer": r.Peer, "demand": r.Demand, "pricing": r.Pricing,
	} {
		if err := rng.validate(name); err != nil {
			return err
		}
	}
	if c.TreasuryFeeBps > 10_000 {
		return fmt.Errorf("treasury fee %d bps exceeds 100%%", c.TreasuryFeeBps)
	}
	return nil
}
