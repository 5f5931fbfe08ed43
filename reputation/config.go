package reputation

import (
	"fmt"
)

// Config tunes decay, outcome deltas and cluster caps.
type Config struct {
	// Lazy decay applied per elapsed epoch on read
	DecayFactor float64 `mapstructure:"decay_factor" json:"decay_factor"`
	Floor       float64 `mapstructure:"floor" json:"floor"`

	// Accepted contribution deltas
	ConsistencyStep float64 `mapstructure:"consistency_step" json:"consistency_step"` // k1
	ExpertiseStep   float64 `mapstructure:"expertise_step" json:"expertise_step"`     // k2, scaled by quality
	TrustAlpha      float64 `mapstructure:"trust_alpha" json:"trust_alpha"`           // EMA weight of the agreement ratio

	// Penalties
	RejectPenalty float64         `mapstructure:"reject_penalty" json:"reject_penalty"`
	BadFaith      BadFaithPenalty `mapstructure:"bad_faith" json:"bad_faith"`

	// ClusterTrustCap is the peer trust ceiling of sybil cluster members.
	ClusterTrustCap float64 `mapstructure:"cluster_trust_cap" json:"cluster_trust_cap"`

	// MaxRetries bounds optimistic write attempts per update.
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
}

// BadFaithPenalty is subtracted for sybil or duplicate rejections.
type BadFaithPenalty struct {
	Consistency float64 `mapstructure:"consistency" json:"consistency"`
	PeerTrust   float64 `mapstructure:"peer_trust" json:"peer_trust"`
	Expertise   float64 `mapstructure:"expertise" json:"expertise"`
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		DecayFactor:     0.95,
		Floor:           0.05,
		ConsistencyStep: 0.05,
		ExpertiseStep:   0.1,
		TrustAlpha:      0.2,
		RejectPenalty:   0.02,
		BadFaith: BadFaithPenalty{
			Consistency: 0.1,
			PeerTrust:   0.1,
			Expertise:   0.05,
		},
		ClusterTrustCap: 0.3,
		MaxRetries:      64,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		return fmt.Errorf("reputation decay factor must be in (0, 1]")
	}
	if c.Floor <= 0 || c.Floor >= 1 {
		return fmt.Errorf("reputation floor must be in (0, 1)")
	}
	if c.TrustAlpha < 0 || c.TrustAlpha > 1 {
		return fmt.Errorf("reputation trust alpha must be between 0 and 1")
	}
	if c.ConsistencyStep < 0 || c.ExpertiseStep < 0 {
		return fmt.Errorf("reputation steps must be non-negative")
	}
	if c.RejectPenalty < 0 || c.BadFaith.Consistency < 0 || c.BadFaith.PeerTrust < 0 || c.BadFaith.Expertise < 0 {
		return fmt.Errorf("reputation penalties must be non-negative")
	}
	if c.BadFaith.Consistency < c.RejectPenalty {
		return fmt.Errorf("bad faith consistency penalty (%v) must not be smaller than the reject penalty (%v)",
			c.BadFaith.Consistency, c.RejectPenalty)
	}
	if c.ClusterTrustCap < c.Floor || c.ClusterTrustCap > 1 {
		return fmt.Errorf("cluster trust cap must be between the floor and 1")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("reputation max retries must be >= 1")
	}
	return nil
}
