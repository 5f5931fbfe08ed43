package novelty

import (
	"fmt"

	"cosmossdk.io/log"

	"github.com/paw-chain/poc/types"
)

// Bounds define how a novelty score maps to a multiplier. Novelty is one
// minus the highest similarity to an indexed entry.
type Bounds struct {
	// Floor is the hard rejection threshold; scores below it are duplicates.
	Floor float64 `mapstructure:"floor" json:"floor"`
	// FullyNovel is the score at and above which the multiplier is 1.
	FullyNovel float64 `mapstructure:"fully_novel" json:"fully_novel"`
}

// Validate checks 0 <= Floor < FullyNovel <= 1.
func (b Bounds) Validate() error {
	if b.Floor < 0 || b.FullyNovel > 1 || b.Floor >= b.FullyNovel {
		return fmt.Errorf("novelty bounds must satisfy 0 <= floor < fully_novel <= 1, got %v/%v", b.Floor, b.FullyNovel)
	}
	return nil
}

// Config configures the scorer.
type Config struct {
	WindowSize int                               `mapstructure:"window_size" json:"window_size"`
	Default    Bounds                            `mapstructure:"default" json:"default"`
	PerType    map[types.ContributionType]Bounds `mapstructure:"-" json:"per_type,omitempty"`
}

// DefaultConfig returns the default novelty configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize: 1024,
		Default:    Bounds{Floor: 0.1, FullyNovel: 0.9},
		PerType:    map[types.ContributionType]Bounds{},
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("novelty window size must be positive")
	}
	if err := c.Default.Validate(); err != nil {
		return err
	}
	for t, b := range c.PerType {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
	}
	return nil
}

// BoundsFor returns the bounds for a contribution type.
func (c Config) BoundsFor(t types.ContributionType) Bounds {
	if b, ok := c.PerType[t]; ok {
		return b
	}
	return c.Default
}

// Multiplier linearly interpolates novelty between the floor (0) and the
// fully novel bound (1). Scores below the floor are duplicates.
func Multiplier(score float64, b Bounds) (float64, error) {
	if score < b.Floor {
		return 0, types.ErrDuplicateContribution.Wrapf("novelty %.4f below floor %.4f", score, b.Floor)
	}
	m := (score - b.Floor) / (b.FullyNovel - b.Floor)
	if m > 1 {
		m = 1
	}
	return m, nil
}

// Result is the outcome of scoring one submission.
type Result struct {
	Score      float64
	Multiplier float64
	Closest    Match
	Sketch     Sketch
}

// Scorer scores submissions against per-type indexes.
type Scorer struct {
	config  Config
	indexes map[types.ContributionType]*Index
	logger  log.Logger
	metrics *Metrics
}

// NewScorer creates a scorer with one index per contribution type.
func NewScorer(config Config, logger log.Logger) (*Scorer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid novelty config: %w", err)
	}
	s := &Scorer{
		config:  config,
		indexes: make(map[types.ContributionType]*Index),
		logger:  logger.With("module", "novelty"),
		metrics: NewMetrics(),
	}
	for _, t := range types.AllContributionTypes() {
		s.indexes[t] = NewIndex(config.WindowSize)
	}
	return s, nil
}

// Score compares a submission with the recent window of its type. It does
// not modify the index.
func (s *Scorer) Score(sub types.ContributionSubmission) (Result, error) {
	idx, ok := s.indexes[sub.ContributionType]
	if !ok {
		return Result{}, types.ErrInvalidSubmission.Wrapf("unknown contribution type %d", int(sub.ContributionType))
	}

	sketch := NewSketch(sub.Payload, sub.PayloadFingerprint)
	closest := idx.Snapshot().MostSimilar(sub.PayloadFingerprint, sketch)
	score := 1 - closest.Similarity

	s.metrics.Scores.WithLabelValues(sub.ContributionType.String()).Observe(score)

	mult, err := Multiplier(score, s.config.BoundsFor(sub.ContributionType))
	if err != nil {
		s.metrics.Duplicates.WithLabelValues(sub.ContributionType.String()).Inc()
		s.logger.Info("duplicate contribution",
			"contribution_id", sub.ID,
			"closest", closest.ID,
			"similarity", closest.Similarity,
		)
		return Result{Score: score, Closest: closest, Sketch: sketch}, err
	}
	return Result{Score: score, Multiplier: mult, Closest: closest, Sketch: sketch}, nil
}

// Record appends an accepted submission to its type's window.
func (s *Scorer) Record(sub types.ContributionSubmission, sketch Sketch) {
	idx, ok := s.indexes[sub.ContributionType]
	if !ok {
		return
	}
	idx.Append(Entry{ID: sub.ID, Fingerprint: sub.PayloadFingerprint, Sketch: sketch})
	s.metrics.IndexSize.WithLabelValues(sub.ContributionType.String()).Set(float64(idx.Snapshot().Len()))
}
