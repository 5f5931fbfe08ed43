package sybil

import (
	"fmt"
	"time"

	"cosmossdk.io/log"

	"github.com/paw-chain/poc/types"
)

// Config configures the analyzer.
type Config struct {
	Graph GraphConfig `mapstructure:"graph" json:"graph"`
	// RejectThreshold is the risk at or above which submissions are rejected.
	RejectThreshold float64 `mapstructure:"reject_threshold" json:"reject_threshold"`
	// Retention drops addresses idle for longer than this on Prune.
	Retention time.Duration `mapstructure:"retention" json:"retention"`
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		Graph:           DefaultGraphConfig(),
		RejectThreshold: 0.8,
		Retention:       7 * 24 * time.Hour,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.RejectThreshold <= 0 || c.RejectThreshold > 1 {
		return fmt.Errorf("sybil reject threshold must be in (0,1]")
	}
	if c.Graph.TopK < 1 {
		return fmt.Errorf("sybil top_k must be >= 1")
	}
	if c.Graph.ClusterThreshold <= 0 || c.Graph.ClusterThreshold > 1 {
		return fmt.Errorf("sybil cluster threshold must be in (0,1]")
	}
	if c.Graph.MaxNodes < 2 || c.Graph.MaxBucket < 1 || c.Graph.MaxRecent < 1 {
		return fmt.Errorf("sybil graph bounds must be positive")
	}
	return nil
}

// Result is the sybil assessment of one submission.
type Result struct {
	Risk    float64
	Cluster []types.Address
}

// Analyzer scores submissions against the co-submission graph.
type Analyzer struct {
	config  Config
	graph   *Graph
	logger  log.Logger
	metrics *Metrics
}

// NewAnalyzer creates an analyzer with an empty graph.
func NewAnalyzer(config Config, logger log.Logger) (*Analyzer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sybil config: %w", err)
	}
	return &Analyzer{
		config:  config,
		graph:   NewGraph(config.Graph),
		logger:  logger.With("module", "sybil"),
		metrics: NewMetrics(),
	}, nil
}

// Graph exposes the underlying co-submission graph.
func (a *Analyzer) Graph() *Graph { return a.graph }

// Analyze records the submission in the graph and scores its submitter.
// Every analyzed submission is observed, including ones rejected here, so
// repeated coordinated attempts keep strengthening their links.
func (a *Analyzer) Analyze(sub types.ContributionSubmission) (Result, error) {
	risk := a.graph.Observe(ObservationFor(sub))
	res := Result{Risk: risk, Cluster: a.graph.ClusterOf(sub.Submitter)}

	a.metrics.Risk.Observe(risk)
	a.metrics.Clusters.Set(float64(a.graph.Clusters().Len()))

	if risk >= a.config.RejectThreshold {
		a.metrics.Rejections.Inc()
		a.logger.Info("sybil risk above threshold",
			"contribution_id", sub.ID,
			"submitter", sub.Submitter,
			"risk", risk,
			"cluster_size", len(res.Cluster),
		)
		return res, types.ErrSybilSuspected.Wrapf("risk %.3f >= %.3f", risk, a.config.RejectThreshold)
	}
	return res, nil
}

// InCluster reports whether addr shares a detected cluster with another address.
func (a *Analyzer) InCluster(addr types.Address) bool {
	return len(a.graph.ClusterOf(addr)) > 1
}

// ClusterOf returns addr's cluster members, nil when unclustered.
func (a *Analyzer) ClusterOf(addr types.Address) []types.Address {
	return a.graph.ClusterOf(addr)
}

// Prune drops addresses idle longer than the retention window.
func (a *Analyzer) Prune(now time.Time) int {
	n := a.graph.Prune(now.Add(-a.config.Retention))
	a.metrics.Nodes.Set(float64(a.graph.Len()))
	if n > 0 {
		a.logger.Debug("pruned sybil graph", "dropped", n)
	}
	return n
}

// PeerMultiplier discounts attestation agreement by sybil risk, mapping into
// [0.9, 1.2].
func PeerMultiplier(agreement, risk float64) float64 {
	agreement = clamp01(agreement)
	risk = clamp01(risk)
	return 0.9 + 0.3*agreement*(1-risk)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
