// Package reputation keeps the per-address trust record: consistency,
// per-type expertise and peer trust, decayed lazily per epoch and updated
// with optimistic concurrency.
package reputation

import (
	"context"
	"math"
	"sort"

	"cosmossdk.io/log"

	"github.com/paw-chain/poc/types"
)

// Composite weights
const (
	WeightConsistency = 0.40
	WeightExpertise   = 0.35
	WeightPeerTrust   = 0.25
)

// Store persists versioned reputation records.
type Store interface {
	GetReputation(ctx context.Context, addr types.Address) (types.ReputationScore, uint64, error)
	CompareAndSwapReputation(ctx context.Context, addr types.Address, expected uint64, score types.ReputationScore) (bool, error)
	IterateReputations(ctx context.Context, fn func(types.ReputationScore) bool) error
}

// Ledger is the reputation ledger. It holds no per-address state of its own;
// every read-modify-write goes through the store's compare-and-swap.
type Ledger struct {
	config  Config
	store   Store
	logger  log.Logger
	metrics *Metrics
}

// NewLedger creates a ledger over store.
func NewLedger(config Config, store Store, logger log.Logger) (*Ledger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		config:  config,
		store:   store,
		logger:  logger.With("module", "reputation"),
		metrics: NewMetrics(),
	}, nil
}

// Read returns the score of addr as seen at epoch. Addresses without history
// get the defaults. Decay is applied on the fly and never written back.
func (l *Ledger) Read(ctx context.Context, addr types.Address, epoch uint64) (types.ReputationScore, error) {
	stored, version, err := l.store.GetReputation(ctx, addr)
	if err != nil {
		return types.ReputationScore{}, err
	}
	if version == 0 {
		fresh := types.NewReputationScore(addr)
		fresh.LastUpdatedEpoch = epoch
		return fresh, nil
	}
	if epoch <= stored.LastUpdatedEpoch {
		return stored, nil
	}
	return Decay(stored, epoch-stored.LastUpdatedEpoch, l.config.DecayFactor, l.config.Floor), nil
}

// Update applies outcome to addr at epoch and returns the new score. Writes
// older than the stored epoch fail with ErrStaleEpoch; a write that keeps
// losing the version race fails with ErrReputationConflict.
func (l *Ledger) Update(ctx context.Context, addr types.Address, epoch uint64, outcome types.Outcome) (types.ReputationScore, error) {
	if err := addr.Validate(); err != nil {
		return types.ReputationScore{}, types.ErrInvalidSubmission.Wrapf("reputation address: %s", err)
	}
	switch outcome.Kind {
	case types.OutcomeAccepted, types.OutcomeRejected, types.OutcomeBadFaith:
	default:
		return types.ReputationScore{}, types.ErrInvalidSubmission.Wrapf("unknown outcome kind %d", outcome.Kind)
	}

	score, err := l.modify(ctx, addr, epoch, func(cur *types.ReputationScore) {
		l.apply(cur, outcome)
	})
	if err != nil {
		return types.ReputationScore{}, err
	}

	l.metrics.Updates.WithLabelValues(outcome.Kind.String()).Inc()
	l.metrics.Composite.Observe(Overall(score))
	if outcome.Kind == types.OutcomeBadFaith {
		l.logger.Info("bad faith penalty applied",
			"address", addr,
			"type", outcome.ContributionType,
			"consistency", score.Consistency,
			"peer_trust", score.PeerTrust,
		)
	}
	return score, nil
}

// CapCluster lowers the peer trust ceiling of every member to the configured
// cluster cap. It returns the number of members whose ceiling changed.
func (l *Ledger) CapCluster(ctx context.Context, members []types.Address, epoch uint64) (int, error) {
	limit := l.config.ClusterTrustCap
	capped := 0
	for _, addr := range members {
		changed := false
		_, err := l.modify(ctx, addr, epoch, func(cur *types.ReputationScore) {
			changed = cur.PeerTrustCeiling > limit
			if changed {
				cur.PeerTrustCeiling = limit
			}
			cur.PeerTrust = math.Min(cur.PeerTrust, cur.PeerTrustCeiling)
		})
		if err != nil {
			return capped, err
		}
		if changed {
			capped++
			l.metrics.Capped.Inc()
		}
	}
	if capped > 0 {
		l.logger.Info("capped sybil cluster peer trust", "members", len(members), "capped", capped, "ceiling", limit)
	}
	return capped, nil
}

// modify runs a decay-then-mutate cycle under the store's compare-and-swap,
// retrying while another writer wins the race.
func (l *Ledger) modify(ctx context.Context, addr types.Address, epoch uint64, mutate func(*types.ReputationScore)) (types.ReputationScore, error) {
	for attempt := 0; attempt < l.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return types.ReputationScore{}, err
		}
		stored, version, err := l.store.GetReputation(ctx, addr)
		if err != nil {
			return types.ReputationScore{}, err
		}

		var cur types.ReputationScore
		switch {
		case version == 0:
			cur = types.NewReputationScore(addr)
		case epoch < stored.LastUpdatedEpoch:
			return types.ReputationScore{}, types.ErrStaleEpoch.Wrapf(
				"%s: update at epoch %d, last updated at %d", addr, epoch, stored.LastUpdatedEpoch)
		default:
			cur = Decay(stored, epoch-stored.LastUpdatedEpoch, l.config.DecayFactor, l.config.Floor)
		}

		mutate(&cur)
		cur.LastUpdatedEpoch = epoch
		l.clampAll(&cur)

		ok, err := l.store.CompareAndSwapReputation(ctx, addr, version, cur)
		if err != nil {
			return types.ReputationScore{}, err
		}
		if ok {
			return cur, nil
		}
		l.metrics.Conflicts.Inc()
	}
	return types.ReputationScore{}, types.ErrReputationConflict.Wrapf("%s after %d attempts", addr, l.config.MaxRetries)
}

func (l *Ledger) apply(cur *types.ReputationScore, o types.Outcome) {
	c := l.config
	switch o.Kind {
	case types.OutcomeAccepted:
		quality := clamp(o.Quality, 0, 1)
		cur.Consistency += c.ConsistencyStep
		cur.Expertise[o.ContributionType] = cur.ExpertiseFor(o.ContributionType) + c.ExpertiseStep*quality
		cur.PeerTrust = (1-c.TrustAlpha)*cur.PeerTrust + c.TrustAlpha*clamp(o.Agreement, 0, 1)
		cur.Contributions++
		cur.QualitySum += quality
	case types.OutcomeRejected:
		cur.Consistency -= c.RejectPenalty
		cur.Rejections++
	case types.OutcomeBadFaith:
		cur.Consistency -= c.BadFaith.Consistency
		cur.PeerTrust -= c.BadFaith.PeerTrust
		cur.Expertise[o.ContributionType] = cur.ExpertiseFor(o.ContributionType) - c.BadFaith.Expertise
		cur.Rejections++
		cur.Penalties++
	}
}

// clampAll keeps every dimension within [floor, 1] and peer trust under its
// ceiling.
func (l *Ledger) clampAll(s *types.ReputationScore) {
	floor := l.config.Floor
	if s.PeerTrustCeiling <= 0 {
		s.PeerTrustCeiling = types.MaxPeerTrust
	}
	s.Consistency = clamp(s.Consistency, floor, 1)
	s.PeerTrust = clamp(s.PeerTrust, floor, math.Max(floor, s.PeerTrustCeiling))
	for t, v := range s.Expertise {
		s.Expertise[t] = clamp(v, floor, 1)
	}
}

// Decay scales every dimension by factor^elapsed, never below floor.
func Decay(s types.ReputationScore, elapsed uint64, factor, floor float64) types.ReputationScore {
	out := s.Clone()
	if elapsed == 0 {
		return out
	}
	k := math.Pow(factor, float64(elapsed))
	out.Consistency = math.Max(floor, s.Consistency*k)
	out.PeerTrust = math.Max(floor, s.PeerTrust*k)
	for t, v := range s.Expertise {
		out.Expertise[t] = math.Max(floor, v*k)
	}
	return out
}

// Composite is the weighted score used for the reward reputation multiplier.
func Composite(s types.ReputationScore, t types.ContributionType) float64 {
	return WeightConsistency*clamp(s.Consistency, 0, 1) +
		WeightExpertise*clamp(s.ExpertiseFor(t), 0, 1) +
		WeightPeerTrust*clamp(s.PeerTrust, 0, 1)
}

// Overall is the composite over mean expertise, used for ranking.
func Overall(s types.ReputationScore) float64 {
	expertise := types.DefaultExpertise
	if len(s.Expertise) > 0 {
		sum := 0.0
		for _, v := range s.Expertise {
			sum += v
		}
		expertise = sum / float64(len(s.Expertise))
	}
	return WeightConsistency*clamp(s.Consistency, 0, 1) +
		WeightExpertise*clamp(expertise, 0, 1) +
		WeightPeerTrust*clamp(s.PeerTrust, 0, 1)
}

// Top returns the n addresses with the highest overall score at epoch.
func (l *Ledger) Top(ctx context.Context, n int, epoch uint64) ([]types.ReputationScore, error) {
	var all []types.ReputationScore
	err := l.store.IterateReputations(ctx, func(s types.ReputationScore) bool {
		all = append(all, l.decayTo(s, epoch))
		return false
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		oi, oj := Overall(all[i]), Overall(all[j])
		if oi != oj {
			return oi > oj
		}
		return all[i].Address < all[j].Address
	})
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all, nil
}

// Stats summarizes the ledger
type Stats struct {
	Addresses      int            `json:"addresses"`
	AverageScore   float64        `json:"average_score"`
	AverageQuality float64        `json:"average_quality"`
	ClusterCapped  int            `json:"cluster_capped"`
	Contributions  uint64         `json:"contributions"`
	Rejections     uint64         `json:"rejections"`
	Penalties      uint64         `json:"penalties"`
	Distribution   map[string]int `json:"distribution"`
}

// Stats aggregates every stored score as seen at epoch.
func (l *Ledger) Stats(ctx context.Context, epoch uint64) (Stats, error) {
	stats := Stats{Distribution: make(map[string]int)}
	var scoreSum, qualitySum float64

	err := l.store.IterateReputations(ctx, func(s types.ReputationScore) bool {
		s = l.decayTo(s, epoch)
		o := Overall(s)
		stats.Addresses++
		scoreSum += o
		qualitySum += s.QualitySum
		stats.Contributions += s.Contributions
		stats.Rejections += s.Rejections
		stats.Penalties += s.Penalties
		if s.PeerTrustCeiling < types.MaxPeerTrust {
			stats.ClusterCapped++
		}

		switch {
		case o < 0.2:
			stats.Distribution["0.0-0.2"]++
		case o < 0.4:
			stats.Distribution["0.2-0.4"]++
		case o < 0.6:
			stats.Distribution["0.4-0.6"]++
		case o < 0.8:
			stats.Distribution["0.6-0.8"]++
		default:
			stats.Distribution["0.8-1.0"]++
		}
		return false
	})
	if err != nil {
		return Stats{}, err
	}

	if stats.Addresses > 0 {
		stats.AverageScore = scoreSum / float64(stats.Addresses)
	}
	if stats.Contributions > 0 {
		stats.AverageQuality = qualitySum / float64(stats.Contributions)
	}
	return stats, nil
}

func (l *Ledger) decayTo(s types.ReputationScore, epoch uint64) types.ReputationScore {
	if epoch <= s.LastUpdatedEpoch {
		return s
	}
	return Decay(s, epoch-s.LastUpdatedEpoch, l.config.DecayFactor, l.config.Floor)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
