package types

// Reputation defaults applied to addresses without history
const (
	DefaultConsistency = 0.5
	DefaultExpertise   = 0.3
	DefaultPeerTrust   = 0.5
	MaxPeerTrust       = 1.0
)

// ReputationScore is the multi-dimensional trust record of one address.
type ReputationScore struct {
	Address          Address                      `json:"address"`
	Consistency      float64                      `json:"consistency"`
	Expertise        map[ContributionType]float64 `json:"expertise"`
	PeerTrust        float64                      `json:"peer_trust"`
	PeerTrustCeiling float64                      `json:"peer_trust_ceiling"`
	LastUpdatedEpoch uint64                       `json:"last_updated_epoch"`

	Contributions uint64  `json:"contributions"`
	Rejections    uint64  `json:"rejections"`
	Penalties     uint64  `json:"penalties"`
	QualitySum    float64 `json:"quality_sum"`
}

// NewReputationScore returns the starting record for an address.
func NewReputationScore(addr Address) ReputationScore {
	return ReputationScore{
		Address:          addr,
		Consistency:      DefaultConsistency,
		Expertise:        make(map[ContributionType]float64),
		PeerTrust:        DefaultPeerTrust,
		PeerTrustCeiling: MaxPeerTrust,
	}
}

// ExpertiseFor returns the expertise for t, falling back to the default.
func (r ReputationScore) ExpertiseFor(t ContributionType) float64 {
	if v, ok := r.Expertise[t]; ok {
		return v
	}
	return DefaultExpertise
}

// AverageQuality is the mean verified quality across accepted contributions.
func (r ReputationScore) AverageQuality() float64 {
	if r.Contributions == 0 {
		return 0
	}
	return r.QualitySum / float64(r.Contributions)
}

// Clone deep copies the expertise map.
func (r ReputationScore) Clone() ReputationScore {
	out := r
	out.Expertise = make(map[ContributionType]float64, len(r.Expertise))
	for k, v := range r.Expertise {
		out.Expertise[k] = v
	}
	return out
}

// OutcomeKind classifies a validation outcome for reputation purposes.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota + 1
	OutcomeRejected
	// OutcomeBadFaith is a rejection for sybil or duplicate submission.
	OutcomeBadFaith
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeBadFaith:
		return "bad_faith"
	default:
		return "unknown"
	}
}

// Outcome is the input of a reputation update.
type Outcome struct {
	Kind             OutcomeKind
	ContributionType ContributionType
	Quality          float64
	Agreement        float64
}
