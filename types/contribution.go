package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strings"
	"time"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// ContributionType identifies the kind of work a submission claims.
type ContributionType int

const (
	ContributionUnknown ContributionType = iota
	ContributionMLTraining
	ContributionInferenceServing
	ContributionDataValidation
	ContributionModelOptimization
	ContributionNetworkMaintenance
	ContributionGovernanceParticipation
	ContributionCrossPlatformCompute
	ContributionStorageProvision
	ContributionGenerativeMedia
	ContributionSymbolicMath
	ContributionSimulation
	ContributionMediaGeneration
)

var contributionTypeNames = map[ContributionType]string{
	ContributionMLTraining:              "ml_training",
	ContributionInferenceServing:        "inference_serving",
	ContributionDataValidation:          "data_validation",
	ContributionModelOptimization:       "model_optimization",
	ContributionNetworkMaintenance:      "network_maintenance",
	ContributionGovernanceParticipation: "governance_participation",
	ContributionCrossPlatformCompute:    "cross_platform_compute",
	ContributionStorageProvision:        "storage_provision",
	ContributionGenerativeMedia:         "generative_media",
	ContributionSymbolicMath:            "symbolic_math",
	ContributionSimulation:              "simulation",
	ContributionMediaGeneration:         "media_generation",
}

// AllContributionTypes lists every known contribution type in declaration order.
func AllContributionTypes() []ContributionType {
	out := make([]ContributionType, 0, len(contributionTypeNames))
	for t := ContributionMLTraining; t <= ContributionMediaGeneration; t++ {
		out = append(out, t)
	}
	return out
}

func (t ContributionType) String() string {
	if name, ok := contributionTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether t is a known contribution type.
func (t ContributionType) IsValid() bool {
	_, ok := contributionTypeNames[t]
	return ok
}

// ParseContributionType resolves the text form of a contribution type.
func ParseContributionType(s string) (ContributionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range contributionTypeNames {
		if name == s {
			return t, nil
		}
	}
	return ContributionUnknown, fmt.Errorf("unknown contribution type %q", s)
}

func (t ContributionType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid contribution type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *ContributionType) UnmarshalText(text []byte) error {
	parsed, err := ParseContributionType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Address is a bech32 encoded participant address.
type Address string

// NewAddress encodes raw account bytes under the participant prefix.
func NewAddress(bz []byte) (Address, error) {
	s, err := bech32.ConvertAndEncode(AddressPrefix, bz)
	if err != nil {
		return "", err
	}
	return Address(s), nil
}

// MustNewAddress is NewAddress for fixtures and constants.
func MustNewAddress(bz []byte) Address {
	addr, err := NewAddress(bz)
	if err != nil {
		panic(err)
	}
	return addr
}

// Validate checks the bech32 prefix and payload of the address.
func (a Address) Validate() error {
	if a == "" {
		return fmt.Errorf("empty address")
	}
	hrp, bz, err := bech32.DecodeAndConvert(string(a))
	if err != nil {
		return fmt.Errorf("invalid bech32 address %q: %w", a, err)
	}
	if hrp != AddressPrefix {
		return fmt.Errorf("invalid address prefix %q, expected %q", hrp, AddressPrefix)
	}
	if len(bz) == 0 || len(bz) > 32 {
		return fmt.Errorf("invalid address length %d", len(bz))
	}
	return nil
}

func (a Address) String() string { return string(a) }

// Hash is a 32 byte content digest.
type Hash [32]byte

// HashPayload fingerprints raw work output.
func HashPayload(payload []byte) Hash {
	return Hash(blake3.Sum256(payload))
}

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h[:])), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	bz, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	if len(bz) != len(h) {
		return fmt.Errorf("invalid hash length %d", len(bz))
	}
	copy(h[:], bz)
	return nil
}

// ProofScheme names a zero-knowledge proving system.
type ProofScheme string

const (
	SchemeGroth16 ProofScheme = "groth16"
	SchemePlonk   ProofScheme = "plonk"
	SchemeStark   ProofScheme = "stark"
)

// ZkProof is the opaque proof attached to a submission.
type ZkProof struct {
	Scheme       ProofScheme `json:"scheme"`
	ProofBytes   []byte      `json:"proof_bytes"`
	PublicInputs []byte      `json:"public_inputs"`
}

// SubmissionMetadata carries the signals used for sybil correlation and workload scoring.
type SubmissionMetadata struct {
	DeviceID    string             `json:"device_id,omitempty"`
	StakeParent Address            `json:"stake_parent,omitempty"`
	SourceIP    string             `json:"source_ip,omitempty"`
	Workload    map[string]float64 `json:"workload,omitempty"`
	// ReceivedAt is stamped by the node at intake and drives sybil timing.
	ReceivedAt time.Time `json:"received_at"`
}

// ContributionSubmission is a contributor's claim of completed work.
type ContributionSubmission struct {
	ID                 uuid.UUID          `json:"id"`
	Submitter          Address            `json:"submitter"`
	ContributionType   ContributionType   `json:"contribution_type"`
	PayloadFingerprint Hash               `json:"payload_fingerprint"`
	Payload            []byte             `json:"payload,omitempty"`
	Proof              ZkProof            `json:"proof"`
	DeclaredQuality    float64            `json:"declared_quality"`
	Timestamp          time.Time          `json:"timestamp"`
	Metadata           SubmissionMetadata `json:"metadata"`
}

// MaxPayloadSize bounds the optional work sample used for near-duplicate detection.
const MaxPayloadSize = 1 << 20

// ValidateBasic performs stateless checks on the submission.
func (s ContributionSubmission) ValidateBasic() error {
	if s.ID == uuid.Nil {
		return ErrInvalidSubmission.Wrap("missing submission id")
	}
	if err := s.Submitter.Validate(); err != nil {
		return ErrInvalidSubmission.Wrapf("submitter: %s", err)
	}
	if !s.ContributionType.IsValid() {
		return ErrInvalidSubmission.Wrapf("unknown contribution type %d", int(s.ContributionType))
	}
	if s.PayloadFingerprint.IsZero() {
		return ErrInvalidSubmission.Wrap("missing payload fingerprint")
	}
	if len(s.Payload) > MaxPayloadSize {
		return ErrInvalidSubmission.Wrapf("payload of %d bytes exceeds %d", len(s.Payload), MaxPayloadSize)
	}
	if len(s.Payload) > 0 && HashPayload(s.Payload) != s.PayloadFingerprint {
		return ErrInvalidSubmission.Wrap("payload does not match fingerprint")
	}
	if math.IsNaN(s.DeclaredQuality) || s.DeclaredQuality < 0 || s.DeclaredQuality > 1 {
		return ErrInvalidSubmission.Wrapf("declared quality %v outside [0,1]", s.DeclaredQuality)
	}
	if s.Proof.Scheme == "" || len(s.Proof.ProofBytes) == 0 {
		return ErrInvalidSubmission.Wrap("missing proof")
	}
	if s.Timestamp.IsZero() {
		return ErrInvalidSubmission.Wrap("missing timestamp")
	}
	if s.Metadata.StakeParent != "" {
		if err := s.Metadata.StakeParent.Validate(); err != nil {
			return ErrInvalidSubmission.Wrapf("stake parent: %s", err)
		}
	}
	return nil
}

// SameContent reports whether two submissions carry the same claim. The
// correlation metadata a submitter declares is part of the claim; the
// connection facts stamped at intake are not.
func (s ContributionSubmission) SameContent(o ContributionSubmission) bool {
	return s.ID == o.ID &&
		s.Submitter == o.Submitter &&
		s.ContributionType == o.ContributionType &&
		s.PayloadFingerprint == o.PayloadFingerprint &&
		s.Proof.Scheme == o.Proof.Scheme &&
		bytes.Equal(s.Proof.ProofBytes, o.Proof.ProofBytes) &&
		s.Metadata.DeviceID == o.Metadata.DeviceID &&
		s.Metadata.StakeParent == o.Metadata.StakeParent &&
		maps.Equal(s.Metadata.Workload, o.Metadata.Workload)
}

// Verdict is a peer's judgement of a submission.
type Verdict int

const (
	VerdictAccept Verdict = iota + 1
	VerdictReject
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictReject:
		return "reject"
	default:
		return "unknown"
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "accept":
		*v = VerdictAccept
	case "reject":
		*v = VerdictReject
	default:
		return fmt.Errorf("unknown verdict %q", s)
	}
	return nil
}

// AttestationVote is one sampled peer's endorsement or rejection.
type AttestationVote struct {
	ContributionID uuid.UUID `json:"contribution_id"`
	Attester       Address   `json:"attester"`
	Verdict        Verdict   `json:"verdict"`
	Weight         float64   `json:"weight"`
}

// AcceptedContribution is the validator's output and the only input to reward issuance.
type AcceptedContribution struct {
	Submission        ContributionSubmission `json:"submission"`
	Quality           float64                `json:"quality"`
	ComputeUnits      uint64                 `json:"compute_units"`
	NoveltyScore      float64                `json:"novelty_score"`
	NoveltyMultiplier float64                `json:"novelty_multiplier"`
	SybilRisk         float64                `json:"sybil_risk"`
	Agreement         float64                `json:"agreement"`
	PeerMultiplier    float64                `json:"peer_multiplier"`
	Attesters         []Address              `json:"attesters"`
	AcceptedAt        time.Time              `json:"accepted_at"`
}

// SubmissionStatus tracks a submission through the validator.
type SubmissionStatus string

const (
	SubmissionInFlight  SubmissionStatus = "in_flight"
	SubmissionAccepted  SubmissionStatus = "accepted"
	SubmissionRejected  SubmissionStatus = "rejected"
	SubmissionRetryable SubmissionStatus = "retryable"
)

// SubmissionRecord is the persisted view of a submission and its outcome.
type SubmissionRecord struct {
	Submission ContributionSubmission `json:"submission"`
	Status     SubmissionStatus       `json:"status"`
	Reason     string                 `json:"reason,omitempty"`
	Attempts   int                    `json:"attempts"`
	Accepted   *AcceptedContribution  `json:"accepted,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}
