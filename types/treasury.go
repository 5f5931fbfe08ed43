package types

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
)

// ProposalStatus is the lifecycle state of a treasury proposal.
type ProposalStatus string

const (
	ProposalDrafted       ProposalStatus = "drafted"
	ProposalUnderCuration ProposalStatus = "under_curation"
	ProposalOpenForVoting ProposalStatus = "open_for_voting"
	ProposalPassed        ProposalStatus = "passed"
	ProposalRejected      ProposalStatus = "rejected"
	ProposalDisbursing    ProposalStatus = "disbursing"
	ProposalCompleted     ProposalStatus = "completed"
	ProposalStalled       ProposalStatus = "stalled"
)

// IsFinal reports whether no further transition is possible.
func (s ProposalStatus) IsFinal() bool {
	return s == ProposalRejected || s == ProposalCompleted
}

// FundingCategory groups proposals under a shared allocation cap.
type FundingCategory string

const (
	CategoryResearch       FundingCategory = "research"
	CategoryInfrastructure FundingCategory = "infrastructure"
	CategoryCommunity      FundingCategory = "community"
	CategorySecurity       FundingCategory = "security"
	CategoryInnovation     FundingCategory = "innovation"
)

// IsValid reports whether c is a known category.
func (c FundingCategory) IsValid() bool {
	switch c {
	case CategoryResearch, CategoryInfrastructure, CategoryCommunity, CategorySecurity, CategoryInnovation:
		return true
	}
	return false
}

// MilestoneStatus is the completion state of a milestone.
type MilestoneStatus string

const (
	MilestonePending  MilestoneStatus = "pending"
	MilestoneVerified MilestoneStatus = "verified"
	MilestonePaid     MilestoneStatus = "paid"
	MilestoneRejected MilestoneStatus = "rejected"
)

// Milestone is one disbursement tranche of a proposal.
type Milestone struct {
	Description   string          `json:"description"`
	Amount        math.LegacyDec  `json:"amount"`
	ProofRequired bool            `json:"proof_required"`
	Status        MilestoneStatus `json:"status"`
	PaidAmount    math.LegacyDec  `json:"paid_amount"`
	Evidence      []byte          `json:"evidence,omitempty"`
	Proof         *ZkProof        `json:"proof,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// TreasuryProposal is a discretionary funding request.
type TreasuryProposal struct {
	ID               uuid.UUID        `json:"id"`
	Proposer         Address          `json:"proposer"`
	Title            string           `json:"title"`
	Category         FundingCategory  `json:"category"`
	RequestedAmount  math.LegacyDec   `json:"requested_amount"`
	ApprovedAmount   math.LegacyDec   `json:"approved_amount"`
	PaidAmount       math.LegacyDec   `json:"paid_amount"`
	Milestones       []Milestone      `json:"milestones"`
	AIScore          float64          `json:"ai_score"`
	CommunityYes     float64          `json:"community_yes"`
	CommunityNo      float64          `json:"community_no"`
	CommunityAbstain float64          `json:"community_abstain"`
	Voters           map[Address]bool `json:"voters,omitempty"`
	Status           ProposalStatus   `json:"status"`
	StallReason      string           `json:"stall_reason,omitempty"`
	CreatedEpoch     uint64           `json:"created_epoch"`
	VotingEndsEpoch  uint64           `json:"voting_ends_epoch"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ValidateBasic performs stateless checks on a drafted proposal.
func (p TreasuryProposal) ValidateBasic() error {
	if p.ID == uuid.Nil {
		return ErrInvalidProposal.Wrap("missing proposal id")
	}
	if err := p.Proposer.Validate(); err != nil {
		return ErrInvalidProposal.Wrapf("proposer: %s", err)
	}
	if !p.Category.IsValid() {
		return ErrInvalidProposal.Wrapf("unknown category %q", p.Category)
	}
	if p.RequestedAmount.IsNil() || !p.RequestedAmount.IsPositive() {
		return ErrInvalidProposal.Wrap("requested amount must be positive")
	}
	if len(p.Milestones) == 0 {
		return ErrInvalidProposal.Wrap("at least one milestone is required")
	}
	total := math.LegacyZeroDec()
	for i, m := range p.Milestones {
		if m.Amount.IsNil() || !m.Amount.IsPositive() {
			return ErrInvalidProposal.Wrapf("milestone %d amount must be positive", i)
		}
		total = total.Add(m.Amount)
	}
	if total.GT(p.RequestedAmount) {
		return ErrInvalidProposal.Wrapf("milestones total %s exceeds requested %s", total, p.RequestedAmount)
	}
	return nil
}

// Turnout is the total voting power cast, abstentions included.
func (p TreasuryProposal) Turnout() float64 {
	return p.CommunityYes + p.CommunityNo + p.CommunityAbstain
}

// YesFraction is yes / (yes + no); zero when no decisive votes were cast.
func (p TreasuryProposal) YesFraction() float64 {
	decisive := p.CommunityYes + p.CommunityNo
	if decisive == 0 {
		return 0
	}
	return p.CommunityYes / decisive
}

// Clone deep copies mutable members.
func (p TreasuryProposal) Clone() TreasuryProposal {
	out := p
	out.Milestones = make([]Milestone, len(p.Milestones))
	copy(out.Milestones, p.Milestones)
	out.Voters = make(map[Address]bool, len(p.Voters))
	for k, v := range p.Voters {
		out.Voters[k] = v
	}
	return out
}

// VoteOption is a community ballot choice.
type VoteOption string

const (
	VoteYes     VoteOption = "yes"
	VoteNo      VoteOption = "no"
	VoteAbstain VoteOption = "abstain"
)

// ParseVoteOption resolves a ballot choice.
func ParseVoteOption(s string) (VoteOption, error) {
	switch VoteOption(s) {
	case VoteYes, VoteNo, VoteAbstain:
		return VoteOption(s), nil
	}
	return "", fmt.Errorf("unknown vote option %q", s)
}
