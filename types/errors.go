package types

import (
	"context"
	"errors"

	sdkerrors "cosmossdk.io/errors"
)

// Proof-of-contribution sentinel errors with recovery suggestions

var (
	// Submission and proof errors
	ErrInvalidSubmission  = sdkerrors.Register(ModuleName, 2, "invalid contribution submission")
	ErrInvalidProof       = sdkerrors.Register(ModuleName, 3, "invalid zero-knowledge proof")
	ErrSchemeUnsupported  = sdkerrors.Register(ModuleName, 4, "proof scheme unsupported")
	ErrSubmissionConsumed = sdkerrors.Register(ModuleName, 5, "submission already consumed")
	ErrSubmissionInFlight = sdkerrors.Register(ModuleName, 6, "submission is being validated")

	// Scoring errors
	ErrDuplicateContribution = sdkerrors.Register(ModuleName, 10, "duplicate contribution")
	ErrSybilSuspected        = sdkerrors.Register(ModuleName, 11, "sybil activity suspected")

	// Attestation errors
	ErrAttestationTimeout  = sdkerrors.Register(ModuleName, 20, "attestation timed out")
	ErrQuorumNotReached    = sdkerrors.Register(ModuleName, 21, "attestation quorum not reached")
	ErrAttestationRejected = sdkerrors.Register(ModuleName, 22, "attestation majority rejected contribution")
	ErrRetryLimitExceeded  = sdkerrors.Register(ModuleName, 23, "attestation retry limit exceeded")

	// Reputation errors
	ErrStaleEpoch         = sdkerrors.Register(ModuleName, 30, "reputation update predates last update epoch")
	ErrReputationConflict = sdkerrors.Register(ModuleName, 31, "reputation update conflict retries exhausted")

	// Reward errors
	ErrNotAccepted           = sdkerrors.Register(ModuleName, 40, "contribution not accepted")
	ErrDoubleIssuanceAttempt = sdkerrors.Register(ModuleName, 41, "double issuance attempt")
	ErrLedgerMintFailure     = sdkerrors.Register(ModuleName, 42, "ledger mint failed")
	ErrLedgerUnavailable     = sdkerrors.Register(ModuleName, 43, "ledger unavailable")

	// Treasury errors
	ErrTreasuryInsufficientFunds = sdkerrors.Register(ModuleName, 50, "treasury has insufficient funds")
	ErrProposalExpired           = sdkerrors.Register(ModuleName, 51, "proposal voting window has expired")
	ErrProposalNotFound          = sdkerrors.Register(ModuleName, 52, "proposal not found")
	ErrInvalidProposal           = sdkerrors.Register(ModuleName, 53, "invalid treasury proposal")
	ErrInvalidTransition         = sdkerrors.Register(ModuleName, 54, "invalid proposal state transition")
	ErrAlreadyVoted              = sdkerrors.Register(ModuleName, 55, "voter already voted on proposal")
	ErrMilestoneNotFound         = sdkerrors.Register(ModuleName, 56, "milestone not found")
	ErrMilestoneVerification     = sdkerrors.Register(ModuleName, 57, "milestone verification failed")
	ErrCuratorUnavailable        = sdkerrors.Register(ModuleName, 58, "AI curator unavailable")

	// Service errors
	ErrNotFound    = sdkerrors.Register(ModuleName, 60, "not found")
	ErrRateLimited = sdkerrors.Register(ModuleName, 61, "rate limit exceeded")
)

// ErrorWithRecovery wraps an error with recovery suggestions. An attached
// suggestion takes precedence over the sentinel's in GetRecoverySuggestion.
type ErrorWithRecovery struct {
	Err      error
	Recovery string
}

func (e *ErrorWithRecovery) Error() string {
	return e.Err.Error()
}

func (e *ErrorWithRecovery) Unwrap() error {
	return e.Err
}

// RecoverySuggestions provides actionable recovery steps for each error type
var RecoverySuggestions = map[error]string{
	ErrInvalidSubmission:  "Check the submission fields: uuid id, bech32 submitter with the paw prefix, known contribution type, blake3 payload fingerprint and declared quality in [0,1].",
	ErrInvalidProof:       "The proof did not verify against the contribution circuit. Regenerate it with the current proving key and make sure the public inputs commit to this fingerprint and submitter.",
	ErrSchemeUnsupported:  "Use one of the registered proof schemes. Query the node for supported schemes before proving.",
	ErrSubmissionConsumed: "This submission id already reached a final outcome. Submit new work under a new id.",
	ErrSubmissionInFlight: "The submission is still being validated. Poll its status instead of resubmitting.",

	ErrDuplicateContribution: "The payload is too similar to recently accepted work of the same type. Submit original work; repeated duplicates are penalized.",
	ErrSybilSuspected:        "The submitter is strongly correlated with other identities. Submissions from linked devices or stake sources are rejected and penalized.",

	ErrAttestationTimeout:  "Attestation was interrupted before the window closed. Resubmit the same id to retry.",
	ErrQuorumNotReached:    "Too few sampled peers answered within the attestation window. Resubmit the same id to retry; attempts are capped.",
	ErrAttestationRejected: "A weighted majority of sampled peers rejected the work. Review the work output before submitting again.",
	ErrRetryLimitExceeded:  "The attestation retry cap for this id is exhausted. Submit the work under a new id once peer availability recovers.",

	ErrStaleEpoch:         "Reputation updates must not predate the last recorded epoch. Use the current epoch.",
	ErrReputationConflict: "Concurrent updates to this address kept conflicting. The outcome was not recorded; retry the update.",

	ErrNotAccepted:           "Rewards are only issued for contributions accepted by the validator. Check the submission status.",
	ErrDoubleIssuanceAttempt: "Internal invariant violation: a second issuance was attempted for a rewarded contribution. Report this with the contribution id.",
	ErrLedgerMintFailure:     "The token ledger rejected the mint. No reward record was kept; retry issuance once the ledger is healthy.",
	ErrLedgerUnavailable:     "The token ledger breaker is open after repeated failures. Wait for it to half-open and retry.",

	ErrTreasuryInsufficientFunds: "Treasury balance is below the milestone payout. The proposal is stalled and will be retried next epoch.",
	ErrProposalExpired:           "The voting window closed at the last epoch rollover. Votes are frozen before tallying.",
	ErrProposalNotFound:          "Verify the proposal id. List proposals to find it.",
	ErrInvalidProposal:           "Check proposer address, category, requested amount and that milestone amounts are positive and sum to at most the request.",
	ErrInvalidTransition:         "The proposal is not in a state that allows this action. Query its status first.",
	ErrAlreadyVoted:              "Each voter may vote once per proposal.",
	ErrMilestoneNotFound:         "Milestones are addressed by index starting at zero.",
	ErrMilestoneVerification:     "Milestone evidence failed verification and the proposal is stalled. Submit corrected evidence for the same milestone.",
	ErrCuratorUnavailable:        "The AI curator failed or its breaker is open. Curation can be retried; the score is advisory.",

	ErrNotFound:    "Verify the identifier and retry.",
	ErrRateLimited: "Too many submissions from this address. Wait before submitting again.",
}

// WrapWithRecovery wraps an error with recovery suggestion
func WrapWithRecovery(err error, msg string, args ...interface{}) error {
	wrapped := sdkerrors.Wrapf(err, msg, args...)

	if suggestion, ok := RecoverySuggestions[err]; ok {
		return &ErrorWithRecovery{
			Err:      wrapped,
			Recovery: suggestion,
		}
	}

	return wrapped
}

// WithRecovery attaches call-site advice to err.
func WithRecovery(err error, recovery string) error {
	return &ErrorWithRecovery{Err: err, Recovery: recovery}
}

// GetRecoverySuggestion returns the recovery suggestion for an error
func GetRecoverySuggestion(err error) string {
	var attached *ErrorWithRecovery
	if errors.As(err, &attached) && attached.Recovery != "" {
		return attached.Recovery
	}
	for _, sentinel := range orderedSentinels {
		if errors.Is(err, sentinel) {
			return RecoverySuggestions[sentinel]
		}
	}
	return "No recovery suggestion available. Check error message for details."
}

var orderedSentinels = []error{
	ErrInvalidSubmission, ErrInvalidProof, ErrSchemeUnsupported, ErrSubmissionConsumed, ErrSubmissionInFlight,
	ErrDuplicateContribution, ErrSybilSuspected,
	ErrAttestationTimeout, ErrQuorumNotReached, ErrAttestationRejected, ErrRetryLimitExceeded,
	ErrStaleEpoch, ErrReputationConflict,
	ErrNotAccepted, ErrDoubleIssuanceAttempt, ErrLedgerMintFailure, ErrLedgerUnavailable,
	ErrTreasuryInsufficientFunds, ErrProposalExpired, ErrProposalNotFound, ErrInvalidProposal,
	ErrInvalidTransition, ErrAlreadyVoted, ErrMilestoneNotFound, ErrMilestoneVerification, ErrCuratorUnavailable,
	ErrNotFound, ErrRateLimited,
}

// IsBadFaith reports rejections that carry the heavier reputation penalty.
func IsBadFaith(err error) bool {
	return errors.Is(err, ErrSybilSuspected) || errors.Is(err, ErrDuplicateContribution)
}

// IsRetryable reports validation failures that leave the submission open for
// re-attestation. Work interrupted by the caller's context is retryable too.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQuorumNotReached) || errors.Is(err, ErrAttestationTimeout) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsPenalized reports rejections recorded against the submitter's reputation.
func IsPenalized(err error) bool {
	return IsBadFaith(err) || errors.Is(err, ErrInvalidProof) || errors.Is(err, ErrAttestationRejected)
}

// IsTerminal reports failures that end the submission without a reputation effect.
func IsTerminal(err error) bool {
	return !IsRetryable(err) && !IsPenalized(err)
}
