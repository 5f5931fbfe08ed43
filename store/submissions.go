package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/paw-chain/poc/types"
)

func submissionKey(id uuid.UUID) []byte {
	return key(SubmissionPrefix, id[:])
}

// BeginValidation claims a submission for validation. A new id, or one left
// retryable by a missed attestation quorum, moves to in-flight; anything else
// is refused so each submission reaches a final outcome at most once. A
// retryable id that already used maxAttempts is rejected for good; a
// maxAttempts below one leaves retries unbounded.
func (s *KVStore) BeginValidation(_ context.Context, sub types.ContributionSubmission, maxAttempts int) (types.SubmissionRecord, error) {
	k := submissionKey(sub.ID)
	unlock := s.lock(k)
	defer unlock()

	var rec types.SubmissionRecord
	found, err := s.getJSON(k, &rec)
	if err != nil {
		return types.SubmissionRecord{}, err
	}
	if found {
		switch rec.Status {
		case types.SubmissionInFlight:
			return rec, types.ErrSubmissionInFlight.Wrapf("submission %s", sub.ID)
		case types.SubmissionAccepted, types.SubmissionRejected:
			return rec, types.ErrSubmissionConsumed.Wrapf("submission %s is %s", sub.ID, rec.Status)
		}
		if !rec.Submission.SameContent(sub) {
			return rec, types.ErrSubmissionConsumed.Wrapf("submission %s was resubmitted with different content", sub.ID)
		}
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			cause := types.WrapWithRecovery(types.ErrRetryLimitExceeded, "%d attempts used", rec.Attempts)
			rec.Status = types.SubmissionRejected
			rec.Reason = cause.Error()
			rec.UpdatedAt = time.Now().UTC()
			if err := s.setJSON(k, rec); err != nil {
				return types.SubmissionRecord{}, err
			}
			return rec, cause
		}
		// connection facts belong to the latest attempt
		rec.Submission.Metadata.SourceIP = sub.Metadata.SourceIP
		rec.Submission.Metadata.ReceivedAt = sub.Metadata.ReceivedAt
	} else {
		rec = types.SubmissionRecord{Submission: sub}
	}

	rec.Status = types.SubmissionInFlight
	rec.Attempts++
	rec.Reason = ""
	rec.UpdatedAt = time.Now().UTC()
	if err := s.setJSON(k, rec); err != nil {
		return types.SubmissionRecord{}, err
	}
	return rec, nil
}

// FinishValidation records the validator's outcome for an in-flight submission.
func (s *KVStore) FinishValidation(_ context.Context, id uuid.UUID, status types.SubmissionStatus, reason string, accepted *types.AcceptedContribution) error {
	k := submissionKey(id)
	unlock := s.lock(k)
	defer unlock()

	var rec types.SubmissionRecord
	found, err := s.getJSON(k, &rec)
	if err != nil {
		return err
	}
	if !found {
		return types.ErrNotFound.Wrapf("submission %s", id)
	}
	if rec.Status != types.SubmissionInFlight {
		return types.ErrSubmissionConsumed.Wrapf("submission %s is %s", id, rec.Status)
	}

	rec.Status = status
	rec.Reason = reason
	rec.Accepted = accepted
	rec.UpdatedAt = time.Now().UTC()
	return s.setJSON(k, rec)
}

// GetSubmission loads a submission record.
func (s *KVStore) GetSubmission(_ context.Context, id uuid.UUID) (types.SubmissionRecord, error) {
	var rec types.SubmissionRecord
	found, err := s.getJSON(submissionKey(id), &rec)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, types.ErrNotFound.Wrapf("submission %s", id)
	}
	return rec, nil
}

// IsAccepted reports whether the validator accepted the contribution.
func (s *KVStore) IsAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	var rec types.SubmissionRecord
	found, err := s.getJSON(submissionKey(id), &rec)
	if err != nil || !found {
		return false, err
	}
	return rec.Status == types.SubmissionAccepted, nil
}

// IterateSubmissions visits every submission record until fn returns true.
func (s *KVStore) IterateSubmissions(ctx context.Context, fn func(types.SubmissionRecord) bool) error {
	return s.iterate(ctx, SubmissionPrefix, func(_, value []byte) (bool, error) {
		var rec types.SubmissionRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return false, err
		}
		return fn(rec), nil
	})
}
