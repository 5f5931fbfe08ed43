package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/paw-chain/poc/types"
)

func rewardKey(id uuid.UUID) []byte {
	return key(RewardPrefix, id[:])
}

func rewardQuoteKey(id uuid.UUID) []byte {
	return key(RewardQuotePrefix, id[:])
}

func rewardEpochKey(epoch uint64, id uuid.UUID) []byte {
	return key(RewardEpochPrefix, uint64Bytes(epoch), id[:])
}

// QuoteReward stores rec as the priced reward of its contribution unless a
// quote already exists, and returns the stored quote. The quote outlives a
// released reservation and is dropped once the reward is issued.
func (s *KVStore) QuoteReward(_ context.Context, rec types.RewardRecord) (types.RewardRecord, error) {
	k := rewardQuoteKey(rec.ContributionID)
	unlock := s.lock(k)
	defer unlock()

	var quoted types.RewardRecord
	found, err := s.getJSON(k, &quoted)
	if err != nil {
		return types.RewardRecord{}, err
	}
	if found {
		return quoted, nil
	}
	bz, err := json.Marshal(rec)
	if err != nil {
		return types.RewardRecord{}, err
	}
	if err := s.db.SetSync(k, bz); err != nil {
		return types.RewardRecord{}, err
	}
	return rec, nil
}

// ReserveReward inserts rec as a pending reservation unless a record for the
// contribution already exists, in which case the existing record is returned
// and reserved is false.
func (s *KVStore) ReserveReward(_ context.Context, rec types.RewardRecord) (types.RewardRecord, bool, error) {
	k := rewardKey(rec.ContributionID)
	unlock := s.lock(k)
	defer unlock()

	var existing types.RewardRecord
	found, err := s.getJSON(k, &existing)
	if err != nil {
		return types.RewardRecord{}, false, err
	}
	if found {
		return existing, false, nil
	}

	rec.Status = types.RewardPending
	if err := s.setJSON(k, rec); err != nil {
		return types.RewardRecord{}, false, err
	}
	return rec, true, nil
}

// MarkIssued finalizes a reservation after a confirmed mint.
func (s *KVStore) MarkIssued(_ context.Context, rec types.RewardRecord) error {
	k := rewardKey(rec.ContributionID)
	unlock := s.lock(k)
	defer unlock()

	var existing types.RewardRecord
	found, err := s.getJSON(k, &existing)
	if err != nil {
		return err
	}
	if !found {
		return types.ErrNotFound.Wrapf("no reservation for %s", rec.ContributionID)
	}
	if existing.Status == types.RewardIssued {
		return types.ErrDoubleIssuanceAttempt.Wrapf("reward %s already issued", rec.ContributionID)
	}

	rec.Status = types.RewardIssued
	batch := s.db.NewBatch()
	defer batch.Close()

	bz, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := batch.Set(k, bz); err != nil {
		return err
	}
	if err := batch.Set(rewardEpochKey(rec.Epoch, rec.ContributionID), []byte{}); err != nil {
		return err
	}
	if err := batch.Delete(rewardQuoteKey(rec.ContributionID)); err != nil {
		return err
	}
	return batch.WriteSync()
}

// ReleaseReservation drops a pending reservation after a failed mint. Issued
// records are never removed.
func (s *KVStore) ReleaseReservation(_ context.Context, id uuid.UUID) error {
	k := rewardKey(id)
	unlock := s.lock(k)
	defer unlock()

	var existing types.RewardRecord
	found, err := s.getJSON(k, &existing)
	if err != nil || !found {
		return err
	}
	if existing.Status != types.RewardPending {
		return types.ErrDoubleIssuanceAttempt.Wrapf("refusing to release issued reward %s", id)
	}
	return s.db.DeleteSync(k)
}

// GetReward loads the record for a contribution.
func (s *KVStore) GetReward(_ context.Context, id uuid.UUID) (types.RewardRecord, bool, error) {
	var rec types.RewardRecord
	found, err := s.getJSON(rewardKey(id), &rec)
	return rec, found, err
}

// RewardsByEpoch lists the issued records of an epoch in contribution id order.
func (s *KVStore) RewardsByEpoch(ctx context.Context, epoch uint64) ([]types.RewardRecord, error) {
	var ids []uuid.UUID
	prefix := key(RewardEpochPrefix, uint64Bytes(epoch))
	err := s.iterate(ctx, prefix, func(k, _ []byte) (bool, error) {
		id, err := uuid.FromBytes(k[len(prefix):])
		if err != nil {
			return false, err
		}
		ids = append(ids, id)
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]types.RewardRecord, 0, len(ids))
	for _, id := range ids {
		rec, found, err := s.GetReward(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, rec)
		}
	}
	return out, nil
}

// IterateRewards visits every record, pending ones included.
func (s *KVStore) IterateRewards(ctx context.Context, fn func(types.RewardRecord) bool) error {
	return s.iterate(ctx, RewardPrefix, func(_, value []byte) (bool, error) {
		var rec types.RewardRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return false, err
		}
		return fn(rec), nil
	})
}

// PendingRewards lists reservations whose mint was never confirmed.
func (s *KVStore) PendingRewards(ctx context.Context) ([]types.RewardRecord, error) {
	var out []types.RewardRecord
	err := s.IterateRewards(ctx, func(rec types.RewardRecord) bool {
		if rec.Status == types.RewardPending {
			out = append(out, rec)
		}
		return false
	})
	return out, err
}
