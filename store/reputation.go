package store

import (
	"context"
	"encoding/json"

	"github.com/paw-chain/poc/types"
)

type versionedReputation struct {
	Version uint64                `json:"version"`
	Score   types.ReputationScore `json:"score"`
}

func reputationKey(addr types.Address) []byte {
	return key(ReputationPrefix, []byte(addr))
}

// GetReputation returns the stored score and its version. Version zero means
// no record exists yet.
func (s *KVStore) GetReputation(_ context.Context, addr types.Address) (types.ReputationScore, uint64, error) {
	var v versionedReputation
	found, err := s.getJSON(reputationKey(addr), &v)
	if err != nil || !found {
		return types.ReputationScore{}, 0, err
	}
	return v.Score, v.Version, nil
}

// CompareAndSwapReputation writes score only if the stored version still
// equals expected. It reports whether the write happened.
func (s *KVStore) CompareAndSwapReputation(_ context.Context, addr types.Address, expected uint64, score types.ReputationScore) (bool, error) {
	k := reputationKey(addr)
	unlock := s.lock(k)
	defer unlock()

	var cur versionedReputation
	if _, err := s.getJSON(k, &cur); err != nil {
		return false, err
	}
	if cur.Version != expected {
		return false, nil
	}
	if err := s.setJSON(k, versionedReputation{Version: expected + 1, Score: score}); err != nil {
		return false, err
	}
	return true, nil
}

// IterateReputations visits every stored score until fn returns true.
func (s *KVStore) IterateReputations(ctx context.Context, fn func(types.ReputationScore) bool) error {
	return s.iterate(ctx, ReputationPrefix, func(_, value []byte) (bool, error) {
		var v versionedReputation
		if err := json.Unmarshal(value, &v); err != nil {
			return false, err
		}
		return fn(v.Score), nil
	})
}
