package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/paw-chain/poc/types"
)

func proposalKey(id uuid.UUID) []byte {
	return key(ProposalPrefix, id[:])
}

// GetProposal loads a treasury proposal.
func (s *KVStore) GetProposal(_ context.Context, id uuid.UUID) (types.TreasuryProposal, error) {
	var p types.TreasuryProposal
	found, err := s.getJSON(proposalKey(id), &p)
	if err != nil {
		return p, err
	}
	if !found {
		return p, types.ErrProposalNotFound.Wrapf("proposal %s", id)
	}
	return p, nil
}

// SetProposal persists a treasury proposal.
func (s *KVStore) SetProposal(_ context.Context, p types.TreasuryProposal) error {
	bz, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.SetSync(proposalKey(p.ID), bz)
}

// IterateProposals visits every proposal until fn returns true.
func (s *KVStore) IterateProposals(ctx context.Context, fn func(types.TreasuryProposal) bool) error {
	return s.iterate(ctx, ProposalPrefix, func(_, value []byte) (bool, error) {
		var p types.TreasuryProposal
		if err := json.Unmarshal(value, &p); err != nil {
			return false, err
		}
		return fn(p), nil
	})
}
