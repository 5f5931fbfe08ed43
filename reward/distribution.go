package reward

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/wealdtech/go-merkletree/v2"
	"github.com/wealdtech/go-merkletree/v2/sha3"

	"github.com/paw-chain/poc/types"
)

// Distribution is the merkle commitment over the rewards issued in an epoch.
// Recipients prove their share with Proof and VerifyDistributionProof.
type Distribution struct {
	Epoch   uint64         `json:"epoch"`
	Root    []byte         `json:"root"`
	Total   math.LegacyDec `json:"total"`
	Records int            `json:"records"`

	tree   *merkletree.MerkleTree
	leaves map[uuid.UUID][]byte
}

// LeafData is the committed encoding of one reward record.
func LeafData(rec types.RewardRecord) []byte {
	return sha3.New256().Hash(rec.ContributionID[:], []byte(rec.Recipient), []byte(rec.Amount.String()))
}

// EpochDistribution builds the distribution of an epoch. Records are ordered
// by contribution id and pairs are hashed in sorted order, so the root only
// depends on the set of issued rewards.
func (e *Engine) EpochDistribution(ctx context.Context, epoch uint64) (*Distribution, error) {
	records, err := e.store.RewardsByEpoch(ctx, epoch)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].ContributionID[:], records[j].ContributionID[:]) < 0
	})

	d := &Distribution{
		Epoch:  epoch,
		Total:  math.LegacyZeroDec(),
		leaves: make(map[uuid.UUID][]byte, len(records)),
	}
	data := make([][]byte, 0, len(records))
	for _, rec := range records {
		if rec.Status != types.RewardIssued {
			continue
		}
		leaf := LeafData(rec)
		data = append(data, leaf)
		d.leaves[rec.ContributionID] = leaf
		d.Total = d.Total.Add(rec.Amount)
	}
	d.Records = len(data)
	if len(data) == 0 {
		return d, nil
	}

	tree, err := merkletree.NewTree(
		merkletree.WithData(data),
		merkletree.WithHashType(sha3.New256()),
		merkletree.WithSorted(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build distribution tree for epoch %d: %w", epoch, err)
	}
	d.tree = tree
	d.Root = tree.Root()
	return d, nil
}

// Proof returns the inclusion proof of a contribution's reward.
func (d *Distribution) Proof(id uuid.UUID) (*merkletree.Proof, error) {
	leaf, ok := d.leaves[id]
	if !ok || d.tree == nil {
		return nil, types.ErrNotFound.Wrapf("reward %s not in epoch %d distribution", id, d.Epoch)
	}
	return d.tree.GenerateProof(leaf, 0)
}

// VerifyDistributionProof checks that rec is committed under root.
func VerifyDistributionProof(root []byte, rec types.RewardRecord, proof *merkletree.Proof) bool {
	if proof == nil || len(root) == 0 {
		return false
	}
	h := sha3.New256()
	cur := h.Hash(LeafData(rec))
	for _, sibling := range proof.Hashes {
		if bytes.Compare(cur, sibling) <= 0 {
			cur = h.Hash(cur, sibling)
		} else {
			cur = h.Hash(sibling, cur)
		}
	}
	return bytes.Equal(cur, root)
}
