// Package store persists submissions, reputation, rewards and treasury
// proposals on a cosmos-db key/value backend.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
)

// Key prefixes
var (
	SubmissionPrefix  = []byte{0x01}
	ReputationPrefix  = []byte{0x02}
	ProposalPrefix    = []byte{0x03}
	RewardPrefix      = []byte{0x04}
	RewardEpochPrefix = []byte{0x05}
	EpochKey          = []byte{0x06}
	RewardQuotePrefix = []byte{0x07}
)

const lockStripes = 256

// KVStore is the node's storage layer. Read-modify-write operations on a
// single key serialize on a striped lock; unrelated keys never contend.
type KVStore struct {
	db     dbm.DB
	logger log.Logger
	locks  [lockStripes]sync.Mutex
}

// NewKVStore wraps an open database.
func NewKVStore(db dbm.DB, logger log.Logger) *KVStore {
	return &KVStore{
		db:     db,
		logger: logger.With("module", "store"),
	}
}

// Open opens (or creates) the named database under dir using the given backend.
func Open(name, backend, dir string, logger log.Logger) (*KVStore, error) {
	db, err := dbm.NewDB(name, dbm.BackendType(backend), dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database at %s: %w", backend, dir, err)
	}
	logger.Info("opened storage", "backend", backend, "dir", dir)
	return NewKVStore(db, logger), nil
}

// Close closes the underlying database.
func (s *KVStore) Close() error {
	return s.db.Close()
}

func (s *KVStore) lock(key []byte) func() {
	h := fnv.New32a()
	_, _ = h.Write(key)
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *KVStore) getJSON(key []byte, v interface{}) (bool, error) {
	bz, err := s.db.Get(key)
	if err != nil {
		return false, err
	}
	if bz == nil {
		return false, nil
	}
	if err := json.Unmarshal(bz, v); err != nil {
		return false, fmt.Errorf("failed to decode %x: %w", key, err)
	}
	return true, nil
}

func (s *KVStore) setJSON(key []byte, v interface{}) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(key, bz)
}

func (s *KVStore) iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) (stop bool, err error)) error {
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop, err := fn(it.Key(), it.Value())
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return it.Error()
}

// GetEpoch returns the persisted epoch, zero before the first rollover.
func (s *KVStore) GetEpoch(_ context.Context) (uint64, error) {
	bz, err := s.db.Get(EpochKey)
	if err != nil {
		return 0, err
	}
	if len(bz) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(bz), nil
}

// SetEpoch persists the current epoch.
func (s *KVStore) SetEpoch(_ context.Context, epoch uint64) error {
	return s.db.SetSync(EpochKey, uint64Bytes(epoch))
}

func key(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, prefix...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func uint64Bytes(v uint64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, v)
	return bz
}

// prefixEnd returns the smallest key greater than every key with the prefix.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
