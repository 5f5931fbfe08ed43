package novelty

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"github.com/paw-chain/poc/types"
)

// Entry is one indexed contribution.
type Entry struct {
	ID          uuid.UUID
	Fingerprint types.Hash
	Sketch      Sketch
}

// Snapshot is an immutable view of an index. Readers hold snapshots and never
// block the writer.
type Snapshot struct {
	entries []*Entry
	filter  *bloom.BloomFilter
}

// Len returns the number of indexed entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Match is the most similar indexed entry.
type Match struct {
	ID         uuid.UUID
	Similarity float64
}

// MostSimilar scans the snapshot for the closest entry. Exact fingerprint hits
// short-circuit through the bloom prefilter.
func (s *Snapshot) MostSimilar(fingerprint types.Hash, sketch Sketch) Match {
	var best Match
	if s.filter != nil && s.filter.Test(fingerprint[:]) {
		for _, e := range s.entries {
			if e.Fingerprint == fingerprint {
				return Match{ID: e.ID, Similarity: 1}
			}
		}
	}
	for _, e := range s.entries {
		if sim := Similarity(sketch, e.Sketch); sim > best.Similarity {
			best = Match{ID: e.ID, Similarity: sim}
		}
	}
	return best
}

// Index is a bounded ring of recent entries for one contribution type.
type Index struct {
	mu       sync.Mutex
	capacity int
	ring     []*Entry
	next     int
	filter   *bloom.BloomFilter
	evicted  int

	snap atomic.Pointer[Snapshot]
}

// NewIndex creates an index holding at most capacity entries.
func NewIndex(capacity int) *Index {
	if capacity <= 0 {
		capacity = 1
	}
	idx := &Index{
		capacity: capacity,
		ring:     make([]*Entry, 0, capacity),
		filter:   newFilter(capacity),
	}
	idx.snap.Store(&Snapshot{filter: idx.filter.Copy()})
	return idx
}

func newFilter(capacity int) *bloom.BloomFilter {
	return bloom.NewWithEstimates(uint(capacity*2), 0.01)
}

// Snapshot returns the latest published view.
func (i *Index) Snapshot() *Snapshot {
	return i.snap.Load()
}

// Append adds an entry, evicting the oldest when full, and publishes a new
// snapshot.
func (i *Index) Append(e Entry) {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry := &e
	if len(i.ring) < i.capacity {
		i.ring = append(i.ring, entry)
	} else {
		i.ring[i.next] = entry
		i.next = (i.next + 1) % i.capacity
		i.evicted++
	}
	i.filter.Add(e.Fingerprint[:])

	// evicted fingerprints stay in the filter until a full turn of the ring
	if i.evicted >= i.capacity {
		i.filter = newFilter(i.capacity)
		for _, r := range i.ring {
			i.filter.Add(r.Fingerprint[:])
		}
		i.evicted = 0
	}

	entries := make([]*Entry, 0, len(i.ring))
	entries = append(entries, i.ring[i.next:]...)
	entries = append(entries, i.ring[:i.next]...)
	i.snap.Store(&Snapshot{entries: entries, filter: i.filter.Copy()})
}
