// Package network provides an in-process NetworkLayer. A Loopback delivers
// broadcasts to locally joined attesters and streams their votes back to the
// collector; standalone nodes and tests use it in place of a gossip transport.
package network

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"

	"github.com/paw-chain/poc/types"
)

// Attester judges a broadcast submission. Returning an error means the peer
// does not answer.
type Attester interface {
	Attest(ctx context.Context, sub types.ContributionSubmission) (types.Verdict, float64, error)
}

// AttesterFunc adapts a function to the Attester interface.
type AttesterFunc func(ctx context.Context, sub types.ContributionSubmission) (types.Verdict, float64, error)

func (f AttesterFunc) Attest(ctx context.Context, sub types.ContributionSubmission) (types.Verdict, float64, error) {
	return f(ctx, sub)
}

// round is one broadcast of a submission. A rebroadcast starts a new round and
// votes addressed to older rounds are dropped.
type round struct {
	gen       uint64
	votes     []types.AttestationVote
	listeners map[chan types.AttestationVote]struct{}
	capacity  int
}

// Loopback is an in-process NetworkLayer.
type Loopback struct {
	mu          sync.Mutex
	peers       map[types.Address]Attester
	order       []types.Address
	rounds      map[uuid.UUID]*round
	gen         uint64
	rng         *rand.Rand
	voteTimeout time.Duration
	logger      log.Logger
	wg          sync.WaitGroup
}

var _ types.NetworkLayer = (*Loopback)(nil)

// NewLoopback creates a loopback network. seed fixes peer sampling order.
func NewLoopback(seed int64, voteTimeout time.Duration, logger log.Logger) *Loopback {
	return &Loopback{
		peers:       make(map[types.Address]Attester),
		rounds:      make(map[uuid.UUID]*round),
		rng:         rand.New(rand.NewSource(seed)),
		voteTimeout: voteTimeout,
		logger:      logger.With("module", "network"),
	}
}

// Join registers a local attester.
func (l *Loopback) Join(addr types.Address, a Attester) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.peers[addr]; !ok {
		l.order = append(l.order, addr)
	}
	l.peers[addr] = a
}

// Leave removes an attester. Votes already in flight are still delivered.
func (l *Loopback) Leave(addr types.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.peers[addr]; !ok {
		return
	}
	delete(l.peers, addr)
	for i, a := range l.order {
		if a == addr {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// Peers returns the number of joined attesters.
func (l *Loopback) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// SamplePeers returns up to n distinct peers chosen uniformly at random.
func (l *Loopback) SamplePeers(ctx context.Context, n int) ([]types.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.order) {
		n = len(l.order)
	}
	out := make([]types.Address, 0, n)
	for _, i := range l.rng.Perm(len(l.order))[:n] {
		out = append(out, l.order[i])
	}
	return out, nil
}

// Broadcast starts a new round for the submission and asks every joined
// attester for a vote.
func (l *Loopback) Broadcast(ctx context.Context, sub types.ContributionSubmission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.gen++
	r := &round{
		gen:       l.gen,
		listeners: make(map[chan types.AttestationVote]struct{}),
		capacity:  len(l.peers),
	}
	l.rounds[sub.ID] = r
	peers := make(map[types.Address]Attester, len(l.peers))
	for addr, a := range l.peers {
		peers[addr] = a
	}
	l.mu.Unlock()

	for addr, a := range peers {
		l.wg.Add(1)
		go l.ask(r.gen, addr, a, sub)
	}
	return nil
}

func (l *Loopback) ask(gen uint64, addr types.Address, a Attester, sub types.ContributionSubmission) {
	defer l.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), l.voteTimeout)
	defer cancel()

	verdict, weight, err := a.Attest(ctx, sub)
	if err != nil {
		l.logger.Debug("attester did not answer", "attester", addr, "contribution_id", sub.ID, "error", err)
		return
	}
	l.deliver(gen, types.AttestationVote{
		ContributionID: sub.ID,
		Attester:       addr,
		Verdict:        verdict,
		Weight:         weight,
	})
}

func (l *Loopback) deliver(gen uint64, vote types.AttestationVote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rounds[vote.ContributionID]
	if !ok || r.gen != gen {
		return
	}
	r.votes = append(r.votes, vote)
	for ch := range r.listeners {
		select {
		case ch <- vote:
		default:
		}
	}
}

// CollectVotes streams the votes of the current round, replaying those that
// arrived before the call, until the deadline or ctx ends. The round is closed
// when collection stops and later votes are discarded.
func (l *Loopback) CollectVotes(ctx context.Context, contributionID uuid.UUID, deadline time.Time) (<-chan types.AttestationVote, error) {
	l.mu.Lock()
	r, ok := l.rounds[contributionID]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("no broadcast round for %s", contributionID)
	}
	ch := make(chan types.AttestationVote, r.capacity+len(r.votes))
	for _, v := range r.votes {
		ch <- v
	}
	r.listeners[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		delete(r.listeners, ch)
		close(ch)
		if cur, ok := l.rounds[contributionID]; ok && cur == r && len(r.listeners) == 0 {
			delete(l.rounds, contributionID)
		}
	}()
	return ch, nil
}

// Wait blocks until every outstanding attester call has returned.
func (l *Loopback) Wait() {
	l.wg.Wait()
}
