// Package sybil correlates submitters through shared devices, stake
// ancestry, network subnets and submission timing, and scores how likely an
// address belongs to a coordinated cluster.
package sybil

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paw-chain/poc/types"
)

// Signal is a structural correlation between two addresses.
type Signal uint8

const (
	SignalDevice Signal = 1 << iota
	SignalStake
	SignalSubnet
)

// Weights are the edge contributions of each signal.
type Weights struct {
	Device     float64 `mapstructure:"device" json:"device"`
	Stake      float64 `mapstructure:"stake" json:"stake"`
	Subnet     float64 `mapstructure:"subnet" json:"subnet"`
	TimingStep float64 `mapstructure:"timing_step" json:"timing_step"`
	TimingMax  float64 `mapstructure:"timing_max" json:"timing_max"`
}

// DefaultWeights returns the default signal weights.
func DefaultWeights() Weights {
	return Weights{
		Device:     0.6,
		Stake:      0.4,
		Subnet:     0.15,
		TimingStep: 0.05,
		TimingMax:  0.3,
	}
}

// GraphConfig bounds the co-submission graph.
type GraphConfig struct {
	Weights          Weights       `mapstructure:"weights" json:"weights"`
	TopK             int           `mapstructure:"top_k" json:"top_k"`
	ClusterThreshold float64       `mapstructure:"cluster_threshold" json:"cluster_threshold"`
	TimingWindow     time.Duration `mapstructure:"timing_window" json:"timing_window"`
	MaxNodes         int           `mapstructure:"max_nodes" json:"max_nodes"`
	MaxBucket        int           `mapstructure:"max_bucket" json:"max_bucket"`
	MaxRecent        int           `mapstructure:"max_recent" json:"max_recent"`
}

// DefaultGraphConfig returns the default graph configuration.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		Weights:          DefaultWeights(),
		TopK:             5,
		ClusterThreshold: 0.5,
		TimingWindow:     5 * time.Second,
		MaxNodes:         100_000,
		MaxBucket:        64,
		MaxRecent:        4096,
	}
}

// Observation is the sybil-relevant view of one submission.
type Observation struct {
	Address     types.Address
	DeviceID    string
	StakeParent types.Address
	Subnet      string
	At          time.Time
}

// ObservationFor extracts the correlation signals of a submission. Timing
// uses the node's receive time; the declared timestamp only stands in for
// submissions that never passed node intake.
func ObservationFor(sub types.ContributionSubmission) Observation {
	at := sub.Metadata.ReceivedAt
	if at.IsZero() {
		at = sub.Timestamp
	}
	return Observation{
		Address:     sub.Submitter,
		DeviceID:    sub.Metadata.DeviceID,
		StakeParent: sub.Metadata.StakeParent,
		Subnet:      ParseSubnet(sub.Metadata.SourceIP),
		At:          at,
	}
}

// ParseSubnet returns the /24 (IPv4) or /48 (IPv6) network of an address.
func ParseSubnet(ipAddr string) string {
	ip := net.ParseIP(ipAddr)
	if ip == nil {
		return ""
	}
	if ip.To4() != nil {
		return ip.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

type edge struct {
	to      int32
	signals Signal
	timing  int
}

// node is an arena slot; edges refer to other slots by index.
type node struct {
	addr     types.Address
	lastSeen time.Time
	edges    []edge
	parent   int32
}

type bucketKey struct {
	signal Signal
	value  string
}

type sighting struct {
	at   time.Time
	node int32
}

// Graph is an arena of submitter nodes with adjacency lists. Writers
// serialize on a mutex; cluster reads go through an immutable snapshot.
type Graph struct {
	mu      sync.RWMutex
	config  GraphConfig
	nodes   []node
	index   map[types.Address]int32
	buckets map[bucketKey][]int32
	recent  []sighting

	snap atomic.Pointer[Clusters]
}

// NewGraph creates an empty graph.
func NewGraph(config GraphConfig) *Graph {
	g := &Graph{config: config}
	g.reset()
	g.snap.Store(&Clusters{of: map[types.Address]int{}})
	return g
}

func (g *Graph) reset() {
	g.nodes = g.nodes[:0]
	g.index = make(map[types.Address]int32)
	g.buckets = make(map[bucketKey][]int32)
	g.recent = g.recent[:0]
}

// Len returns the number of tracked addresses.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Observe records a submission and returns the submitter's risk after it.
func (g *Graph) Observe(obs Observation) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.index[obs.Address]; !ok && len(g.nodes) >= g.config.MaxNodes {
		g.compact()
	}
	id := g.nodeFor(obs.Address)
	if obs.At.After(g.nodes[id].lastSeen) {
		g.nodes[id].lastSeen = obs.At
	}

	merged := false
	if obs.DeviceID != "" {
		merged = g.join(id, bucketKey{SignalDevice, obs.DeviceID}) || merged
	}
	if obs.StakeParent != "" {
		merged = g.join(id, bucketKey{SignalStake, string(obs.StakeParent)}) || merged
	}
	// a parent shares the bucket of the addresses it staked
	merged = g.join(id, bucketKey{SignalStake, string(obs.Address)}) || merged
	if obs.Subnet != "" {
		merged = g.join(id, bucketKey{SignalSubnet, obs.Subnet}) || merged
	}
	merged = g.coOccur(id, obs.At) || merged

	if merged {
		g.publish()
	}
	return g.risk(id)
}

// Risk returns the current risk of addr, zero for unknown addresses.
func (g *Graph) Risk(addr types.Address) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.index[addr]
	if !ok {
		return 0
	}
	return g.risk(id)
}

// Clusters returns the latest cluster snapshot.
func (g *Graph) Clusters() *Clusters {
	return g.snap.Load()
}

// ClusterOf returns the members of addr's cluster, nil when addr is not
// clustered with anyone.
func (g *Graph) ClusterOf(addr types.Address) []types.Address {
	return g.snap.Load().Of(addr)
}

// Prune drops addresses not seen since cutoff and returns how many were dropped.
func (g *Graph) Prune(cutoff time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	before := len(g.nodes)
	g.rebuild(func(n *node) bool { return !n.lastSeen.Before(cutoff) })
	return before - len(g.nodes)
}

func (g *Graph) nodeFor(addr types.Address) int32 {
	if id, ok := g.index[addr]; ok {
		return id
	}
	id := int32(len(g.nodes))
	g.nodes = append(g.nodes, node{addr: addr, parent: id})
	g.index[addr] = id
	return id
}

// join adds id to the bucket for key and links it to the other members.
func (g *Graph) join(id int32, key bucketKey) bool {
	members := g.buckets[key]
	for _, m := range members {
		if m == id {
			return false
		}
	}
	merged := false
	for _, m := range members {
		merged = g.link(id, m, key.signal) || merged
	}
	if len(members) >= g.config.MaxBucket {
		members = members[1:]
	}
	g.buckets[key] = append(members, id)
	return merged
}

// link sets a signal on the a-b edge and reports whether it merged clusters.
func (g *Graph) link(a, b int32, s Signal) bool {
	g.edgeOf(a, b).signals |= s
	e := g.edgeOf(b, a)
	e.signals |= s
	return g.maybeUnion(a, b, *e)
}

func (g *Graph) edgeOf(a, b int32) *edge {
	edges := g.nodes[a].edges
	for i := range edges {
		if edges[i].to == b {
			return &edges[i]
		}
	}
	g.nodes[a].edges = append(edges, edge{to: b})
	return &g.nodes[a].edges[len(g.nodes[a].edges)-1]
}

// coOccur strengthens existing links to addresses that submitted within the
// timing window. Timing alone never creates an edge.
func (g *Graph) coOccur(id int32, at time.Time) bool {
	window := g.config.TimingWindow
	merged := false
	kept := g.recent[:0]
	for _, s := range g.recent {
		if absDuration(at.Sub(s.at)) > window*4 && s.at.Before(at) {
			continue
		}
		kept = append(kept, s)
		if s.node == id || absDuration(at.Sub(s.at)) > window {
			continue
		}
		for i := range g.nodes[id].edges {
			e := &g.nodes[id].edges[i]
			if e.to != s.node {
				continue
			}
			e.timing++
			back := g.edgeOf(s.node, id)
			back.timing++
			merged = g.maybeUnion(id, s.node, *back) || merged
		}
	}
	g.recent = kept
	if len(g.recent) >= g.config.MaxRecent {
		g.recent = g.recent[1:]
	}
	g.recent = append(g.recent, sighting{at: at, node: id})
	return merged
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (g *Graph) weight(e edge) float64 {
	w := 0.0
	if e.signals&SignalDevice != 0 {
		w += g.config.Weights.Device
	}
	if e.signals&SignalStake != 0 {
		w += g.config.Weights.Stake
	}
	if e.signals&SignalSubnet != 0 {
		w += g.config.Weights.Subnet
	}
	if e.signals != 0 {
		t := float64(e.timing) * g.config.Weights.TimingStep
		if t > g.config.Weights.TimingMax {
			t = g.config.Weights.TimingMax
		}
		w += t
	}
	if w > 1 {
		w = 1
	}
	return w
}

// risk combines the strongest edges as independent evidence:
// 1 - prod(1 - w) over the top K edge weights.
func (g *Graph) risk(id int32) float64 {
	edges := g.nodes[id].edges
	if len(edges) == 0 {
		return 0
	}
	ws := make([]float64, len(edges))
	for i, e := range edges {
		ws[i] = g.weight(e)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ws)))
	if len(ws) > g.config.TopK {
		ws = ws[:g.config.TopK]
	}
	clean := 1.0
	for _, w := range ws {
		clean *= 1 - w
	}
	return 1 - clean
}

func (g *Graph) find(x int32) int32 {
	for g.nodes[x].parent != x {
		g.nodes[x].parent = g.nodes[g.nodes[x].parent].parent
		x = g.nodes[x].parent
	}
	return x
}

func (g *Graph) maybeUnion(a, b int32, e edge) bool {
	if g.weight(e) < g.config.ClusterThreshold {
		return false
	}
	ra, rb := g.find(a), g.find(b)
	if ra == rb {
		return false
	}
	g.nodes[rb].parent = ra
	return true
}

// compact evicts the least recently seen quarter of the arena.
func (g *Graph) compact() {
	seen := make([]time.Time, len(g.nodes))
	for i := range g.nodes {
		seen[i] = g.nodes[i].lastSeen
	}
	sort.Slice(seen, func(i, j int) bool { return seen[i].Before(seen[j]) })
	cutoff := seen[len(seen)/4]
	g.rebuild(func(n *node) bool { return n.lastSeen.After(cutoff) })
}

// rebuild re-indexes the arena keeping only nodes accepted by keep.
func (g *Graph) rebuild(keep func(*node) bool) {
	old := g.nodes
	remap := make([]int32, len(old))
	nodes := make([]node, 0, len(old))
	for i := range old {
		if !keep(&old[i]) {
			remap[i] = -1
			continue
		}
		remap[i] = int32(len(nodes))
		nodes = append(nodes, node{addr: old[i].addr, lastSeen: old[i].lastSeen})
	}

	g.nodes = nodes
	g.index = make(map[types.Address]int32, len(nodes))
	for i := range g.nodes {
		g.nodes[i].parent = int32(i)
		g.index[g.nodes[i].addr] = int32(i)
	}
	for i := range old {
		from := remap[i]
		if from < 0 {
			continue
		}
		for _, e := range old[i].edges {
			if to := remap[e.to]; to >= 0 {
				g.nodes[from].edges = append(g.nodes[from].edges, edge{to: to, signals: e.signals, timing: e.timing})
			}
		}
	}
	for i := range g.nodes {
		for _, e := range g.nodes[i].edges {
			g.maybeUnion(int32(i), e.to, e)
		}
	}

	buckets := make(map[bucketKey][]int32, len(g.buckets))
	for key, members := range g.buckets {
		for _, m := range members {
			if to := remap[m]; to >= 0 {
				buckets[key] = append(buckets[key], to)
			}
		}
	}
	g.buckets = buckets

	recent := g.recent[:0]
	for _, s := range g.recent {
		if to := remap[s.node]; to >= 0 {
			recent = append(recent, sighting{at: s.at, node: to})
		}
	}
	g.recent = recent
	g.publish()
}

// publish snapshots the current clusters. Caller holds mu.
func (g *Graph) publish() {
	groups := make(map[int32][]types.Address)
	for i := range g.nodes {
		root := g.find(int32(i))
		groups[root] = append(groups[root], g.nodes[i].addr)
	}
	c := &Clusters{of: make(map[types.Address]int)}
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		id := len(c.groups)
		c.groups = append(c.groups, members)
		for _, m := range members {
			c.of[m] = id
		}
	}
	g.snap.Store(c)
}

// Clusters is an immutable set of detected clusters with at least two members.
type Clusters struct {
	groups [][]types.Address
	of     map[types.Address]int
}

// Len returns the number of clusters.
func (c *Clusters) Len() int { return len(c.groups) }

// All returns every cluster's members.
func (c *Clusters) All() [][]types.Address { return c.groups }

// Of returns the members of addr's cluster, nil when addr is unclustered.
func (c *Clusters) Of(addr types.Address) []types.Address {
	id, ok := c.of[addr]
	if !ok {
		return nil
	}
	return c.groups[id]
}
