package sybil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"pgregory.net/rapid"

	"github.com/paw-chain/poc/types"
)

var t0 = time.Unix(1_700_000_000, 0)

func addr(i byte) types.Address {
	return types.MustNewAddress(bytes.Repeat([]byte{i}, 20))
}

func addrN(n int) types.Address {
	bz := make([]byte, 20)
	binary.BigEndian.PutUint16(bz, uint16(n))
	bz[19] = 0xaa
	return types.MustNewAddress(bz)
}

func sub(a types.Address, at time.Time, meta types.SubmissionMetadata) types.ContributionSubmission {
	return types.ContributionSubmission{
		ID:               uuid.New(),
		Submitter:        a,
		ContributionType: types.ContributionInferenceServing,
		Timestamp:        at,
		Metadata:         meta,
	}
}

type SybilTestSuite struct {
	suite.Suite
	analyzer *Analyzer
}

func (s *SybilTestSuite) SetupTest() {
	var err error
	s.analyzer, err = NewAnalyzer(DefaultConfig(), log.NewNopLogger())
	s.Require().NoError(err)
}

func TestSybilTestSuite(t *testing.T) {
	suite.Run(t, new(SybilTestSuite))
}

func (s *SybilTestSuite) TestUnrelatedAddressesCarryNoRisk() {
	for i := byte(1); i <= 5; i++ {
		res, err := s.analyzer.Analyze(sub(addr(i), t0, types.SubmissionMetadata{
			DeviceID: fmt.Sprintf("device-%d", i),
			SourceIP: fmt.Sprintf("10.0.%d.7", i),
		}))
		s.Require().NoError(err)
		s.Require().Zero(res.Risk)
		s.Require().Nil(res.Cluster)
	}
	s.Require().Zero(s.analyzer.Graph().Clusters().Len())
}

func (s *SybilTestSuite) TestSharedDeviceFormsCluster() {
	meta := types.SubmissionMetadata{DeviceID: "gpu-rig-1"}
	_, err := s.analyzer.Analyze(sub(addr(1), t0, meta))
	s.Require().NoError(err)

	res, err := s.analyzer.Analyze(sub(addr(2), t0.Add(time.Minute), meta))
	s.Require().NoError(err)
	s.Require().InDelta(0.6, res.Risk, 1e-9)
	s.Require().ElementsMatch([]types.Address{addr(1), addr(2)}, res.Cluster)

	s.Require().InDelta(0.6, s.analyzer.Graph().Risk(addr(1)), 1e-9)
	s.Require().True(s.analyzer.InCluster(addr(1)))
	s.Require().True(s.analyzer.InCluster(addr(2)))
	s.Require().False(s.analyzer.InCluster(addr(3)))

	// a third identity on the same device crosses the threshold
	res, err = s.analyzer.Analyze(sub(addr(3), t0.Add(2*time.Minute), meta))
	s.Require().ErrorIs(err, types.ErrSybilSuspected)
	s.Require().InDelta(0.84, res.Risk, 1e-9)
	s.Require().Len(res.Cluster, 3)
}

func (s *SybilTestSuite) TestDeviceAndStakeAncestryRejected() {
	parent := addr(9)
	meta := types.SubmissionMetadata{DeviceID: "phone-7", StakeParent: parent}
	_, err := s.analyzer.Analyze(sub(addr(1), t0, meta))
	s.Require().NoError(err)

	_, err = s.analyzer.Analyze(sub(addr(2), t0.Add(time.Hour), meta))
	s.Require().ErrorIs(err, types.ErrSybilSuspected)
}

func (s *SybilTestSuite) TestStakeAncestryLinksParentAndSiblings() {
	parent := addr(9)
	_, err := s.analyzer.Analyze(sub(addr(1), t0, types.SubmissionMetadata{StakeParent: parent}))
	s.Require().NoError(err)
	res, err := s.analyzer.Analyze(sub(addr(2), t0.Add(time.Hour), types.SubmissionMetadata{StakeParent: parent}))
	s.Require().NoError(err)
	s.Require().InDelta(0.4, res.Risk, 1e-9)
	s.Require().Nil(res.Cluster, "stake alone is below the cluster threshold")

	res, err = s.analyzer.Analyze(sub(parent, t0.Add(2*time.Hour), types.SubmissionMetadata{}))
	s.Require().NoError(err)
	s.Require().InDelta(1-0.6*0.6, res.Risk, 1e-9)
}

func (s *SybilTestSuite) TestTimingOnlyStrengthensStructuralLinks() {
	// same subnet, repeated lockstep submissions
	for i := 0; i < 20; i++ {
		a := addr(byte(1 + i%2))
		_, err := s.analyzer.Analyze(sub(a, t0.Add(time.Duration(i)*time.Second), types.SubmissionMetadata{SourceIP: "192.168.4.20"}))
		s.Require().NoError(err)
	}
	s.Require().InDelta(0.45, s.analyzer.Graph().Risk(addr(1)), 1e-9)
	s.Require().False(s.analyzer.InCluster(addr(1)))

	// lockstep without any structural signal creates no edge
	for i := 0; i < 20; i++ {
		a := addr(byte(3 + i%2))
		_, err := s.analyzer.Analyze(sub(a, t0.Add(time.Duration(i)*time.Second), types.SubmissionMetadata{
			SourceIP: fmt.Sprintf("172.16.%d.1", i%2),
		}))
		s.Require().NoError(err)
	}
	s.Require().Zero(s.analyzer.Graph().Risk(addr(3)))
}

func (s *SybilTestSuite) TestTimingUsesReceiveTime() {
	received := t0.Add(time.Hour)
	submission := sub(addr(1), t0.Add(-30*24*time.Hour), types.SubmissionMetadata{ReceivedAt: received})
	s.Require().Equal(received, ObservationFor(submission).At)

	// a backdated timestamp does not make the address look idle
	_, err := s.analyzer.Analyze(submission)
	s.Require().NoError(err)
	s.Require().Zero(s.analyzer.Prune(received.Add(24 * time.Hour)))
	s.Require().Equal(1, s.analyzer.Graph().Len())

	s.Require().Equal(t0, ObservationFor(sub(addr(2), t0, types.SubmissionMetadata{})).At)
}

func (s *SybilTestSuite) TestPruneDropsIdleAddresses() {
	meta := types.SubmissionMetadata{DeviceID: "shared"}
	_, err := s.analyzer.Analyze(sub(addr(1), t0, meta))
	s.Require().NoError(err)
	_, err = s.analyzer.Analyze(sub(addr(2), t0, meta))
	s.Require().NoError(err)
	s.Require().True(s.analyzer.InCluster(addr(1)))

	dropped := s.analyzer.Prune(t0.Add(8 * 24 * time.Hour))
	s.Require().Equal(2, dropped)
	s.Require().Zero(s.analyzer.Graph().Len())
	s.Require().False(s.analyzer.InCluster(addr(1)))

	// the device bucket no longer links new addresses to pruned ones
	res, err := s.analyzer.Analyze(sub(addr(3), t0.Add(9*24*time.Hour), meta))
	s.Require().NoError(err)
	s.Require().Zero(res.Risk)
}

func TestGraphCompactionBoundsArena(t *testing.T) {
	cfg := DefaultGraphConfig()
	cfg.MaxNodes = 8
	g := NewGraph(cfg)
	for i := 0; i < 40; i++ {
		g.Observe(Observation{Address: addr(byte(i + 1)), DeviceID: "d", At: t0.Add(time.Duration(i) * time.Hour)})
		require.LessOrEqual(t, g.Len(), cfg.MaxNodes)
	}
	// the newest address is always retained and still clustered
	require.NotNil(t, g.ClusterOf(addr(40)))
}

func TestConcurrentObserve(t *testing.T) {
	g := NewGraph(DefaultGraphConfig())
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				a := addrN(w*50 + i%50)
				g.Observe(Observation{Address: a, DeviceID: fmt.Sprintf("dev-%d", w), At: t0.Add(time.Duration(i) * time.Millisecond)})
				_ = g.ClusterOf(a)
				_ = g.Risk(a)
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 8, g.Clusters().Len())
}

func TestParseSubnet(t *testing.T) {
	require.Equal(t, "10.1.2.0/24", ParseSubnet("10.1.2.77"))
	require.Equal(t, "2001:db8:aa::/48", ParseSubnet("2001:db8:aa:bb::1"))
	require.Empty(t, ParseSubnet("not-an-ip"))
}

func TestPeerMultiplier(t *testing.T) {
	require.InDelta(t, 1.2, PeerMultiplier(1, 0), 1e-12)
	require.InDelta(t, 0.9, PeerMultiplier(0, 0), 1e-12)
	require.InDelta(t, 0.9, PeerMultiplier(1, 1), 1e-12)
	require.InDelta(t, 1.05, PeerMultiplier(1, 0.5), 1e-12)

	rapid.Check(t, func(rt *rapid.T) {
		agreement := rapid.Float64Range(-1, 2).Draw(rt, "agreement")
		r1 := rapid.Float64Range(0, 1).Draw(rt, "r1")
		r2 := rapid.Float64Range(r1, 1).Draw(rt, "r2")
		m1, m2 := PeerMultiplier(agreement, r1), PeerMultiplier(agreement, r2)
		require.GreaterOrEqual(rt, m1, m2, "higher risk never raises the multiplier")
		require.GreaterOrEqual(rt, m2, 0.9)
		require.LessOrEqual(rt, m1, 1.2)
	})
}
