package reputation

import (
	"context"
	"sync"
	"testing"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"pgregory.net/rapid"

	"github.com/paw-chain/poc/store"
	"github.com/paw-chain/poc/testutil"
	"github.com/paw-chain/poc/types"
)

type LedgerTestSuite struct {
	suite.Suite
	ctx    context.Context
	store  *store.KVStore
	ledger *Ledger
}

func (s *LedgerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewKVStore(dbm.NewMemDB(), log.NewNopLogger())
	var err error
	s.ledger, err = NewLedger(DefaultConfig(), s.store, log.NewNopLogger())
	s.Require().NoError(err)
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func accepted(q, agreement float64) types.Outcome {
	return types.Outcome{
		Kind:             types.OutcomeAccepted,
		ContributionType: types.ContributionMLTraining,
		Quality:          q,
		Agreement:        agreement,
	}
}

func (s *LedgerTestSuite) TestDefaultsForUnknownAddress() {
	score, err := s.ledger.Read(s.ctx, testutil.Addr(1), 7)
	s.Require().NoError(err)
	s.Require().Equal(types.DefaultConsistency, score.Consistency)
	s.Require().Equal(types.DefaultPeerTrust, score.PeerTrust)
	s.Require().Equal(types.DefaultExpertise, score.ExpertiseFor(types.ContributionSimulation))
	s.Require().Equal(uint64(7), score.LastUpdatedEpoch)
}

func (s *LedgerTestSuite) TestAcceptedOutcome() {
	score, err := s.ledger.Update(s.ctx, testutil.Addr(1), 1, accepted(0.8, 1))
	s.Require().NoError(err)
	s.Require().InDelta(0.55, score.Consistency, 1e-12)
	s.Require().InDelta(0.38, score.ExpertiseFor(types.ContributionMLTraining), 1e-12)
	s.Require().InDelta(0.6, score.PeerTrust, 1e-12)
	s.Require().Equal(uint64(1), score.Contributions)
	s.Require().InDelta(0.8, score.AverageQuality(), 1e-12)

	read, err := s.ledger.Read(s.ctx, testutil.Addr(1), 1)
	s.Require().NoError(err)
	s.Require().Equal(score, read)
}

func (s *LedgerTestSuite) TestBadFaithPenaltyExceedsRejection() {
	rejected, err := s.ledger.Update(s.ctx, testutil.Addr(1), 1, types.Outcome{
		Kind: types.OutcomeRejected, ContributionType: types.ContributionSimulation,
	})
	s.Require().NoError(err)
	badFaith, err := s.ledger.Update(s.ctx, testutil.Addr(2), 1, types.Outcome{
		Kind: types.OutcomeBadFaith, ContributionType: types.ContributionSimulation,
	})
	s.Require().NoError(err)

	s.Require().Less(badFaith.Consistency, rejected.Consistency)
	s.Require().InDelta(0.48, rejected.Consistency, 1e-12)
	s.Require().InDelta(0.4, badFaith.Consistency, 1e-12)
	s.Require().InDelta(0.4, badFaith.PeerTrust, 1e-12)
	s.Require().InDelta(0.25, badFaith.ExpertiseFor(types.ContributionSimulation), 1e-12)
	s.Require().Equal(uint64(1), badFaith.Penalties)
	s.Require().Zero(rejected.Penalties)
}

func (s *LedgerTestSuite) TestLazyDecayOnRead() {
	addr := testutil.Addr(1)
	_, err := s.ledger.Update(s.ctx, addr, 10, accepted(1, 1))
	s.Require().NoError(err)

	score, err := s.ledger.Read(s.ctx, addr, 20)
	s.Require().NoError(err)
	s.Require().InDelta(0.55*0.5987369392, score.Consistency, 1e-9)

	// reads never write back
	stored, _, err := s.store.GetReputation(s.ctx, addr)
	s.Require().NoError(err)
	s.Require().InDelta(0.55, stored.Consistency, 1e-12)
	s.Require().Equal(uint64(10), stored.LastUpdatedEpoch)

	idle, err := s.ledger.Read(s.ctx, addr, 10_000)
	s.Require().NoError(err)
	s.Require().Equal(DefaultConfig().Floor, idle.Consistency)
	s.Require().Equal(DefaultConfig().Floor, idle.PeerTrust)
}

func (s *LedgerTestSuite) TestStaleEpochRejected() {
	addr := testutil.Addr(1)
	_, err := s.ledger.Update(s.ctx, addr, 5, accepted(0.5, 1))
	s.Require().NoError(err)
	_, err = s.ledger.Update(s.ctx, addr, 4, accepted(0.5, 1))
	s.Require().ErrorIs(err, types.ErrStaleEpoch)
	_, err = s.ledger.Update(s.ctx, addr, 5, accepted(0.5, 1))
	s.Require().NoError(err)
}

func (s *LedgerTestSuite) TestPenaltiesStopAtFloor() {
	addr := testutil.Addr(1)
	var score types.ReputationScore
	var err error
	for i := 0; i < 20; i++ {
		score, err = s.ledger.Update(s.ctx, addr, 1, types.Outcome{
			Kind: types.OutcomeBadFaith, ContributionType: types.ContributionSimulation,
		})
		s.Require().NoError(err)
	}
	s.Require().Equal(0.05, score.Consistency)
	s.Require().Equal(0.05, score.PeerTrust)
	s.Require().Equal(uint64(20), score.Penalties)
}

func (s *LedgerTestSuite) TestConcurrentUpdatesAllApply() {
	addr := testutil.Addr(1)
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ledger.Update(s.ctx, addr, 3, types.Outcome{
				Kind: types.OutcomeRejected, ContributionType: types.ContributionSimulation,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	score, err := s.ledger.Read(s.ctx, addr, 3)
	s.Require().NoError(err)
	s.Require().Equal(uint64(writers), score.Rejections)
	s.Require().InDelta(0.5-writers*0.02, score.Consistency, 1e-9)
}

func (s *LedgerTestSuite) TestCapCluster() {
	members := []types.Address{testutil.Addr(1), testutil.Addr(2)}
	for _, m := range members {
		for i := 0; i < 5; i++ {
			_, err := s.ledger.Update(s.ctx, m, 1, accepted(1, 1))
			s.Require().NoError(err)
		}
	}

	n, err := s.ledger.CapCluster(s.ctx, members, 1)
	s.Require().NoError(err)
	s.Require().Equal(2, n)

	n, err = s.ledger.CapCluster(s.ctx, members, 1)
	s.Require().NoError(err)
	s.Require().Zero(n, "already capped")

	// perfect agreement no longer lifts trust above the cap
	score, err := s.ledger.Update(s.ctx, members[0], 2, accepted(1, 1))
	s.Require().NoError(err)
	s.Require().Equal(0.3, score.PeerTrust)
	s.Require().Equal(0.3, score.PeerTrustCeiling)

	stats, err := s.ledger.Stats(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Equal(2, stats.Addresses)
	s.Require().Equal(2, stats.ClusterCapped)
	s.Require().Equal(uint64(11), stats.Contributions)
}

func (s *LedgerTestSuite) TestTopOrdersByOverallScore() {
	for i, n := range []int{1, 4, 2} {
		for j := 0; j < n; j++ {
			_, err := s.ledger.Update(s.ctx, testutil.Addr(byte(i+1)), 1, accepted(1, 1))
			s.Require().NoError(err)
		}
	}
	top, err := s.ledger.Top(s.ctx, 2, 1)
	s.Require().NoError(err)
	s.Require().Len(top, 2)
	s.Require().Equal(testutil.Addr(2), top[0].Address)
	s.Require().Equal(testutil.Addr(3), top[1].Address)

	all, err := s.ledger.Top(s.ctx, -1, 1)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
}

func (s *LedgerTestSuite) TestInvalidOutcome() {
	_, err := s.ledger.Update(s.ctx, testutil.Addr(1), 1, types.Outcome{})
	s.Require().ErrorIs(err, types.ErrInvalidSubmission)
	_, err = s.ledger.Update(s.ctx, types.Address("nope"), 1, accepted(1, 1))
	s.Require().ErrorIs(err, types.ErrInvalidSubmission)
}

func TestDecay(t *testing.T) {
	score := types.NewReputationScore(testutil.Addr(1))
	score.Consistency = 1
	score.Expertise[types.ContributionSimulation] = 0.9

	decayed := Decay(score, 10, 0.95, 0.05)
	require.InDelta(t, 0.5987369392, decayed.Consistency, 1e-9)
	require.InDelta(t, 0.9*0.5987369392, decayed.Expertise[types.ContributionSimulation], 1e-9)
	require.Equal(t, 0.9, score.Expertise[types.ContributionSimulation], "input left untouched")

	require.Equal(t, score.Consistency, Decay(score, 0, 0.95, 0.05).Consistency)
}

func TestDecayProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		score := types.NewReputationScore(testutil.Addr(1))
		score.Consistency = rapid.Float64Range(0.05, 1).Draw(t, "consistency")
		a := rapid.Uint64Range(0, 500).Draw(t, "a")
		b := rapid.Uint64Range(0, 500).Draw(t, "b")

		once := Decay(score, a+b, 0.95, 0.05)
		twice := Decay(Decay(score, a, 0.95, 0.05), b, 0.95, 0.05)
		if once.Consistency < 0.05 || twice.Consistency < 0.05 {
			t.Fatalf("decayed below floor: %v %v", once.Consistency, twice.Consistency)
		}
		if once.Consistency > score.Consistency+1e-12 {
			t.Fatalf("decay increased consistency")
		}
		require.InDelta(t, once.Consistency, twice.Consistency, 1e-9)
	})
}

func TestAcceptedUpdatesCommute(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		qualities := rapid.SliceOfN(rapid.Float64Range(0, 1), 1, 12).Draw(t, "qualities")

		run := func(order []float64) types.ReputationScore {
			l, err := NewLedger(DefaultConfig(), store.NewKVStore(dbm.NewMemDB(), log.NewNopLogger()), log.NewNopLogger())
			require.NoError(t, err)
			var score types.ReputationScore
			for _, q := range order {
				score, err = l.Update(context.Background(), testutil.Addr(1), 1, accepted(q, 1))
				require.NoError(t, err)
			}
			return score
		}

		reversed := make([]float64, len(qualities))
		for i, q := range qualities {
			reversed[len(qualities)-1-i] = q
		}
		a, b := run(qualities), run(reversed)
		require.InDelta(t, a.Consistency, b.Consistency, 1e-9)
		require.InDelta(t, a.ExpertiseFor(types.ContributionMLTraining), b.ExpertiseFor(types.ContributionMLTraining), 1e-9)
		require.InDelta(t, a.QualitySum, b.QualitySum, 1e-9)
		require.Equal(t, a.Contributions, b.Contributions)
	})
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.DecayFactor = 1.2
	require.Error(t, c.Validate())

	c = DefaultConfig()
	c.BadFaith.Consistency = 0.01
	require.Error(t, c.Validate())

	c = DefaultConfig()
	c.MaxRetries = 0
	require.Error(t, c.Validate())
}
