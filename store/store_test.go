package store_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/paw-chain/poc/store"
	"github.com/paw-chain/poc/types"
)

type StoreTestSuite struct {
	suite.Suite
	store *store.KVStore
	ctx   context.Context
}

func (s *StoreTestSuite) SetupTest() {
	s.store = store.NewKVStore(dbm.NewMemDB(), log.NewNopLogger())
	s.ctx = context.Background()
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func testAddr(b byte) types.Address {
	return types.MustNewAddress(bytes.Repeat([]byte{b}, 20))
}

func testSubmission() types.ContributionSubmission {
	return types.ContributionSubmission{
		ID:                 uuid.New(),
		Submitter:          testAddr(1),
		ContributionType:   types.ContributionDataValidation,
		PayloadFingerprint: types.HashPayload([]byte("records")),
		Proof:              types.ZkProof{Scheme: types.SchemeGroth16, ProofBytes: []byte{0xaa}},
		DeclaredQuality:    0.9,
		Timestamp:          time.Now(),
	}
}

func (s *StoreTestSuite) TestSubmissionConsumedOnce() {
	sub := testSubmission()

	rec, err := s.store.BeginValidation(s.ctx, sub, 0)
	s.Require().NoError(err)
	s.Require().Equal(types.SubmissionInFlight, rec.Status)
	s.Require().Equal(1, rec.Attempts)

	_, err = s.store.BeginValidation(s.ctx, sub, 0)
	s.Require().ErrorIs(err, types.ErrSubmissionInFlight)

	s.Require().NoError(s.store.FinishValidation(s.ctx, sub.ID, types.SubmissionAccepted, "", &types.AcceptedContribution{Submission: sub}))

	_, err = s.store.BeginValidation(s.ctx, sub, 0)
	s.Require().ErrorIs(err, types.ErrSubmissionConsumed)

	ok, err := s.store.IsAccepted(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Require().True(ok)
}

func (s *StoreTestSuite) TestRetryableSubmissionCanBeReclaimed() {
	sub := testSubmission()
	_, err := s.store.BeginValidation(s.ctx, sub, 0)
	s.Require().NoError(err)
	s.Require().NoError(s.store.FinishValidation(s.ctx, sub.ID, types.SubmissionRetryable, "quorum", nil))

	rec, err := s.store.BeginValidation(s.ctx, sub, 0)
	s.Require().NoError(err)
	s.Require().Equal(2, rec.Attempts)

	s.Require().NoError(s.store.FinishValidation(s.ctx, sub.ID, types.SubmissionRetryable, "quorum", nil))
	changed := sub
	changed.PayloadFingerprint = types.HashPayload([]byte("other"))
	_, err = s.store.BeginValidation(s.ctx, changed, 0)
	s.Require().ErrorIs(err, types.ErrSubmissionConsumed)

	ok, err := s.store.IsAccepted(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Require().False(ok)
}

func (s *StoreTestSuite) TestRetryCapRejectsForGood() {
	sub := testSubmission()
	for attempt := 1; attempt <= 2; attempt++ {
		rec, err := s.store.BeginValidation(s.ctx, sub, 2)
		s.Require().NoError(err)
		s.Require().Equal(attempt, rec.Attempts)
		s.Require().NoError(s.store.FinishValidation(s.ctx, sub.ID, types.SubmissionRetryable, "quorum", nil))
	}

	rec, err := s.store.BeginValidation(s.ctx, sub, 2)
	s.Require().ErrorIs(err, types.ErrRetryLimitExceeded)
	s.Require().Equal(types.SubmissionRejected, rec.Status)

	stored, err := s.store.GetSubmission(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Require().Equal(types.SubmissionRejected, stored.Status)
	s.Require().Equal(2, stored.Attempts)

	_, err = s.store.BeginValidation(s.ctx, sub, 0)
	s.Require().ErrorIs(err, types.ErrSubmissionConsumed)
}

func (s *StoreTestSuite) TestRetryRefreshesConnectionFacts() {
	sub := testSubmission()
	sub.Metadata = types.SubmissionMetadata{DeviceID: "rig-1", SourceIP: "192.0.2.1", ReceivedAt: time.Unix(100, 0).UTC()}
	_, err := s.store.BeginValidation(s.ctx, sub, 0)
	s.Require().NoError(err)
	s.Require().NoError(s.store.FinishValidation(s.ctx, sub.ID, types.SubmissionRetryable, "quorum", nil))

	swapped := sub
	swapped.Metadata.DeviceID = "rig-2"
	_, err = s.store.BeginValidation(s.ctx, swapped, 0)
	s.Require().ErrorIs(err, types.ErrSubmissionConsumed)

	retry := sub
	retry.Metadata.SourceIP = "198.51.100.9"
	retry.Metadata.ReceivedAt = time.Unix(200, 0).UTC()
	rec, err := s.store.BeginValidation(s.ctx, retry, 0)
	s.Require().NoError(err)
	s.Require().Equal("198.51.100.9", rec.Submission.Metadata.SourceIP)
	s.Require().True(rec.Submission.Metadata.ReceivedAt.Equal(time.Unix(200, 0)))
	s.Require().Equal("rig-1", rec.Submission.Metadata.DeviceID)
}

func (s *StoreTestSuite) TestIterateSubmissions() {
	statuses := map[uuid.UUID]types.SubmissionStatus{}
	for i, status := range []types.SubmissionStatus{types.SubmissionAccepted, types.SubmissionRetryable, types.SubmissionInFlight} {
		sub := testSubmission()
		sub.PayloadFingerprint = types.HashPayload([]byte{byte(i)})
		_, err := s.store.BeginValidation(s.ctx, sub, 0)
		s.Require().NoError(err)
		if status != types.SubmissionInFlight {
			s.Require().NoError(s.store.FinishValidation(s.ctx, sub.ID, status, "", nil))
		}
		statuses[sub.ID] = status
	}

	seen := map[uuid.UUID]types.SubmissionStatus{}
	s.Require().NoError(s.store.IterateSubmissions(s.ctx, func(rec types.SubmissionRecord) bool {
		seen[rec.Submission.ID] = rec.Status
		return false
	}))
	s.Require().Equal(statuses, seen)

	visited := 0
	s.Require().NoError(s.store.IterateSubmissions(s.ctx, func(types.SubmissionRecord) bool {
		visited++
		return true
	}))
	s.Require().Equal(1, visited)
}

func (s *StoreTestSuite) TestReputationCompareAndSwap() {
	addr := testAddr(3)
	score, version, err := s.store.GetReputation(s.ctx, addr)
	s.Require().NoError(err)
	s.Require().Zero(version)
	s.Require().Empty(score.Address)

	next := types.NewReputationScore(addr)
	ok, err := s.store.CompareAndSwapReputation(s.ctx, addr, 0, next)
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = s.store.CompareAndSwapReputation(s.ctx, addr, 0, next)
	s.Require().NoError(err)
	s.Require().False(ok, "stale version must not write")

	next.Expertise[types.ContributionSymbolicMath] = 0.7
	ok, err = s.store.CompareAndSwapReputation(s.ctx, addr, 1, next)
	s.Require().NoError(err)
	s.Require().True(ok)

	got, version, err := s.store.GetReputation(s.ctx, addr)
	s.Require().NoError(err)
	s.Require().Equal(uint64(2), version)
	s.Require().InDelta(0.7, got.Expertise[types.ContributionSymbolicMath], 1e-12)

	var seen int
	s.Require().NoError(s.store.IterateReputations(s.ctx, func(types.ReputationScore) bool {
		seen++
		return false
	}))
	s.Require().Equal(1, seen)
}

func (s *StoreTestSuite) TestRewardReservationLifecycle() {
	id := uuid.New()
	rec := types.RewardRecord{ContributionID: id, Recipient: testAddr(4), Amount: math.LegacyNewDec(3), Epoch: 7}

	got, reserved, err := s.store.ReserveReward(s.ctx, rec)
	s.Require().NoError(err)
	s.Require().True(reserved)
	s.Require().Equal(types.RewardPending, got.Status)

	_, reserved, err = s.store.ReserveReward(s.ctx, rec)
	s.Require().NoError(err)
	s.Require().False(reserved)

	pending, err := s.store.PendingRewards(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	s.Require().NoError(s.store.ReleaseReservation(s.ctx, id))
	_, found, err := s.store.GetReward(s.ctx, id)
	s.Require().NoError(err)
	s.Require().False(found)

	_, reserved, err = s.store.ReserveReward(s.ctx, rec)
	s.Require().NoError(err)
	s.Require().True(reserved)
	s.Require().NoError(s.store.MarkIssued(s.ctx, rec))
	s.Require().ErrorIs(s.store.MarkIssued(s.ctx, rec), types.ErrDoubleIssuanceAttempt)
	s.Require().ErrorIs(s.store.ReleaseReservation(s.ctx, id), types.ErrDoubleIssuanceAttempt)

	byEpoch, err := s.store.RewardsByEpoch(s.ctx, 7)
	s.Require().NoError(err)
	s.Require().Len(byEpoch, 1)
	s.Require().Equal(types.RewardIssued, byEpoch[0].Status)
	s.Require().True(byEpoch[0].Amount.Equal(math.LegacyNewDec(3)))

	empty, err := s.store.RewardsByEpoch(s.ctx, 8)
	s.Require().NoError(err)
	s.Require().Empty(empty)
}

func (s *StoreTestSuite) TestRewardQuoteSurvivesRelease() {
	rec := types.RewardRecord{ContributionID: uuid.New(), Recipient: testAddr(4), Amount: math.LegacyNewDec(3), Epoch: 1}
	quoted, err := s.store.QuoteReward(s.ctx, rec)
	s.Require().NoError(err)
	s.Require().True(quoted.Amount.Equal(rec.Amount))

	_, reserved, err := s.store.ReserveReward(s.ctx, quoted)
	s.Require().NoError(err)
	s.Require().True(reserved)
	s.Require().NoError(s.store.ReleaseReservation(s.ctx, rec.ContributionID))

	repriced := rec
	repriced.Amount = math.LegacyNewDec(5)
	quoted, err = s.store.QuoteReward(s.ctx, repriced)
	s.Require().NoError(err)
	s.Require().True(quoted.Amount.Equal(rec.Amount), "first quote wins after a released reservation")

	_, reserved, err = s.store.ReserveReward(s.ctx, quoted)
	s.Require().NoError(err)
	s.Require().True(reserved)
	s.Require().NoError(s.store.MarkIssued(s.ctx, quoted))

	quoted, err = s.store.QuoteReward(s.ctx, repriced)
	s.Require().NoError(err)
	s.Require().True(quoted.Amount.Equal(repriced.Amount), "issuing drops the quote")
}

func (s *StoreTestSuite) TestConcurrentReservationsSingleWinner() {
	rec := types.RewardRecord{ContributionID: uuid.New(), Recipient: testAddr(5), Amount: math.LegacyOneDec()}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, reserved, err := s.store.ReserveReward(s.ctx, rec)
			s.Require().NoError(err)
			if reserved {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Require().Equal(1, wins)
}

func (s *StoreTestSuite) TestProposalsAndEpoch() {
	p := types.TreasuryProposal{ID: uuid.New(), Proposer: testAddr(6), Status: types.ProposalDrafted, RequestedAmount: math.LegacyNewDec(10)}
	_, err := s.store.GetProposal(s.ctx, p.ID)
	s.Require().ErrorIs(err, types.ErrProposalNotFound)

	s.Require().NoError(s.store.SetProposal(s.ctx, p))
	got, err := s.store.GetProposal(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Equal(types.ProposalDrafted, got.Status)

	var n int
	s.Require().NoError(s.store.IterateProposals(s.ctx, func(types.TreasuryProposal) bool { n++; return false }))
	s.Require().Equal(1, n)

	epoch, err := s.store.GetEpoch(s.ctx)
	s.Require().NoError(err)
	s.Require().Zero(epoch)
	s.Require().NoError(s.store.SetEpoch(s.ctx, 42))
	epoch, err = s.store.GetEpoch(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(uint64(42), epoch)
}

func TestOpenGoLevelDB(t *testing.T) {
	kv, err := store.Open("poc", "goleveldb", t.TempDir(), log.NewNopLogger())
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.SetEpoch(context.Background(), 3))
	epoch, err := kv.GetEpoch(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(3), epoch)
}
