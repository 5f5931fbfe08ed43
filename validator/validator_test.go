package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/paw-chain/poc/attestation"
	"github.com/paw-chain/poc/network"
	"github.com/paw-chain/poc/novelty"
	"github.com/paw-chain/poc/sybil"
	"github.com/paw-chain/poc/testutil"
	"github.com/paw-chain/poc/types"
)

type ValidatorTestSuite struct {
	suite.Suite
	net       *network.Loopback
	attesters []types.Address
	validator *Validator
}

func (s *ValidatorTestSuite) SetupTest() {
	logger := log.NewNopLogger()
	s.net = network.NewLoopback(3, time.Second, logger)
	s.attesters = testutil.Attesters(s.net, 5, network.Accepting(1))

	scorer, err := novelty.NewScorer(novelty.DefaultConfig(), logger)
	s.Require().NoError(err)
	analyzer, err := sybil.NewAnalyzer(sybil.DefaultConfig(), logger)
	s.Require().NoError(err)
	collector, err := attestation.NewCollector(attestation.Config{
		SampleSize: 5, Quorum: 3, Window: 300 * time.Millisecond, MaxAttempts: 3,
	}, s.net, logger)
	s.Require().NoError(err)

	s.validator, err = New(Config{ProofWorkers: 2}, testutil.Registry(s.T()), scorer, analyzer, collector, nil, logger)
	s.Require().NoError(err)
}

func (s *ValidatorTestSuite) TearDownTest() {
	s.net.Wait()
}

func TestValidatorTestSuite(t *testing.T) {
	suite.Run(t, new(ValidatorTestSuite))
}

func (s *ValidatorTestSuite) TestAcceptsValidContribution() {
	sub := testutil.Submission(s.T(), testutil.Addr(1), testutil.Payload(1, 512))
	acc, err := s.validator.Validate(context.Background(), sub)
	s.Require().NoError(err)

	s.Require().Equal(sub.ID, acc.Submission.ID)
	s.Require().Equal(0.8, acc.Quality)
	s.Require().Equal(uint64(defaultComputeUnits), acc.ComputeUnits)
	s.Require().Equal(1.0, acc.NoveltyScore)
	s.Require().Equal(1.0, acc.NoveltyMultiplier)
	s.Require().Zero(acc.SybilRisk)
	s.Require().Equal(1.0, acc.Agreement)
	s.Require().InDelta(1.2, acc.PeerMultiplier, 1e-12)
	s.Require().Len(acc.Attesters, 3)
	for _, a := range acc.Attesters {
		s.Require().Contains(s.attesters, a)
	}
}

func (s *ValidatorTestSuite) TestStatelessFailures() {
	sub := testutil.Submission(s.T(), testutil.Addr(1), testutil.Payload(2, 64))
	sub.ID = uuid.Nil
	_, err := s.validator.Validate(context.Background(), sub)
	s.Require().ErrorIs(err, types.ErrInvalidSubmission)
	s.Require().True(types.IsTerminal(err))
}

func (s *ValidatorTestSuite) TestProofFailures() {
	payload := testutil.Payload(3, 256)

	inflated := testutil.Submission(s.T(), testutil.Addr(1), payload, testutil.WithQuality(0.6))
	inflated.DeclaredQuality = 0.95
	_, err := s.validator.Validate(context.Background(), inflated)
	s.Require().ErrorIs(err, types.ErrInvalidProof)
	s.Require().True(types.IsPenalized(err))

	stark := testutil.Submission(s.T(), testutil.Addr(1), payload)
	stark.Proof.Scheme = types.SchemeStark
	_, err = s.validator.Validate(context.Background(), stark)
	s.Require().ErrorIs(err, types.ErrSchemeUnsupported)
	s.Require().True(types.IsTerminal(err))

	// failed proofs never reach the novelty window
	honest := testutil.Submission(s.T(), testutil.Addr(1), payload)
	_, err = s.validator.Validate(context.Background(), honest)
	s.Require().NoError(err)
}

func (s *ValidatorTestSuite) TestDuplicateRejected() {
	payload := testutil.Payload(4, 1024)
	_, err := s.validator.Validate(context.Background(), testutil.Submission(s.T(), testutil.Addr(1), payload))
	s.Require().NoError(err)

	_, err = s.validator.Validate(context.Background(), testutil.Submission(s.T(), testutil.Addr(2), payload))
	s.Require().ErrorIs(err, types.ErrDuplicateContribution)
	s.Require().True(types.IsBadFaith(err))
}

func (s *ValidatorTestSuite) TestSybilRejected() {
	meta := testutil.WithMetadata(types.SubmissionMetadata{DeviceID: "farm-1"})
	for i := byte(1); i <= 2; i++ {
		_, err := s.validator.Validate(context.Background(),
			testutil.Submission(s.T(), testutil.Addr(i), testutil.Payload(uint64(10+i), 256), meta))
		s.Require().NoError(err)
	}
	_, err := s.validator.Validate(context.Background(),
		testutil.Submission(s.T(), testutil.Addr(3), testutil.Payload(13, 256), meta))
	s.Require().ErrorIs(err, types.ErrSybilSuspected)
	s.Require().True(types.IsBadFaith(err))
}

func (s *ValidatorTestSuite) TestPeerMultiplierDiscountedByRisk() {
	meta := testutil.WithMetadata(types.SubmissionMetadata{DeviceID: "shared-laptop"})
	_, err := s.validator.Validate(context.Background(),
		testutil.Submission(s.T(), testutil.Addr(1), testutil.Payload(20, 256), meta))
	s.Require().NoError(err)
	acc, err := s.validator.Validate(context.Background(),
		testutil.Submission(s.T(), testutil.Addr(2), testutil.Payload(21, 256), meta,
			testutil.WithTimestamp(testutil.Epoch0.Add(time.Hour))))
	s.Require().NoError(err)
	s.Require().InDelta(0.6, acc.SybilRisk, 1e-9)
	s.Require().InDelta(0.9+0.3*0.4, acc.PeerMultiplier, 1e-9)
}

func (s *ValidatorTestSuite) TestQuorumRetryThenAccept() {
	for _, a := range s.attesters {
		s.net.Join(a, network.Silent())
	}
	sub := testutil.Submission(s.T(), testutil.Addr(1), testutil.Payload(30, 256))
	_, err := s.validator.Validate(context.Background(), sub)
	s.Require().ErrorIs(err, types.ErrQuorumNotReached)
	s.Require().True(types.IsRetryable(err))

	for _, a := range s.attesters {
		s.net.Join(a, network.Accepting(1))
	}
	acc, err := s.validator.Validate(context.Background(), sub)
	s.Require().NoError(err)
	s.Require().Equal(1.0, acc.NoveltyScore, "the failed attempt left no novelty entry")
}

func (s *ValidatorTestSuite) TestAttestationRejection() {
	for _, a := range s.attesters {
		s.net.Join(a, network.QualityGate(0.7, 1))
	}
	_, err := s.validator.Validate(context.Background(),
		testutil.Submission(s.T(), testutil.Addr(1), testutil.Payload(40, 256), testutil.WithQuality(0.5)))
	s.Require().ErrorIs(err, types.ErrAttestationRejected)
	s.Require().True(types.IsPenalized(err))
}

func (s *ValidatorTestSuite) TestWorkloadCapsQuality() {
	sub := testutil.Submission(s.T(), testutil.Addr(1), testutil.Payload(50, 256),
		testutil.WithType(types.ContributionMLTraining),
		testutil.WithQuality(0.8),
		testutil.WithMetadata(types.SubmissionMetadata{Workload: map[string]float64{
			"epochs": 10, "batch_size": 64, "model_parameters": 1_000_000, "final_loss": 1,
		}}),
	)
	acc, err := s.validator.Validate(context.Background(), sub)
	s.Require().NoError(err)
	s.Require().Equal(0.5, acc.Quality)
	s.Require().Equal(uint64(640_000), acc.ComputeUnits)
}

func (s *ValidatorTestSuite) TestRecordWarmsNoveltyWindow() {
	sub := testutil.Submission(s.T(), testutil.Addr(1), testutil.Payload(60, 256))
	s.validator.Record(sub)
	replay := testutil.Submission(s.T(), testutil.Addr(1), sub.Payload)
	_, err := s.validator.Validate(context.Background(), replay)
	s.Require().ErrorIs(err, types.ErrDuplicateContribution)
}

func TestDefaultWorkloadValidators(t *testing.T) {
	vals := DefaultWorkloadValidators()

	res, err := vals[types.ContributionInferenceServing].Validate(map[string]float64{
		"requests_served": 100, "avg_latency_ms": 100, "accuracy": 0.9,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1000), res.ComputeUnits)
	require.InDelta(t, 0.95, res.Quality, 1e-12)

	res, err = vals[types.ContributionInferenceServing].Validate(map[string]float64{"avg_latency_ms": 1900})
	require.NoError(t, err)
	require.InDelta(t, (0.8+0.5)/2, res.Quality, 1e-12)

	res, err = vals[types.ContributionDataValidation].Validate(map[string]float64{
		"records_validated": 500, "validation_accuracy": 0.7,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(500), res.ComputeUnits)
	require.Equal(t, 0.7, res.Quality)

	res, err = vals[types.ContributionMLTraining].Validate(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(32_000), res.ComputeUnits)
	require.Equal(t, 0.5, res.Quality)

	_, err = vals[types.ContributionMLTraining].Validate(map[string]float64{"epochs": -1})
	require.ErrorIs(t, err, types.ErrInvalidSubmission)
}

type blockingVerifier struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingVerifier) VerifySubmission(ctx context.Context, _ types.ContributionSubmission) error {
	b.entered <- struct{}{}
	<-b.release
	return errors.New("not reached in assertions")
}

func TestProofPoolBoundsConcurrency(t *testing.T) {
	logger := log.NewNopLogger()
	scorer, err := novelty.NewScorer(novelty.DefaultConfig(), logger)
	require.NoError(t, err)
	analyzer, err := sybil.NewAnalyzer(sybil.DefaultConfig(), logger)
	require.NoError(t, err)
	bv := &blockingVerifier{entered: make(chan struct{}, 1), release: make(chan struct{})}
	v, err := New(Config{ProofWorkers: 1}, bv, scorer, analyzer, nil, nil, logger)
	require.NoError(t, err)

	sub := testutil.Submission(t, testutil.Addr(1), testutil.Payload(70, 64))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = v.Validate(context.Background(), sub)
	}()
	<-bv.entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = v.Validate(ctx, sub)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, types.IsRetryable(err))

	close(bv.release)
	<-done

	_, err = New(Config{ProofWorkers: 0}, bv, scorer, analyzer, nil, nil, logger)
	require.Error(t, err)
}
