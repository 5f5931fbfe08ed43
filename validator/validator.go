// Package validator orchestrates proof verification, novelty scoring, sybil
// analysis, workload checks and peer attestation into one accept or reject
// decision per submission.
package validator

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"cosmossdk.io/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/paw-chain/poc/app/telemetry"
	"github.com/paw-chain/poc/attestation"
	"github.com/paw-chain/poc/novelty"
	"github.com/paw-chain/poc/sybil"
	"github.com/paw-chain/poc/types"
)

// ProofVerifier checks a submission's zero-knowledge proof.
type ProofVerifier interface {
	VerifySubmission(ctx context.Context, sub types.ContributionSubmission) error
}

// NoveltyScorer compares a submission with recently accepted work.
type NoveltyScorer interface {
	Score(sub types.ContributionSubmission) (novelty.Result, error)
	Record(sub types.ContributionSubmission, sketch novelty.Sketch)
}

// SybilAnalyzer scores a submitter's correlation with other identities.
type SybilAnalyzer interface {
	Analyze(sub types.ContributionSubmission) (sybil.Result, error)
}

// AttestationCollector gathers peer votes on a submission.
type AttestationCollector interface {
	Collect(ctx context.Context, sub types.ContributionSubmission) (attestation.Result, error)
}

// Config configures the validator.
type Config struct {
	// ProofWorkers bounds concurrent proof verifications.
	ProofWorkers int `mapstructure:"proof_workers" json:"proof_workers"`
}

// DefaultConfig returns the default validator configuration.
func DefaultConfig() Config {
	return Config{ProofWorkers: runtime.NumCPU()}
}

// Validator runs the validation pipeline, short-circuiting on the first failure.
type Validator struct {
	proofs    ProofVerifier
	novelty   NoveltyScorer
	sybil     SybilAnalyzer
	attest    AttestationCollector
	workloads map[types.ContributionType]WorkloadValidator
	pool      *semaphore.Weighted
	logger    log.Logger
	metrics   *Metrics
	now       func() time.Time
}

// New creates a validator. A nil workloads map installs the defaults.
func New(
	config Config,
	proofs ProofVerifier,
	noveltyScorer NoveltyScorer,
	sybilAnalyzer SybilAnalyzer,
	attest AttestationCollector,
	workloads map[types.ContributionType]WorkloadValidator,
	logger log.Logger,
) (*Validator, error) {
	if config.ProofWorkers < 1 {
		return nil, fmt.Errorf("validator proof workers must be >= 1")
	}
	if workloads == nil {
		workloads = DefaultWorkloadValidators()
	}
	return &Validator{
		proofs:    proofs,
		novelty:   noveltyScorer,
		sybil:     sybilAnalyzer,
		attest:    attest,
		workloads: workloads,
		pool:      semaphore.NewWeighted(int64(config.ProofWorkers)),
		logger:    logger.With("module", "validator"),
		metrics:   NewMetrics(),
		now:       time.Now,
	}, nil
}

// Validate decides one submission. On success the submission is appended to
// the novelty window and the returned AcceptedContribution carries every
// sub-score.
func (v *Validator) Validate(ctx context.Context, sub types.ContributionSubmission) (acc types.AcceptedContribution, err error) {
	ctx, span := telemetry.StartComponentSpan(ctx, "validator", "validate")
	start := time.Now()
	stage := "basic"
	defer func() {
		v.metrics.Decisions.WithLabelValues(sub.ContributionType.String(), decisionLabel(err), stage).Inc()
		v.metrics.Duration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		telemetry.AddSpanAttributes(span, attribute.String("validator.stage", stage))
		telemetry.RecordError(span, err)
		span.End()
	}()

	if err := sub.ValidateBasic(); err != nil {
		return acc, err
	}

	stage = "proof"
	if err := v.verifyProof(ctx, sub); err != nil {
		return acc, err
	}

	stage = "novelty"
	nov, err := v.novelty.Score(sub)
	if err != nil {
		return acc, err
	}

	stage = "sybil"
	syb, err := v.sybil.Analyze(sub)
	if err != nil {
		return acc, err
	}

	stage = "workload"
	work, err := v.workload(sub)
	if err != nil {
		return acc, err
	}

	stage = "attestation"
	votes, err := v.attest.Collect(ctx, sub)
	if err != nil {
		return acc, err
	}

	stage = "accepted"
	acc = types.AcceptedContribution{
		Submission:        sub,
		Quality:           work.Quality,
		ComputeUnits:      work.ComputeUnits,
		NoveltyScore:      nov.Score,
		NoveltyMultiplier: nov.Multiplier,
		SybilRisk:         syb.Risk,
		Agreement:         votes.Agreement,
		PeerMultiplier:    sybil.PeerMultiplier(votes.Agreement, syb.Risk),
		Attesters:         votes.Attesters(),
		AcceptedAt:        v.now().UTC(),
	}
	v.novelty.Record(sub, nov.Sketch)

	v.logger.Info("contribution accepted",
		"contribution_id", sub.ID,
		"submitter", sub.Submitter,
		"type", sub.ContributionType,
		"quality", acc.Quality,
		"novelty", acc.NoveltyScore,
		"sybil_risk", acc.SybilRisk,
		"agreement", acc.Agreement,
	)
	return acc, nil
}

// Record appends an already accepted submission to the novelty window, used to
// warm the index from storage on startup.
func (v *Validator) Record(sub types.ContributionSubmission) {
	v.novelty.Record(sub, novelty.NewSketch(sub.Payload, sub.PayloadFingerprint))
}

// verifyProof runs the CPU-bound verification on the bounded worker pool.
func (v *Validator) verifyProof(ctx context.Context, sub types.ContributionSubmission) error {
	if err := v.pool.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for proof worker: %w", err)
	}
	defer v.pool.Release(1)
	return v.proofs.VerifySubmission(ctx, sub)
}

// workload derives compute units and the effective quality, which never
// exceeds what the submitter declared.
func (v *Validator) workload(sub types.ContributionSubmission) (WorkloadValidation, error) {
	wv, ok := v.workloads[sub.ContributionType]
	if !ok {
		return WorkloadValidation{ComputeUnits: defaultComputeUnits, Quality: sub.DeclaredQuality}, nil
	}
	res, err := wv.Validate(sub.Metadata.Workload)
	if err != nil {
		return WorkloadValidation{}, err
	}
	if sub.DeclaredQuality < res.Quality {
		res.Quality = sub.DeclaredQuality
	}
	return res, nil
}

func decisionLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case types.IsRetryable(err):
		return "retryable"
	default:
		return "rejected"
	}
}
