// Package zk verifies the zero-knowledge proofs attached to contribution
// submissions and milestone evidence.
package zk

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/frontend"

	"github.com/paw-chain/poc/app/telemetry"
	"github.com/paw-chain/poc/types"
)

// Verifier checks proofs of one scheme against the contribution circuit.
type Verifier interface {
	Scheme() types.ProofScheme
	Verify(proofBytes []byte, public *ContributionCircuit) error
}

// stubbable in tests
var (
	groth16Verify = groth16.Verify
	plonkVerify   = plonk.Verify
)

// Groth16Verifier verifies BN254 Groth16 proofs.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

// NewGroth16Verifier deserializes a verifying key.
func NewGroth16Verifier(vkBytes []byte) (*Groth16Verifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return nil, fmt.Errorf("failed to deserialize groth16 verifying key: %w", err)
	}
	return &Groth16Verifier{vk: vk}, nil
}

func (v *Groth16Verifier) Scheme() types.ProofScheme { return types.SchemeGroth16 }

func (v *Groth16Verifier) Verify(proofBytes []byte, public *ContributionCircuit) error {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("failed to deserialize proof: %w", err)
	}
	witness, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("failed to create witness: %w", err)
	}
	return groth16Verify(proof, v.vk, witness)
}

// PlonkVerifier verifies BN254 PLONK proofs.
type PlonkVerifier struct {
	vk plonk.VerifyingKey
}

// NewPlonkVerifier deserializes a verifying key.
func NewPlonkVerifier(vkBytes []byte) (*PlonkVerifier, error) {
	vk := plonk.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return nil, fmt.Errorf("failed to deserialize plonk verifying key: %w", err)
	}
	return &PlonkVerifier{vk: vk}, nil
}

func (v *PlonkVerifier) Scheme() types.ProofScheme { return types.SchemePlonk }

func (v *PlonkVerifier) Verify(proofBytes []byte, public *ContributionCircuit) error {
	proof := plonk.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("failed to deserialize proof: %w", err)
	}
	witness, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("failed to create witness: %w", err)
	}
	return plonkVerify(proof, v.vk, witness)
}

// Registry is the scheme to verifier table.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[types.ProofScheme]Verifier
	logger    log.Logger
	metrics   *Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger, verifiers ...Verifier) *Registry {
	r := &Registry{
		verifiers: make(map[types.ProofScheme]Verifier),
		logger:    logger.With("module", "zk"),
		metrics:   NewMetrics(),
	}
	for _, v := range verifiers {
		r.Register(v)
	}
	return r
}

// Register installs (or replaces) the verifier for its scheme.
func (r *Registry) Register(v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[v.Scheme()] = v
}

// Schemes lists the registered schemes.
func (r *Registry) Schemes() []types.ProofScheme {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ProofScheme, 0, len(r.verifiers))
	for s := range r.verifiers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// VerifySubmission checks a submission's proof against its own statement.
func (r *Registry) VerifySubmission(ctx context.Context, sub types.ContributionSubmission) error {
	return r.Verify(ctx, sub.Proof, StatementFor(sub))
}

// Verify dispatches on the proof scheme. Unknown schemes fail with
// ErrSchemeUnsupported and every other failure with ErrInvalidProof.
func (r *Registry) Verify(ctx context.Context, proof types.ZkProof, stmt Statement) (err error) {
	_, span := telemetry.StartComponentSpan(ctx, "zk", "verify")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	r.mu.RLock()
	v, ok := r.verifiers[proof.Scheme]
	r.mu.RUnlock()
	if !ok {
		r.metrics.ProofsVerified.WithLabelValues(string(proof.Scheme), "unsupported").Inc()
		return types.ErrSchemeUnsupported.Wrapf("scheme %q", proof.Scheme)
	}

	public, err := publicAssignment(stmt, proof.PublicInputs)
	if err != nil {
		r.metrics.ProofsVerified.WithLabelValues(string(proof.Scheme), "invalid").Inc()
		return types.ErrInvalidProof.Wrap(err.Error())
	}

	start := time.Now()
	verr := safeVerify(v, proof.ProofBytes, public)
	r.metrics.VerificationTime.WithLabelValues(string(proof.Scheme)).Observe(time.Since(start).Seconds())
	if verr != nil {
		r.metrics.ProofsVerified.WithLabelValues(string(proof.Scheme), "invalid").Inc()
		r.logger.Debug("proof verification failed", "scheme", proof.Scheme, "error", verr)
		return types.ErrInvalidProof.Wrap(verr.Error())
	}
	r.metrics.ProofsVerified.WithLabelValues(string(proof.Scheme), "valid").Inc()
	return nil
}

// safeVerify converts panics from malformed proof encodings into errors.
func safeVerify(v Verifier, proofBytes []byte, public *ContributionCircuit) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("verifier panic: %v", rec)
		}
	}()
	return v.Verify(proofBytes, public)
}
