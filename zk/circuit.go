package zk

import (
	"fmt"
	stdmath "math"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcbn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"golang.org/x/crypto/blake2b"

	"github.com/paw-chain/poc/types"
)

// ContributionCircuit proves that the submitter knows the work secret behind a
// commitment bound to the payload fingerprint and their own address, and that
// the declared quality is within range.
//
// Circuit Statement: "MiMC(fingerprint, submitter, secret) = commitment and
// quality <= 10000 basis points."
type ContributionCircuit struct {
	// Public inputs
	Fingerprint frontend.Variable `gnark:",public"`
	Submitter   frontend.Variable `gnark:",public"`
	Quality     frontend.Variable `gnark:",public"`
	Commitment  frontend.Variable `gnark:",public"`

	// Private inputs
	WorkSecret frontend.Variable `gnark:",secret"`
}

// Define implements frontend.Circuit.
func (c *ContributionCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return fmt.Errorf("failed to initialize MiMC hasher: %w", err)
	}

	h.Write(c.Fingerprint, c.Submitter, c.WorkSecret)
	api.AssertIsEqual(h.Sum(), c.Commitment)

	api.AssertIsDifferent(c.WorkSecret, 0)
	api.AssertIsLessOrEqual(c.Quality, types.QualityScale)
	return nil
}

// Statement is the public claim a proof is checked against.
type Statement struct {
	Fingerprint types.Hash
	Submitter   types.Address
	QualityBps  uint64
}

// StatementFor derives the statement a submission's proof must satisfy.
func StatementFor(sub types.ContributionSubmission) Statement {
	return Statement{
		Fingerprint: sub.PayloadFingerprint,
		Submitter:   sub.Submitter,
		QualityBps:  QualityBps(sub.DeclaredQuality),
	}
}

// QualityBps converts a [0,1] quality to basis points.
func QualityBps(q float64) uint64 {
	if q <= 0 || stdmath.IsNaN(q) {
		return 0
	}
	if q >= 1 {
		return types.QualityScale
	}
	return uint64(stdmath.Round(q * types.QualityScale))
}

func fingerprintElement(h types.Hash) fr.Element {
	var el fr.Element
	el.SetBytes(h[:])
	return el
}

func submitterElement(addr types.Address) fr.Element {
	digest := blake2b.Sum256([]byte(addr))
	var el fr.Element
	el.SetBytes(digest[:])
	return el
}

func secretElement(secret []byte) (fr.Element, error) {
	var el fr.Element
	if len(secret) == 0 || len(secret) > fr.Bytes {
		return el, fmt.Errorf("work secret must be 1..%d bytes", fr.Bytes)
	}
	el.SetBytes(secret)
	if el.IsZero() {
		return el, fmt.Errorf("work secret reduces to zero")
	}
	return el, nil
}

// Commitment computes the MiMC commitment for a statement and work secret, in
// the canonical 32 byte encoding carried as a proof's public inputs.
func Commitment(stmt Statement, secret []byte) ([]byte, error) {
	sec, err := secretElement(secret)
	if err != nil {
		return nil, err
	}
	fp := fingerprintElement(stmt.Fingerprint)
	sub := submitterElement(stmt.Submitter)

	h := mimcbn254.NewMiMC()
	for _, el := range []fr.Element{fp, sub, sec} {
		bz := el.Bytes()
		if _, err := h.Write(bz[:]); err != nil {
			return nil, err
		}
	}
	return h.Sum(nil), nil
}

// publicAssignment rebuilds the public witness from the statement and the
// commitment claimed by the prover.
func publicAssignment(stmt Statement, commitment []byte) (*ContributionCircuit, error) {
	if len(commitment) != fr.Bytes {
		return nil, fmt.Errorf("public inputs must be a %d byte commitment, got %d", fr.Bytes, len(commitment))
	}
	var com fr.Element
	if err := com.SetBytesCanonical(commitment); err != nil {
		return nil, fmt.Errorf("commitment is not a canonical field element: %w", err)
	}
	fp := fingerprintElement(stmt.Fingerprint)
	sub := submitterElement(stmt.Submitter)
	return &ContributionCircuit{
		Fingerprint: fp,
		Submitter:   sub,
		Quality:     stmt.QualityBps,
		Commitment:  com,
	}, nil
}

func fullAssignment(stmt Statement, secret []byte) (*ContributionCircuit, []byte, error) {
	commitment, err := Commitment(stmt, secret)
	if err != nil {
		return nil, nil, err
	}
	assignment, err := publicAssignment(stmt, commitment)
	if err != nil {
		return nil, nil, err
	}
	sec, err := secretElement(secret)
	if err != nil {
		return nil, nil, err
	}
	assignment.WorkSecret = sec
	return assignment, commitment, nil
}
