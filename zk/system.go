package zk

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"

	"github.com/paw-chain/poc/types"
)

// System holds the compiled contribution circuit and keys for one scheme.
// Prover side only; nodes need just the verifying key.
type System struct {
	scheme types.ProofScheme
	ccs    constraint.ConstraintSystem

	groth16PK groth16.ProvingKey
	groth16VK groth16.VerifyingKey
	plonkPK   plonk.ProvingKey
	plonkVK   plonk.VerifyingKey
}

// SetupGroth16 compiles the circuit to R1CS and runs a single-party setup.
// Production keys come from an MPC ceremony and are loaded with LoadSystem.
func SetupGroth16() (*System, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &ContributionCircuit{})
	if err != nil {
		return nil, fmt.Errorf("failed to compile circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup failed: %w", err)
	}
	return &System{scheme: types.SchemeGroth16, ccs: ccs, groth16PK: pk, groth16VK: vk}, nil
}

// SetupPlonk compiles the circuit to SCS with an insecure development SRS.
func SetupPlonk() (*System, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, &ContributionCircuit{})
	if err != nil {
		return nil, fmt.Errorf("failed to compile circuit: %w", err)
	}
	srs, srsLagrange, err := unsafekzg.NewSRS(ccs)
	if err != nil {
		return nil, fmt.Errorf("failed to generate srs: %w", err)
	}
	pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
	if err != nil {
		return nil, fmt.Errorf("plonk setup failed: %w", err)
	}
	return &System{scheme: types.SchemePlonk, ccs: ccs, plonkPK: pk, plonkVK: vk}, nil
}

// Setup runs the development setup for the given scheme.
func Setup(scheme types.ProofScheme) (*System, error) {
	switch scheme {
	case types.SchemeGroth16:
		return SetupGroth16()
	case types.SchemePlonk:
		return SetupPlonk()
	default:
		return nil, types.ErrSchemeUnsupported.Wrapf("scheme %q", scheme)
	}
}

// Scheme returns the proving scheme.
func (s *System) Scheme() types.ProofScheme { return s.scheme }

// VerifyingKey serializes the verifying key.
func (s *System) VerifyingKey() ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch s.scheme {
	case types.SchemeGroth16:
		_, err = s.groth16VK.WriteTo(&buf)
	case types.SchemePlonk:
		_, err = s.plonkVK.WriteTo(&buf)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to serialize verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

// Verifier returns a verifier bound to this system's verifying key.
func (s *System) Verifier() (Verifier, error) {
	vk, err := s.VerifyingKey()
	if err != nil {
		return nil, err
	}
	switch s.scheme {
	case types.SchemeGroth16:
		return NewGroth16Verifier(vk)
	default:
		return NewPlonkVerifier(vk)
	}
}

// Prove produces a proof for stmt with the given work secret.
func (s *System) Prove(stmt Statement, secret []byte) (types.ZkProof, error) {
	if stmt.QualityBps > types.QualityScale {
		return types.ZkProof{}, fmt.Errorf("quality %d exceeds %d basis points", stmt.QualityBps, types.QualityScale)
	}
	assignment, commitment, err := fullAssignment(stmt, secret)
	if err != nil {
		return types.ZkProof{}, err
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return types.ZkProof{}, fmt.Errorf("failed to create witness: %w", err)
	}

	var buf bytes.Buffer
	switch s.scheme {
	case types.SchemeGroth16:
		proof, err := groth16.Prove(s.ccs, s.groth16PK, witness)
		if err != nil {
			return types.ZkProof{}, fmt.Errorf("failed to generate proof: %w", err)
		}
		if _, err := proof.WriteTo(&buf); err != nil {
			return types.ZkProof{}, err
		}
	case types.SchemePlonk:
		proof, err := plonk.Prove(s.ccs, s.plonkPK, witness)
		if err != nil {
			return types.ZkProof{}, fmt.Errorf("failed to generate proof: %w", err)
		}
		if _, err := proof.WriteTo(&buf); err != nil {
			return types.ZkProof{}, err
		}
	}

	return types.ZkProof{
		Scheme:       s.scheme,
		ProofBytes:   buf.Bytes(),
		PublicInputs: commitment,
	}, nil
}

// ProveSubmission fills in the proof of a submission.
func (s *System) ProveSubmission(sub *types.ContributionSubmission, secret []byte) error {
	proof, err := s.Prove(StatementFor(*sub), secret)
	if err != nil {
		return err
	}
	sub.Proof = proof
	return nil
}

const (
	circuitFile = "circuit.bin"
	pkFile      = "proving.key"
	vkFile      = "verifying.key"
)

// Save writes the constraint system and keys under dir/<scheme>.
func (s *System) Save(dir string) error {
	dir = filepath.Join(dir, string(s.scheme))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	var pk, vk io.WriterTo
	switch s.scheme {
	case types.SchemeGroth16:
		pk, vk = s.groth16PK, s.groth16VK
	default:
		pk, vk = s.plonkPK, s.plonkVK
	}
	for name, w := range map[string]io.WriterTo{circuitFile: s.ccs, pkFile: pk, vkFile: vk} {
		if err := writeFile(filepath.Join(dir, name), w); err != nil {
			return err
		}
	}
	return nil
}

// LoadSystem reads a system previously written with Save.
func LoadSystem(scheme types.ProofScheme, dir string) (*System, error) {
	dir = filepath.Join(dir, string(scheme))
	s := &System{scheme: scheme}

	var pk, vk io.ReaderFrom
	switch scheme {
	case types.SchemeGroth16:
		s.ccs = groth16.NewCS(ecc.BN254)
		s.groth16PK = groth16.NewProvingKey(ecc.BN254)
		s.groth16VK = groth16.NewVerifyingKey(ecc.BN254)
		pk, vk = s.groth16PK, s.groth16VK
	case types.SchemePlonk:
		s.ccs = plonk.NewCS(ecc.BN254)
		s.plonkPK = plonk.NewProvingKey(ecc.BN254)
		s.plonkVK = plonk.NewVerifyingKey(ecc.BN254)
		pk, vk = s.plonkPK, s.plonkVK
	default:
		return nil, types.ErrSchemeUnsupported.Wrapf("scheme %q", scheme)
	}

	for name, r := range map[string]io.ReaderFrom{circuitFile: s.ccs, pkFile: pk, vkFile: vk} {
		if err := readFile(filepath.Join(dir, name), r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadVerifier reads only the verifying key written by Save.
func LoadVerifier(scheme types.ProofScheme, dir string) (Verifier, error) {
	bz, err := os.ReadFile(filepath.Join(dir, string(scheme), vkFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read verifying key: %w", err)
	}
	switch scheme {
	case types.SchemeGroth16:
		return NewGroth16Verifier(bz)
	case types.SchemePlonk:
		return NewPlonkVerifier(bz)
	default:
		return nil, types.ErrSchemeUnsupported.Wrapf("scheme %q", scheme)
	}
}

func writeFile(path string, w io.WriterTo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := w.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func readFile(path string, r io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := r.ReadFrom(f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
