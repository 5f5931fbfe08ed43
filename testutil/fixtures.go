// Package testutil holds shared fixtures for package tests: addresses,
// proven submissions, cached proving systems and scripted attester sets.
package testutil

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/paw-chain/poc/network"
	"github.com/paw-chain/poc/types"
	"github.com/paw-chain/poc/zk"
)

// Epoch0 is the reference timestamp of fixture submissions.
var Epoch0 = time.Unix(1_700_000_000, 0).UTC()

// WorkSecret is the proving secret of fixture submissions.
var WorkSecret = []byte("fixture-work-secret")

// Addr returns a deterministic bech32 address.
func Addr(i byte) types.Address {
	return types.MustNewAddress(bytes.Repeat([]byte{i}, 20))
}

// AddrN returns a deterministic address for larger index spaces.
func AddrN(n int) types.Address {
	bz := make([]byte, 20)
	binary.BigEndian.PutUint32(bz, uint32(n))
	bz[19] = 0x5c
	return types.MustNewAddress(bz)
}

// Dec parses a decimal amount or panics.
func Dec(s string) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(s)
}

var (
	groth16Once sync.Once
	groth16Sys  *zk.System
	groth16Err  error
)

// Groth16 returns a process-wide Groth16 system for the contribution circuit.
func Groth16(t testing.TB) *zk.System {
	t.Helper()
	groth16Once.Do(func() {
		groth16Sys, groth16Err = zk.SetupGroth16()
	})
	require.NoError(t, groth16Err)
	return groth16Sys
}

// Registry returns a verifier registry backed by the cached Groth16 system.
func Registry(t testing.TB) *zk.Registry {
	t.Helper()
	v, err := Groth16(t).Verifier()
	require.NoError(t, err)
	return zk.NewRegistry(log.NewNopLogger(), v)
}

// SubmissionOption customizes a fixture submission before it is proven.
type SubmissionOption func(*types.ContributionSubmission)

// WithQuality sets the declared quality.
func WithQuality(q float64) SubmissionOption {
	return func(s *types.ContributionSubmission) { s.DeclaredQuality = q }
}

// WithType sets the contribution type.
func WithType(t types.ContributionType) SubmissionOption {
	return func(s *types.ContributionSubmission) { s.ContributionType = t }
}

// WithMetadata sets the sybil and workload metadata.
func WithMetadata(m types.SubmissionMetadata) SubmissionOption {
	return func(s *types.ContributionSubmission) { s.Metadata = m }
}

// WithTimestamp sets the submission time.
func WithTimestamp(at time.Time) SubmissionOption {
	return func(s *types.ContributionSubmission) { s.Timestamp = at }
}

// Submission builds and proves a submission of payload by submitter.
func Submission(t testing.TB, submitter types.Address, payload []byte, opts ...SubmissionOption) types.ContributionSubmission {
	t.Helper()
	sub := types.ContributionSubmission{
		ID:                 uuid.New(),
		Submitter:          submitter,
		ContributionType:   types.ContributionSimulation,
		PayloadFingerprint: types.HashPayload(payload),
		Payload:            payload,
		DeclaredQuality:    0.8,
		Timestamp:          Epoch0,
	}
	for _, opt := range opts {
		opt(&sub)
	}
	require.NoError(t, Groth16(t).ProveSubmission(&sub, WorkSecret))
	return sub
}

// Payload returns n pseudo-random bytes derived from seed.
func Payload(seed uint64, n int) []byte {
	out := make([]byte, n)
	x := seed*0x9e3779b97f4a7c15 + 1
	for i := range out {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		out[i] = byte(x)
	}
	return out
}

// Attesters joins n attesters with the same policy, addressed from 200 upwards.
func Attesters(l *network.Loopback, n int, a network.Attester) []types.Address {
	out := make([]types.Address, n)
	for i := 0; i < n; i++ {
		out[i] = AddrN(200 + i)
		l.Join(out[i], a)
	}
	return out
}
