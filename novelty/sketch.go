// Package novelty detects duplicate and near-duplicate work against a
// bounded window of recently accepted contributions.
package novelty

import (
	"encoding/binary"
	"math"
	"strconv"

	"lukechampine.com/blake3"

	"github.com/paw-chain/poc/types"
)

const (
	// SketchSize is the number of MinHash slots per sketch.
	SketchSize = 64

	shingleSize = 8
)

// Sketch is a MinHash signature of a payload's byte shingles. The fraction of
// equal slots between two sketches estimates the Jaccard similarity of their
// shingle sets.
type Sketch [SketchSize]uint64

var seeds = func() [SketchSize]uint64 {
	var out [SketchSize]uint64
	for i := range out {
		d := blake3.Sum256([]byte("poc/novelty/minhash/" + strconv.Itoa(i)))
		out[i] = binary.LittleEndian.Uint64(d[:8])
	}
	return out
}()

// NewSketch sketches payload. Without a payload the fingerprint is the only
// feature, which reduces similarity to exact fingerprint matching.
func NewSketch(payload []byte, fingerprint types.Hash) Sketch {
	var s Sketch
	for i := range s {
		s[i] = math.MaxUint64
	}

	if len(payload) < shingleSize {
		s.add(binary.LittleEndian.Uint64(fingerprint[:8]))
		return s
	}
	for i := 0; i+shingleSize <= len(payload); i++ {
		s.add(binary.LittleEndian.Uint64(payload[i : i+shingleSize]))
	}
	return s
}

func (s *Sketch) add(feature uint64) {
	for i := range s {
		if h := mix(feature ^ seeds[i]); h < s[i] {
			s[i] = h
		}
	}
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Similarity returns the estimated Jaccard similarity in [0,1].
func Similarity(a, b Sketch) float64 {
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / SketchSize
}
