package distill

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
)

const (
	numPermutations = 64
	shingleSize     = 3
)

// signer computes minhash signatures over character shingles. The
// permutation coefficients come from a fixed seed so signatures are stable
// across processes.
type signer struct {
	coeffs [numPermutations][2]uint64
}

func newSigner() *signer {
	rng := rand.New(rand.NewSource(0x5eed))
	s := &signer{}
	for i := range s.coeffs {
		s.coeffs[i][0] = rng.Uint64() | 1
		s.coeffs[i][1] = rng.Uint64()
	}
	return s
}

// shingles returns the set of character 3-grams over the space→underscore
// form. A keyword shorter than one shingle contributes itself whole.
func shingles(keyword string) map[string]struct{} {
	s := strings.ReplaceAll(keyword, " ", "_")
	out := make(map[string]struct{})
	if len(s) <= shingleSize {
		out[s] = struct{}{}
		return out
	}
	for i := 0; i+shingleSize <= len(s); i++ {
		out[s[i:i+shingleSize]] = struct{}{}
	}
	return out
}

func (sg *signer) signature(keyword string) [numPermutations]uint64 {
	var sig [numPermutations]uint64
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	for sh := range shingles(keyword) {
		h := fnv.New64a()
		h.Write([]byte(sh))
		base := h.Sum64()
		for i, c := range sg.coeffs {
			if v := c[0]*base + c[1]; v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// bandRows picks the banding parameters whose implied similarity threshold
// (1/b)^(1/r) sits closest to the requested one.
func bandRows(threshold float64) (bands, rows int) {
	best := math.MaxFloat64
	bands, rows = numPermutations, 1
	for r := 1; r <= numPermutations; r++ {
		if numPermutations%r != 0 {
			continue
		}
		b := numPermutations / r
		implied := math.Pow(1.0/float64(b), 1.0/float64(r))
		if d := math.Abs(implied - threshold); d < best {
			best, bands, rows = d, b, r
		}
	}
	return bands, rows
}

// collapseNear returns the indices (ascending) that survive near-duplicate
// collapse: for every group of keywords sharing an LSH bucket, the first
// one wins.
func collapseNear(keywords []string, threshold float64) []int {
	if len(keywords) == 0 {
		return nil
	}
	sg := newSigner()
	bands, rows := bandRows(threshold)

	type bucketKey struct {
		band int
		hash uint64
	}
	buckets := make(map[bucketKey][]int)
	bandKeys := make([][]uint64, len(keywords))

	var buf [8]byte
	for i, kw := range keywords {
		sig := sg.signature(kw)
		bandKeys[i] = make([]uint64, bands)
		for b := 0; b < bands; b++ {
			h := fnv.New64a()
			for r := 0; r < rows; r++ {
				binary.LittleEndian.PutUint64(buf[:], sig[b*rows+r])
				h.Write(buf[:])
			}
			key := h.Sum64()
			bandKeys[i][b] = key
			buckets[bucketKey{b, key}] = append(buckets[bucketKey{b, key}], i)
		}
	}

	seen := make([]bool, len(keywords))
	kept := make([]int, 0, len(keywords))
	for i := range keywords {
		if seen[i] {
			continue
		}
		kept = append(kept, i)
		for b := 0; b < bands; b++ {
			for _, member := range buckets[bucketKey{b, bandKeys[i][b]}] {
				seen[member] = true
			}
		}
	}
	return kept
}
