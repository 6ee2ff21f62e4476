// Package consensus implements deterministic stake-weighted validator
// election (§4.5) and the optional block-vote quorum tracker (§4.8).
package consensus

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"sort"
)

// ErrNoCandidates is returned by Elect when there are neither staked
// validators nor positive-balance accounts to fall back to.
var ErrNoCandidates = errors.New("no validators or balances to elect from")

// Weights maps an account id to its election weight (stake, or balance
// when falling back — §4.5 step 1).
type Weights map[string]float64

// Elect deterministically picks a winner from weights, seeded by headHash
// so every peer that has replayed to the same head computes the same
// winner (§4.5, testable property 3).
//
// Procedure: sort candidate ids for canonical ordering (removes
// set-iteration nondeterminism, mirrors the teacher's sortValidators),
// derive a seed from a prefix of headHash, draw a number in
// [0, totalWeight) from that seed, and walk the sorted list accumulating
// weight until the draw lands inside an entry's slice.
func Elect(weights Weights, headHash [32]byte) (string, error) {
	if len(weights) == 0 {
		return "", ErrNoCandidates
	}

	ids := make([]string, 0, len(weights))
	var total float64
	for id, w := range weights {
		if w <= 0 {
			continue
		}
		ids = append(ids, id)
		total += w
	}
	if len(ids) == 0 || total <= 0 {
		return "", ErrNoCandidates
	}
	sort.Strings(ids)

	seed := SeedFromHash(headHash)
	draw := rand.New(rand.NewSource(seed)).Float64() * total

	var acc float64
	for _, id := range ids {
		acc += weights[id]
		if draw < acc {
			return id, nil
		}
	}
	// Floating point rounding can leave draw == total exactly; fall back
	// to the last candidate rather than erroring.
	return ids[len(ids)-1], nil
}

// SeedFromHash derives a deterministic PRNG seed from a block hash's
// leading 8 bytes, interpreted as an unsigned integer (§4.5 step 2).
func SeedFromHash(hash [32]byte) int64 {
	return int64(binary.BigEndian.Uint64(hash[:8]))
}
