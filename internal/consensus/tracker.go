package consensus

import (
	"math"
	"sync"
	"time"

	"github.com/GZK1108/posnet/pkg/chaintypes"
)

// candidate holds the voting state for one pending block (§4.8).
type candidate struct {
	block   *chaintypes.Block
	voters  map[string]struct{} // distinct voter ids seen so far
	timeout time.Time
}

// VoteTracker counts per-candidate-block votes against a quorum threshold
// and discards a pending block if it times out before reaching quorum
// (§4.8). All data is in-memory only and owned exclusively by the
// consensus loop — the same single-writer discipline as the teacher's
// ValidatorTracker.
type VoteTracker struct {
	mu         sync.Mutex
	candidates map[chaintypes.Hash]*candidate
	threshold  float64       // fraction of known validators required
	timeout    time.Duration // how long a candidate waits for quorum
}

// NewVoteTracker creates a tracker with the given quorum threshold
// (0 < threshold <= 1) and per-candidate timeout.
func NewVoteTracker(threshold float64, timeout time.Duration) *VoteTracker {
	return &VoteTracker{
		candidates: make(map[chaintypes.Hash]*candidate),
		threshold:  threshold,
		timeout:    timeout,
	}
}

// Quorum returns ceil(threshold * knownValidators), the number of distinct
// voters a candidate needs to be installed (§4.8, GLOSSARY "Quorum").
func (vt *VoteTracker) Quorum(knownValidators int) int {
	if knownValidators <= 0 {
		return 0
	}
	return int(math.Ceil(vt.threshold * float64(knownValidators)))
}

// Propose registers blk as pending and starts its vote-collection timer.
// Re-proposing an already-pending hash is a no-op (idempotent).
func (vt *VoteTracker) Propose(blk *chaintypes.Block, now time.Time) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	if _, ok := vt.candidates[blk.Hash]; ok {
		return
	}
	vt.candidates[blk.Hash] = &candidate{
		block:   blk,
		voters:  make(map[string]struct{}),
		timeout: now.Add(vt.timeout),
	}
}

// Vote records voterID's vote for blockHash. Duplicate votes from the same
// voter are ignored (§4.8 "Duplicate votes ... are ignored"). It returns
// (installable, ok): ok is false if blockHash has no pending candidate
// (§4.8 "Votes for unknown blocks are buffered briefly and dropped"; here
// the caller is expected to have already called Propose for known-parent
// blocks, so an unknown hash simply means the vote is dropped).
func (vt *VoteTracker) Vote(blockHash chaintypes.Hash, voterID string, knownValidators int) (installable bool, ok bool) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	c, exists := vt.candidates[blockHash]
	if !exists {
		return false, false
	}
	c.voters[voterID] = struct{}{}
	return len(c.voters) >= vt.Quorum(knownValidators), true
}

// Block returns the pending block for hash, or nil if not tracked.
func (vt *VoteTracker) Block(hash chaintypes.Hash) *chaintypes.Block {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	c, ok := vt.candidates[hash]
	if !ok {
		return nil
	}
	return c.block
}

// Discard removes a candidate, either because it was installed or because
// it timed out or lost the round to a sibling (§4.8).
func (vt *VoteTracker) Discard(hash chaintypes.Hash) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	delete(vt.candidates, hash)
}

// Expired returns the hashes of all pending candidates whose timeout has
// elapsed as of now, for the consensus loop to discard (§4.8 "On timer
// expiry without quorum, the block is discarded").
func (vt *VoteTracker) Expired(now time.Time) []chaintypes.Hash {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	var expired []chaintypes.Hash
	for hash, c := range vt.candidates {
		if !now.Before(c.timeout) {
			expired = append(expired, hash)
		}
	}
	return expired
}

// VoteCount returns the number of distinct voters seen for hash so far
// (0 if untracked), used for diagnostics and the REPL's `info` command.
func (vt *VoteTracker) VoteCount(hash chaintypes.Hash) int {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	c, ok := vt.candidates[hash]
	if !ok {
		return 0
	}
	return len(c.voters)
}
