package consensus

import (
	"testing"
	"time"

	"github.com/GZK1108/posnet/pkg/chaintypes"
)

func blockFixture() *chaintypes.Block {
	return chaintypes.New(1, chaintypes.Hash{0xaa}, "alice", nil, 1.0)
}

func TestVoteTracker_QuorumReached(t *testing.T) {
	vt := NewVoteTracker(0.5, time.Minute)
	blk := blockFixture()
	vt.Propose(blk, time.Now())

	if installable, ok := vt.Vote(blk.Hash, "alice", 3); !ok || installable {
		t.Fatalf("1/3 votes should not reach quorum=ceil(0.5*3)=2, got installable=%v ok=%v", installable, ok)
	}
	if installable, ok := vt.Vote(blk.Hash, "bob", 3); !ok || !installable {
		t.Fatalf("2/3 votes should reach quorum=ceil(0.5*3)=2, got installable=%v ok=%v", installable, ok)
	}
}

func TestVoteTracker_DuplicateVoteIgnored(t *testing.T) {
	vt := NewVoteTracker(0.8, time.Minute)
	blk := blockFixture()
	vt.Propose(blk, time.Now())

	vt.Vote(blk.Hash, "alice", 3)
	vt.Vote(blk.Hash, "alice", 3)

	if got := vt.VoteCount(blk.Hash); got != 1 {
		t.Fatalf("duplicate vote must not be counted twice, got %d", got)
	}
}

func TestVoteTracker_UnknownBlockVoteDropped(t *testing.T) {
	vt := NewVoteTracker(0.5, time.Minute)
	_, ok := vt.Vote(chaintypes.Hash{0xee}, "alice", 3)
	if ok {
		t.Fatal("vote for an unproposed block must be dropped, not counted")
	}
}

func TestVoteTracker_Expiry(t *testing.T) {
	vt := NewVoteTracker(0.9, 10*time.Millisecond)
	blk := blockFixture()
	start := time.Now()
	vt.Propose(blk, start)

	if expired := vt.Expired(start); len(expired) != 0 {
		t.Fatalf("should not be expired immediately, got %v", expired)
	}
	later := start.Add(20 * time.Millisecond)
	expired := vt.Expired(later)
	if len(expired) != 1 || expired[0] != blk.Hash {
		t.Fatalf("expected block to be expired at %v, got %v", later, expired)
	}
}

func TestVoteTracker_DiscardRemovesCandidate(t *testing.T) {
	vt := NewVoteTracker(0.5, time.Minute)
	blk := blockFixture()
	vt.Propose(blk, time.Now())
	vt.Discard(blk.Hash)

	if vt.Block(blk.Hash) != nil {
		t.Fatal("discarded candidate should no longer be tracked")
	}
}
