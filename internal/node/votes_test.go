package node

import (
	"net"
	"testing"
	"time"

	"github.com/GZK1108/posnet/pkg/chaintypes"
)

func newRunningTestNodeWithVoting(t *testing.T, nodeID string, threshold float64, timeout time.Duration) *Node {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	cfg := testConfig(t, nodeID, ln.Addr().(*net.TCPAddr))
	cfg.Vote.Enabled = true
	cfg.Vote.Threshold = threshold
	cfg.Vote.Timeout = timeout

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	server := acceptOne(t, ln)
	t.Cleanup(func() { server.Close() })
	readFrame(t, server) // HELLO
	go drainFrames(server)

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

// With no staked validators yet, quorum is 0, so a node's own vote for a
// block it just forged is always enough to install it immediately (§4.8).
func TestNode_ForgeWithVotingEnabled_SelfVoteInstallsWhenQuorumIsZero(t *testing.T) {
	n := newRunningTestNodeWithVoting(t, "alice", 0.66, 2*time.Second)

	if _, err := n.Execute(Command{Verb: "forge", Args: []string{"--force"}}); err != nil {
		t.Fatalf("forge: %v", err)
	}

	if n.chain.Height() != 1 {
		t.Fatalf("expected quorum-less self vote to install the block, height = %d", n.chain.Height())
	}
}

// A block proposed via an incoming BLOCK frame that is never voted past
// quorum should be discarded once its collection window elapses.
func TestNode_VoteExpiry_DiscardsStaleCandidate(t *testing.T) {
	n := newRunningTestNodeWithVoting(t, "alice", 1.0, 60*time.Millisecond)

	// Seed two staked validators so quorum is 2 and a lone self-vote from
	// "alice" is not enough to install the block on its own.
	n.chain.Ledger().Seed("carol", 0, 50)
	n.chain.Ledger().Seed("dave", 0, 50)

	head := n.chain.Head()
	blk := chaintypes.New(head.Index+1, head.Hash, "bob", nil, 1)
	n.handleIncomingBlock(blk)

	if n.chain.Height() != 0 {
		t.Fatalf("block should remain pending, not installed, height = %d", n.chain.Height())
	}
	if n.votes.Block(blk.Hash) == nil {
		t.Fatal("expected block to be tracked as a pending vote candidate")
	}

	time.Sleep(100 * time.Millisecond)
	n.expireVotes()

	if n.votes.Block(blk.Hash) != nil {
		t.Fatal("expected expired candidate to be discarded")
	}
}
