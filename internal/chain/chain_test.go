package chain

import (
	"testing"

	"github.com/GZK1108/posnet/internal/ledger"
	"github.com/GZK1108/posnet/internal/storage"
	"github.com/GZK1108/posnet/pkg/chaintypes"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	seed := map[string]ledger.Account{
		"alice": {Balance: 100},
		"bob":   {Balance: 100},
	}
	c := New(NewStore(storage.NewMemory()), seed)
	if _, err := c.Genesis("genesis", 0); err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	return c
}

func transfer(sender, receiver string, amount, ts float64) *chaintypes.Transaction {
	return chaintypes.New(sender, receiver, amount, ts, chaintypes.Transfer)
}

func TestChain_ExtendsDirectly(t *testing.T) {
	c := newTestChain(t)
	head := c.Head()

	blk := chaintypes.New(1, head.Hash, "alice", []*chaintypes.Transaction{
		transfer("alice", "bob", 10, 1),
	}, 1)
	if err := c.Add(blk); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.TrySetHead(blk); err != nil {
		t.Fatalf("TrySetHead: %v", err)
	}

	if c.Height() != 1 || c.Head().Hash != blk.Hash {
		t.Fatalf("chain did not extend to block 1")
	}
	if got := c.Ledger().Get("bob").Balance; got != 110 {
		t.Fatalf("bob balance = %v, want 110", got)
	}
}

func TestChain_DiscardsNonApplicableExtension(t *testing.T) {
	c := newTestChain(t)
	head := c.Head()

	blk := chaintypes.New(1, head.Hash, "alice", []*chaintypes.Transaction{
		transfer("alice", "bob", 1000, 1), // exceeds alice's balance
	}, 1)
	if err := c.Add(blk); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.TrySetHead(blk); err == nil {
		t.Fatal("expected TrySetHead to reject a non-applicable extension")
	}
	if c.Height() != 0 {
		t.Fatalf("height changed despite rejected block: %d", c.Height())
	}
}

func TestChain_EqualHeightForkKeepsCurrentHead(t *testing.T) {
	c := newTestChain(t)
	head := c.Head()

	a := chaintypes.New(1, head.Hash, "alice", nil, 1)
	b := chaintypes.New(1, head.Hash, "bob", nil, 2)

	if err := c.Add(a); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := c.TrySetHead(a); err != nil {
		t.Fatalf("TrySetHead a: %v", err)
	}
	if err := c.Add(b); err != nil {
		t.Fatalf("Add b: %v", err)
	}
	if err := c.TrySetHead(b); err != nil {
		t.Fatalf("TrySetHead b (side branch) should not error: %v", err)
	}

	if c.Head().Hash != a.Hash {
		t.Fatalf("equal-height rival must not replace current head: got %s, want %s", c.Head().Hash, a.Hash)
	}
	// b must still be retrievable as a stored side branch.
	if _, err := c.GetBlock(b.Hash); err != nil {
		t.Fatalf("side branch block should remain stored: %v", err)
	}
}

func TestChain_ReorgOnLongerBranchReinjectsTxs(t *testing.T) {
	c := newTestChain(t)
	genesis := c.Head()

	var reinjected []*chaintypes.Transaction
	var removed []*chaintypes.Transaction
	c.SetOnReorg(func(txs []*chaintypes.Transaction) { reinjected = append(reinjected, txs...) })
	c.SetOnAccept(func(txs []*chaintypes.Transaction) { removed = append(removed, txs...) })

	// Old branch: genesis -> oldBlk1 (alice pays bob 10).
	oldTx := transfer("alice", "bob", 10, 1)
	oldBlk1 := chaintypes.New(1, genesis.Hash, "alice", []*chaintypes.Transaction{oldTx}, 1)
	if err := c.Add(oldBlk1); err != nil {
		t.Fatalf("Add oldBlk1: %v", err)
	}
	if err := c.TrySetHead(oldBlk1); err != nil {
		t.Fatalf("TrySetHead oldBlk1: %v", err)
	}

	// New branch: genesis -> newBlk1 -> newBlk2, strictly longer, does not
	// include oldTx — should trigger a reorg that reinjects oldTx.
	newBlk1 := chaintypes.New(1, genesis.Hash, "bob", nil, 2)
	if err := c.Add(newBlk1); err != nil {
		t.Fatalf("Add newBlk1: %v", err)
	}
	if err := c.TrySetHead(newBlk1); err != nil {
		t.Fatalf("TrySetHead newBlk1: %v", err)
	}
	// At equal height, old branch (oldBlk1) must still be head.
	if c.Head().Hash != oldBlk1.Hash {
		t.Fatalf("expected equal-height tie to keep old head, got %s", c.Head().Hash)
	}

	newTx := transfer("bob", "alice", 5, 3)
	newBlk2 := chaintypes.New(2, newBlk1.Hash, "alice", []*chaintypes.Transaction{newTx}, 3)
	if err := c.Add(newBlk2); err != nil {
		t.Fatalf("Add newBlk2: %v", err)
	}
	if err := c.TrySetHead(newBlk2); err != nil {
		t.Fatalf("TrySetHead newBlk2: %v", err)
	}

	if c.Head().Hash != newBlk2.Hash {
		t.Fatalf("longer branch should become new head, got %s", c.Head().Hash)
	}
	if len(reinjected) != 1 || reinjected[0].Identity() != oldTx.Identity() {
		t.Fatalf("expected oldTx to be reinjected, got %v", reinjected)
	}
	if len(removed) == 0 {
		t.Fatalf("expected new branch's transactions to be reported for mempool removal")
	}

	// Final ledger state should reflect only the new branch (bob -> alice 5): alice 105, bob 95.
	alice := c.Ledger().Get("alice")
	bob := c.Ledger().Get("bob")
	if alice.Balance != 105 || bob.Balance != 95 {
		t.Fatalf("unexpected post-reorg ledger state: alice=%v bob=%v", alice.Balance, bob.Balance)
	}
}

func TestChain_FindCommonAncestor(t *testing.T) {
	c := newTestChain(t)
	genesis := c.Head()

	a1 := chaintypes.New(1, genesis.Hash, "alice", nil, 1)
	if err := c.Add(a1); err != nil {
		t.Fatal(err)
	}
	if err := c.TrySetHead(a1); err != nil {
		t.Fatal(err)
	}
	a2 := chaintypes.New(2, a1.Hash, "bob", nil, 2)
	if err := c.Add(a2); err != nil {
		t.Fatal(err)
	}
	if err := c.TrySetHead(a2); err != nil {
		t.Fatal(err)
	}

	b1 := chaintypes.New(1, genesis.Hash, "bob", nil, 3)
	if err := c.Add(b1); err != nil {
		t.Fatal(err)
	}

	ancestor, err := c.FindCommonAncestor(a2.Hash, b1.Hash)
	if err != nil {
		t.Fatalf("FindCommonAncestor: %v", err)
	}
	if ancestor.Hash != genesis.Hash {
		t.Fatalf("ancestor = %s, want genesis %s", ancestor.Hash, genesis.Hash)
	}
}

func TestChain_ValidateCandidate_AcceptsApplicableSideBranch(t *testing.T) {
	c := newTestChain(t)
	genesis := c.Head()

	blk := chaintypes.New(1, genesis.Hash, "bob", []*chaintypes.Transaction{
		transfer("alice", "bob", 10, 1),
	}, 1)
	if err := c.Add(blk); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.ValidateCandidate(blk); err != nil {
		t.Fatalf("ValidateCandidate should accept an applicable, stored block: %v", err)
	}
}

func TestChain_ValidateCandidate_RejectsNonApplicable(t *testing.T) {
	c := newTestChain(t)
	genesis := c.Head()

	blk := chaintypes.New(1, genesis.Hash, "bob", []*chaintypes.Transaction{
		transfer("alice", "bob", 1000, 1),
	}, 1)
	if err := c.Add(blk); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.ValidateCandidate(blk); err == nil {
		t.Fatal("expected ValidateCandidate to reject a non-applicable block")
	}
}

func TestChain_ValidateCandidate_RejectsUnknownParent(t *testing.T) {
	c := newTestChain(t)
	orphan := chaintypes.New(5, chaintypes.Hash{0xff}, "bob", nil, 1)
	if err := c.ValidateCandidate(orphan); err == nil {
		t.Fatal("expected ValidateCandidate to reject a block with unknown parent")
	}
}

func TestChain_ValidateCandidate_RejectsHashMismatch(t *testing.T) {
	c := newTestChain(t)
	genesis := c.Head()
	blk := chaintypes.New(1, genesis.Hash, "bob", nil, 1)
	blk.Hash[0] ^= 0xff
	if err := c.ValidateCandidate(blk); err == nil {
		t.Fatal("expected ValidateCandidate to reject a hash mismatch")
	}
}
