// Package chain implements the chain store, fork-choice, and reorganization
// state machine (§4.3, §4.4). All mutation happens through TrySetHead, which
// is meant to be called exclusively from a node's single-threaded consensus
// loop (§5) — Chain itself does no locking beyond guarding its own fields
// against concurrent callers of the same instance.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GZK1108/posnet/internal/ledger"
	"github.com/GZK1108/posnet/pkg/chaintypes"
)

// ErrAlreadyInitialized is returned by Genesis when the chain already has a head.
var ErrAlreadyInitialized = errors.New("chain already initialized")

// ErrNotApplicable is returned (internally logged, not propagated as fatal)
// when a candidate block's transactions do not apply cleanly against the
// state they target — §4.4 step 1 "discard B", step 2 "replay fails".
var ErrNotApplicable = errors.New("block transactions not applicable")

// RemoveFunc is called with the transactions of a block that just became
// final on the active chain, so the mempool can drop them (§4.7 "Removal").
type RemoveFunc func(txs []*chaintypes.Transaction)

// ReinjectFunc is called with transactions from rewound blocks that are not
// present on the new active branch, so the mempool can re-admit them
// (§4.4 step 2, §4.7 "Reinjection").
type ReinjectFunc func(txs []*chaintypes.Transaction)

// Chain owns the block store, the live wallet ledger, and the active-chain
// head pointer. It is the serialization point for §4.3/§4.4: every exported
// mutator takes the same mutex.
type Chain struct {
	mu    sync.Mutex
	store *Store
	seed  map[string]ledger.Account
	state *ledger.Ledger
	head  *chaintypes.Block

	onAccept RemoveFunc
	onReorg  ReinjectFunc
}

// New creates a Chain over store, seeding its live ledger from seed (the
// `initial_state.<id>.balance/stake` accounts, §6). The chain has no head
// until Genesis or RecoverFromStore is called.
func New(store *Store, seed map[string]ledger.Account) *Chain {
	c := &Chain{
		store: store,
		seed:  seed,
		state: ledger.New(),
	}
	for id, acc := range seed {
		c.state.Seed(id, acc.Balance, acc.Stake)
	}
	return c
}

// SetOnAccept registers the mempool-removal callback.
func (c *Chain) SetOnAccept(fn RemoveFunc) { c.onAccept = fn }

// SetOnReorg registers the mempool-reinjection callback.
func (c *Chain) SetOnReorg(fn ReinjectFunc) { c.onReorg = fn }

// Genesis creates and installs the height-0 block. It carries no
// transactions — initial balances and stakes come from the seed map, not
// from a coinbase-style transaction.
func (c *Chain) Genesis(validator string, timestamp float64) (*chaintypes.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.head != nil {
		return nil, ErrAlreadyInitialized
	}

	blk := chaintypes.New(0, chaintypes.Hash{}, validator, nil, timestamp)
	if err := c.store.Add(blk); err != nil {
		return nil, fmt.Errorf("store genesis: %w", err)
	}
	if err := c.store.SetHead(blk.Hash, 0); err != nil {
		return nil, fmt.Errorf("set genesis head: %w", err)
	}
	c.head = blk
	return blk, nil
}

// RecoverFromStore reloads the persisted head from store and replays the
// chain from genesis to rebuild the live ledger. Used on node startup when
// the store already holds a chain (§6 "loaded on startup before sync").
func (c *Chain) RecoverFromStore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	headHash, _, err := c.store.Head()
	if err != nil {
		return fmt.Errorf("read persisted head: %w", err)
	}
	if headHash.IsZero() {
		return nil // Fresh store — caller should call Genesis.
	}

	head, err := c.store.Get(headHash)
	if err != nil {
		return fmt.Errorf("load persisted head block: %w", err)
	}

	newState, err := c.replayFromGenesis(headHash)
	if err != nil {
		return fmt.Errorf("replay persisted chain: %w", err)
	}

	c.state = newState
	c.head = head
	return nil
}

// HasHead reports whether the chain has been initialized via Genesis or
// RecoverFromStore yet.
func (c *Chain) HasHead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head != nil
}

// ActiveChain returns every block on the active chain from genesis to head,
// in ascending index order — the payload a node sends back in answer to a
// SYNC_REQUEST (§4.9 "a peer replies with its full active chain").
func (c *Chain) ActiveChain() ([]*chaintypes.Block, error) {
	c.mu.Lock()
	head := c.head
	c.mu.Unlock()
	if head == nil {
		return nil, nil
	}
	return c.pathAbove(chaintypes.Hash{}, head.Hash)
}

// Add verifies and stores a block without changing the head (§4.3 "add").
func (c *Chain) Add(blk *chaintypes.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Add(blk)
}

// Head returns the current active-chain tip.
func (c *Chain) Head() *chaintypes.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Height returns the current active-chain height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == nil {
		return 0
	}
	return c.head.Index
}

// Ledger returns the live wallet state backing the active chain. Callers
// must not retain it across a TrySetHead call — use Snapshot for a copy.
func (c *Chain) Ledger() *ledger.Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetBlock retrieves any stored block (active chain or side branch) by hash.
func (c *Chain) GetBlock(hash chaintypes.Hash) (*chaintypes.Block, error) {
	return c.store.Get(hash)
}

// FindCommonAncestor walks back from the taller of a and b until heights
// match, then walks both back in lockstep until the hashes match (§4.3).
func (c *Chain) FindCommonAncestor(aHash, bHash chaintypes.Hash) (*chaintypes.Block, error) {
	a, err := c.store.Get(aHash)
	if err != nil {
		return nil, fmt.Errorf("find common ancestor: load a: %w", err)
	}
	b, err := c.store.Get(bHash)
	if err != nil {
		return nil, fmt.Errorf("find common ancestor: load b: %w", err)
	}

	for a.Index > b.Index {
		a, err = c.store.Get(a.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("find common ancestor: walk a: %w", err)
		}
	}
	for b.Index > a.Index {
		b, err = c.store.Get(b.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("find common ancestor: walk b: %w", err)
		}
	}
	for a.Hash != b.Hash {
		a, err = c.store.Get(a.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("find common ancestor: lockstep a: %w", err)
		}
		b, err = c.store.Get(b.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("find common ancestor: lockstep b: %w", err)
		}
	}
	return a, nil
}

// pathAbove returns the blocks strictly above ancestorHash up to and
// including tipHash, in ascending index order. ancestorHash must lie on
// tipHash's ancestry chain (true of any common ancestor or genesis).
func (c *Chain) pathAbove(ancestorHash, tipHash chaintypes.Hash) ([]*chaintypes.Block, error) {
	var blocks []*chaintypes.Block
	cur := tipHash
	for cur != ancestorHash {
		blk, err := c.store.Get(cur)
		if err != nil {
			return nil, fmt.Errorf("walk path: %w", err)
		}
		blocks = append(blocks, blk)
		if blk.IsGenesis() {
			break
		}
		cur = blk.PrevHash
	}
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks, nil
}

// freshLedgerFromSeed builds a new ledger from the chain's configured seed
// accounts, with no blocks applied yet.
func (c *Chain) freshLedgerFromSeed() *ledger.Ledger {
	l := ledger.New()
	for id, acc := range c.seed {
		l.Seed(id, acc.Balance, acc.Stake)
	}
	return l
}

// replayFromGenesis replays every block from genesis to hash (inclusive)
// against a fresh seeded ledger and returns the resulting state.
func (c *Chain) replayFromGenesis(hash chaintypes.Hash) (*ledger.Ledger, error) {
	path, err := c.pathAbove(chaintypes.Hash{}, hash)
	if err != nil {
		return nil, err
	}
	l := c.freshLedgerFromSeed()
	for _, blk := range path {
		if idx, err := l.ApplyAll(blk.Transactions); err != nil {
			return nil, fmt.Errorf("%w: block %s tx[%d]: %v", ErrNotApplicable, blk.Hash, idx, err)
		}
	}
	return l, nil
}

// Replay deep-copies the ancestor's post-state and applies each intervening
// block's transactions up to toHead, aborting on the first non-applicable
// transaction (§4.3 "replay").
func (c *Chain) Replay(fromAncestor, toHead chaintypes.Hash) (*ledger.Ledger, error) {
	base, err := c.replayFromGenesis(fromAncestor)
	if err != nil {
		return nil, fmt.Errorf("replay base state at ancestor: %w", err)
	}
	working := base.Snapshot()

	path, err := c.pathAbove(fromAncestor, toHead)
	if err != nil {
		return nil, fmt.Errorf("replay: collect path: %w", err)
	}
	for _, blk := range path {
		if idx, err := working.ApplyAll(blk.Transactions); err != nil {
			return nil, fmt.Errorf("%w: block %s tx[%d]: %v", ErrNotApplicable, blk.Hash, idx, err)
		}
	}
	return working, nil
}

// ValidateCandidate checks the same validity properties §4.4 applies to a
// block before adoption — hash integrity, known parent, and applicability
// of its transactions against its own parent's replayed state — without
// regard to whether it would currently win fork-choice. This is what the
// vote tracker uses to decide whether to cast a vote for a pending block
// (§4.8 "A node votes for a block iff the block would pass the same
// validity checks §4.4 applies").
func (c *Chain) ValidateCandidate(blk *chaintypes.Block) error {
	if err := blk.Validate(); err != nil {
		return err
	}
	if blk.IsGenesis() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if has, err := c.store.Has(blk.PrevHash); err != nil {
		return fmt.Errorf("validate candidate: %w", err)
	} else if !has {
		return ErrPrevNotFound
	}

	parentState, err := c.replayFromGenesis(blk.PrevHash)
	if err != nil {
		return fmt.Errorf("validate candidate: replay parent state: %w", err)
	}
	working := parentState.Snapshot()
	if idx, err := working.ApplyAll(blk.Transactions); err != nil {
		return fmt.Errorf("%w: tx[%d]: %v", ErrNotApplicable, idx, err)
	}
	return nil
}

// TrySetHead runs the fork-choice/reorganization decision for a newly
// stored block (§4.4). candidate must already be present via Add.
func (c *Chain) TrySetHead(candidate *chaintypes.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.head

	// Step 1: direct extension.
	if candidate.PrevHash == head.Hash && candidate.Index == head.Index+1 {
		working := c.state.Snapshot()
		if idx, err := working.ApplyAll(candidate.Transactions); err != nil {
			return fmt.Errorf("%w: tx[%d]: %v", ErrNotApplicable, idx, err)
		}
		c.state.SetState(working)
		c.head = candidate
		if err := c.store.SetHead(candidate.Hash, candidate.Index); err != nil {
			return fmt.Errorf("persist new head: %w", err)
		}
		if c.onAccept != nil {
			c.onAccept(candidate.Transactions)
		}
		return nil
	}

	// Step 2: candidate extends a fork taller than head — attempt reorg.
	if candidate.Index > head.Index {
		ancestor, err := c.FindCommonAncestor(head.Hash, candidate.Hash)
		if err != nil {
			return fmt.Errorf("reorg: %w", err)
		}

		newState, err := c.Replay(ancestor.Hash, candidate.Hash)
		if err != nil {
			// Old head stays intact; candidate remains stored as a side branch.
			return fmt.Errorf("reorg replay failed, keeping current head: %w", err)
		}

		oldBranch, err := c.pathAbove(ancestor.Hash, head.Hash)
		if err != nil {
			return fmt.Errorf("reorg: collect old branch: %w", err)
		}
		newBranch, err := c.pathAbove(ancestor.Hash, candidate.Hash)
		if err != nil {
			return fmt.Errorf("reorg: collect new branch: %w", err)
		}

		onNewBranch := make(map[chaintypes.ID]bool)
		var toRemove []*chaintypes.Transaction
		for _, blk := range newBranch {
			for _, t := range blk.Transactions {
				onNewBranch[t.Identity()] = true
				toRemove = append(toRemove, t)
			}
		}
		var toReinject []*chaintypes.Transaction
		for _, blk := range oldBranch {
			for _, t := range blk.Transactions {
				if !onNewBranch[t.Identity()] {
					toReinject = append(toReinject, t)
				}
			}
		}

		c.state = newState
		c.head = candidate
		if err := c.store.SetHead(candidate.Hash, candidate.Index); err != nil {
			return fmt.Errorf("persist reorg head: %w", err)
		}
		if c.onReorg != nil {
			c.onReorg(toReinject)
		}
		if c.onAccept != nil {
			c.onAccept(toRemove)
		}
		return nil
	}

	// Step 3: candidate is at or below head — keep head, candidate stays a
	// stored side branch (already written by Add).
	return nil
}
