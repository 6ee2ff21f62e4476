// Package mempool holds transactions waiting for block inclusion (§4.7).
package mempool

import (
	"errors"
	"sync"

	"github.com/GZK1108/posnet/internal/ledger"
	"github.com/GZK1108/posnet/pkg/chaintypes"
)

// ErrAlreadyExists is returned by Add when a transaction with the same
// identity (§3) is already pending.
var ErrAlreadyExists = errors.New("transaction already in mempool")

// ErrPoolFull is returned by Add when the pool is at capacity.
var ErrPoolFull = errors.New("mempool is full")

// Pool is the FIFO, identity-deduplicated set of pending transactions.
type Pool struct {
	mu      sync.RWMutex
	order   []chaintypes.ID
	byID    map[chaintypes.ID]*chaintypes.Transaction
	maxSize int
}

// New creates an empty mempool. maxSize <= 0 means unbounded.
func New(maxSize int) *Pool {
	return &Pool{
		byID:    make(map[chaintypes.ID]*chaintypes.Transaction),
		maxSize: maxSize,
	}
}

// Add inserts a transaction in arrival order, rejecting duplicates by
// identity (§4.7 "Insertion").
func (p *Pool) Add(t *chaintypes.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(t)
}

func (p *Pool) addLocked(t *chaintypes.Transaction) error {
	id := t.Identity()
	if _, exists := p.byID[id]; exists {
		return ErrAlreadyExists
	}
	if p.maxSize > 0 && len(p.order) >= p.maxSize {
		return ErrPoolFull
	}
	p.byID[id] = t
	p.order = append(p.order, id)
	return nil
}

// Reinject re-admits transactions rewound by a reorg. Unlike Add, it is
// idempotent — a transaction already pending (e.g. it was never removed
// because it wasn't on the old branch) is silently skipped rather than
// treated as an error (§4.4 step 2, §4.7 "Reinjection").
func (p *Pool) Reinject(txs []*chaintypes.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range txs {
		_ = p.addLocked(t) // ErrAlreadyExists is the expected, harmless case.
	}
}

// RemoveConfirmed drops every transaction in txs from the pool — called
// when those transactions finalize onto the active chain (§4.7 "Removal").
func (p *Pool) RemoveConfirmed(txs []*chaintypes.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range txs {
		p.removeLocked(t.Identity())
	}
}

func (p *Pool) removeLocked(id chaintypes.ID) {
	if _, exists := p.byID[id]; !exists {
		return
	}
	delete(p.byID, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Has reports whether a transaction with the given identity is pending.
func (p *Pool) Has(id chaintypes.ID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.byID[id]
	return exists
}

// Count returns the number of pending transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// Pending returns the pending transactions in FIFO arrival order.
func (p *Pool) Pending() []*chaintypes.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*chaintypes.Transaction, len(p.order))
	for i, id := range p.order {
		out[i] = p.byID[id]
	}
	return out
}

// DrainApplicable walks the pool in FIFO order and returns up to limit
// transactions that apply cleanly against base, applied one after another
// against a working copy so a forged block never includes two
// transactions that conflict with each other (§4.6 "Forging"). Transactions
// that fail are skipped, not removed — only block finalization removes
// transactions from the pool (§4.7).
func (p *Pool) DrainApplicable(base *ledger.Ledger, limit int) []*chaintypes.Transaction {
	p.mu.RLock()
	order := make([]chaintypes.ID, len(p.order))
	copy(order, p.order)
	byID := make(map[chaintypes.ID]*chaintypes.Transaction, len(p.byID))
	for id, t := range p.byID {
		byID[id] = t
	}
	p.mu.RUnlock()

	working := base.Snapshot()
	var accepted []*chaintypes.Transaction
	for _, id := range order {
		if limit > 0 && len(accepted) >= limit {
			break
		}
		t := byID[id]
		if err := working.Apply(t); err == nil {
			accepted = append(accepted, t)
		}
	}
	return accepted
}
