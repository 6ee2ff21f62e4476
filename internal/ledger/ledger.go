// Package ledger implements the in-memory wallet state: a map from account
// id to (balance, stake) and the pure state transitions applied to it by
// transactions (§3, §4.2).
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/GZK1108/posnet/pkg/chaintypes"
)

// Ledger errors (§7 "Invalid transaction").
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientStake   = errors.New("insufficient stake")
	ErrSelfTransfer        = errors.New("self-transfer is not allowed")
	ErrNonPositiveAmount   = errors.New("amount must be positive")
)

// Account holds one account's balance and stake. Unknown accounts default
// to the zero value (§4.2).
type Account struct {
	Balance float64
	Stake   float64
}

// Ledger is the account-keyed wallet state. Neither Balance nor Stake ever
// goes negative across a successfully applied transaction (invariant W1).
type Ledger struct {
	accounts map[string]Account
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{accounts: make(map[string]Account)}
}

// Get returns a copy of an account's state (zero value if unknown).
func (l *Ledger) Get(id string) Account {
	return l.accounts[id]
}

// Seed sets an account's initial balance/stake, used to apply
// `initial_state.<id>.balance/stake` at startup (§6).
func (l *Ledger) Seed(id string, balance, stake float64) {
	l.accounts[id] = Account{Balance: balance, Stake: stake}
}

// KnownValidators returns the sorted set of account ids with stake > 0 in
// the current state (§3 "Known-validators set"). Falling back to
// positive-balance accounts is the election procedure's job (§4.5), not
// the ledger's — this method reports stake only.
func (l *Ledger) KnownValidators() []string {
	ids := make([]string, 0, len(l.accounts))
	for id, acc := range l.accounts {
		if acc.Stake > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// PositiveBalances returns the set of account ids with balance > 0, used
// by election's fallback when there are no staked validators (§4.5 step 1).
func (l *Ledger) PositiveBalances() []string {
	ids := make([]string, 0, len(l.accounts))
	for id, acc := range l.accounts {
		if acc.Balance > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CanApply reports whether tx would succeed against the current state
// without mutating it. Used by the mempool and by forging to filter
// transactions without committing them (§4.6 "skipping, not aborting").
func (l *Ledger) CanApply(t *chaintypes.Transaction) error {
	return l.check(t)
}

// Apply applies a transaction's effect to the ledger (§4.2). It either
// fully succeeds or leaves the ledger unchanged.
func (l *Ledger) Apply(t *chaintypes.Transaction) error {
	if err := l.check(t); err != nil {
		return err
	}

	switch t.Kind {
	case chaintypes.Transfer:
		sender := l.accounts[t.Sender]
		receiver := l.accounts[t.Receiver]
		sender.Balance -= t.Amount
		receiver.Balance += t.Amount
		l.accounts[t.Sender] = sender
		l.accounts[t.Receiver] = receiver
	case chaintypes.Stake:
		sender := l.accounts[t.Sender]
		sender.Balance -= t.Amount
		sender.Stake += t.Amount
		l.accounts[t.Sender] = sender
	case chaintypes.Unstake:
		sender := l.accounts[t.Sender]
		sender.Stake -= t.Amount
		sender.Balance += t.Amount
		l.accounts[t.Sender] = sender
	default:
		return fmt.Errorf("unknown transaction kind %v", t.Kind)
	}
	return nil
}

// check validates tx against the current state without mutating it.
func (l *Ledger) check(t *chaintypes.Transaction) error {
	if t.Amount <= 0 {
		return ErrNonPositiveAmount
	}
	switch t.Kind {
	case chaintypes.Transfer:
		if t.Sender == t.Receiver {
			return ErrSelfTransfer
		}
		if l.accounts[t.Sender].Balance < t.Amount {
			return ErrInsufficientBalance
		}
	case chaintypes.Stake:
		if l.accounts[t.Sender].Balance < t.Amount {
			return ErrInsufficientBalance
		}
	case chaintypes.Unstake:
		if l.accounts[t.Sender].Stake < t.Amount {
			return ErrInsufficientStake
		}
	default:
		return fmt.Errorf("unknown transaction kind %v", t.Kind)
	}
	return nil
}

// Snapshot deep-copies the current state, used before replaying a
// candidate branch during reorg or sync so a failed replay never corrupts
// the live ledger (§4.3 "Replay").
func (l *Ledger) Snapshot() *Ledger {
	cp := make(map[string]Account, len(l.accounts))
	for id, acc := range l.accounts {
		cp[id] = acc
	}
	return &Ledger{accounts: cp}
}

// SetState overwrites the ledger from a snapshot, used by reorg and sync
// once a replayed branch has been fully validated (§4.2 "set_state").
func (l *Ledger) SetState(snapshot *Ledger) {
	l.accounts = snapshot.accounts
}

// ApplyAll replays a full ordered transaction list against the ledger.
// It returns the index of the first non-applicable transaction and an
// error, or (-1, nil) if every transaction applied. The ledger is
// mutated in place as each transaction succeeds — callers that need
// all-or-nothing semantics must call Snapshot first and SetState only on
// success (as the chain's direct-extension path in TrySetHead does).
func (l *Ledger) ApplyAll(txs []*chaintypes.Transaction) (int, error) {
	for i, t := range txs {
		if err := l.Apply(t); err != nil {
			return i, err
		}
	}
	return -1, nil
}
