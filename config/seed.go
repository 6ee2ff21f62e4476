package config

import (
	"sort"

	"github.com/GZK1108/posnet/internal/ledger"
)

// LedgerSeed builds the initial `{id -> Account}` seed map from
// InitialState, in sorted-id order, the same determinism discipline the
// teacher's genesis allocation building applies to its coinbase alloc map
// (`sort.Strings(addrs)` before iterating).
func (c *Config) LedgerSeed() map[string]ledger.Account {
	ids := make([]string, 0, len(c.InitialState))
	for id := range c.InitialState {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seed := make(map[string]ledger.Account, len(ids))
	for _, id := range ids {
		alloc := c.InitialState[id]
		seed[id] = ledger.Account{Balance: alloc.Balance, Stake: alloc.Stake}
	}
	return seed
}
