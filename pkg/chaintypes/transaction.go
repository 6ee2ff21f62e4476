package chaintypes

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind identifies the effect a transaction has on the wallet ledger (§3, §4.2).
type Kind uint8

const (
	Transfer Kind = iota
	Stake
	Unstake
)

// String renders the kind the way wire logs and the REPL print it.
func (k Kind) String() string {
	switch k {
	case Transfer:
		return "TRANSFER"
	case Stake:
		return "STAKE"
	case Unstake:
		return "UNSTAKE"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// ParseKind parses a kind from its wire/REPL string form.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "TRANSFER":
		return Transfer, nil
	case "STAKE":
		return Stake, nil
	case "UNSTAKE":
		return Unstake, nil
	default:
		return 0, fmt.Errorf("unknown transaction kind %q", s)
	}
}

// Transaction is an immutable record of value movement between two accounts.
// Identity is (Sender, Receiver, Amount, Timestamp, Kind) — two transactions
// with equal identity are the same item to the mempool (§3).
type Transaction struct {
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
	Timestamp float64 `json:"timestamp"`
	Kind      Kind    `json:"kind"`
}

// New creates a transaction. Timestamp is supplied by the caller (the node's
// consensus loop stamps it at creation time) so that identity is reproducible
// in tests without relying on wall-clock reads inside this package.
func New(sender, receiver string, amount float64, timestamp float64, kind Kind) *Transaction {
	return &Transaction{
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Timestamp: timestamp,
		Kind:      kind,
	}
}

// ID is the transaction's identity tuple, used as the mempool dedup key.
// Unlike Hash, ID does not need to be cryptographically strong — it only
// needs to collide exactly when two transactions are the "same item".
type ID struct {
	Sender    string
	Receiver  string
	Amount    float64
	Timestamp float64
	Kind      Kind
}

// Identity returns the transaction's dedup identity (§3).
func (t *Transaction) Identity() ID {
	return ID{
		Sender:    t.Sender,
		Receiver:  t.Receiver,
		Amount:    t.Amount,
		Timestamp: t.Timestamp,
		Kind:      t.Kind,
	}
}

// CanonicalBytes returns the fixed, deterministic byte encoding of the
// transaction used as block-hash input (§4.1). Same bytes in, same hash
// out, on every peer. The wire payload is JSON, not these bytes.
//
// Format: len(sender) u32 | sender | len(receiver) u32 | receiver |
// amount f64 | timestamp f64 | kind u8
func (t *Transaction) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+len(t.Sender)+len(t.Receiver))
	buf = appendString(buf, t.Sender)
	buf = appendString(buf, t.Receiver)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(t.Amount))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(t.Timestamp))
	buf = append(buf, byte(t.Kind))
	return buf
}

// Hash returns the transaction's content digest.
func (t *Transaction) Hash() Hash {
	return Digest(t.CanonicalBytes())
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
