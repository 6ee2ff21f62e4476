package chaintypes

import (
	"encoding/binary"
	"errors"
	"math"
)

// Block is an immutable record in the chain (§3).
//
// Invariant B1: Hash equals the canonical digest of the other fields.
// Invariant B2: for any non-genesis block, Index == parent.Index+1 and
// PrevHash == parent.Hash.
type Block struct {
	Index        uint64         `json:"index"`
	PrevHash     Hash           `json:"prev_hash"`
	Hash         Hash           `json:"hash"`
	Validator    string         `json:"validator"`
	Transactions []*Transaction `json:"transactions"`
	Timestamp    float64        `json:"timestamp"`
}

// ErrHashMismatch is returned by Validate when the stored hash does not
// equal the canonical digest of the block's other fields (B1).
var ErrHashMismatch = errors.New("block hash does not match canonical digest")

// New builds a block and computes its hash (B1). Transaction order is
// preserved exactly as given — order is significant for state replay (§3).
func New(index uint64, prevHash Hash, validator string, txs []*Transaction, timestamp float64) *Block {
	b := &Block{
		Index:        index,
		PrevHash:     prevHash,
		Validator:    validator,
		Transactions: txs,
		Timestamp:    timestamp,
	}
	b.Hash = b.computeHash()
	return b
}

// CanonicalBytes returns the fixed byte encoding hashed to produce Hash.
// Format: index u64 | prev_hash(32) | len(validator) u32 | validator |
// n_txs u32 | (len(tx) u32 | tx.CanonicalBytes())... | timestamp f64
//
// Grounded on the teacher's Header.SigningBytes: a flat, versionless,
// little-endian buffer that every peer can reproduce byte-for-byte.
func (b *Block) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64+len(b.Validator))
	buf = binary.LittleEndian.AppendUint64(buf, b.Index)
	buf = append(buf, b.PrevHash[:]...)
	buf = appendString(buf, b.Validator)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.Transactions)))
	for _, t := range b.Transactions {
		txBytes := t.CanonicalBytes()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(txBytes)))
		buf = append(buf, txBytes...)
	}
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(b.Timestamp))
	return buf
}

func (b *Block) computeHash() Hash {
	return Digest(b.CanonicalBytes())
}

// Validate checks invariant B1: the stored hash matches the canonical
// digest of the block's other fields.
func (b *Block) Validate() error {
	if b.computeHash() != b.Hash {
		return ErrHashMismatch
	}
	return nil
}

// IsGenesis reports whether this is the height-0 genesis block.
func (b *Block) IsGenesis() bool {
	return b.Index == 0
}
