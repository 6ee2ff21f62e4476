package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GZK1108/posnet/internal/storage"
	"github.com/GZK1108/posnet/pkg/chaintypes"
)

// Key prefixes for the block store (§4.3).
var (
	prefixBlock  = []byte("b/") // b/<hash(32)> -> block JSON
	prefixHeight = []byte("h/") // h/<height(8)><hash(32)> -> hash(32)
	keyHeadHash  = []byte("s/head")
	keyHeadHeight = []byte("s/height")
)

// ErrBlockKnown is returned by Add when the block is already stored.
var ErrBlockKnown = errors.New("block already known")

// ErrPrevNotFound is returned by Add when the block's parent is not in the store.
var ErrPrevNotFound = errors.New("previous block not found")

// Store persists every block a node has ever seen — both the active chain
// and side branches (§4.3). It never decides which block is the head; that
// is Chain.TrySetHead's job.
type Store struct {
	db storage.DB
}

// NewStore creates a block store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func blockKey(h chaintypes.Hash) []byte {
	key := make([]byte, len(prefixBlock)+32)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], h[:])
	return key
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

// Add verifies the block's hash (B1) and that its parent is already stored
// (unless it is the genesis block), then persists it by hash. Add never
// changes the head — fork-choice is Chain.TrySetHead's job (§4.3).
func (s *Store) Add(blk *chaintypes.Block) error {
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("add block %s: %w", blk.Hash, err)
	}

	known, err := s.Has(blk.Hash)
	if err != nil {
		return fmt.Errorf("check block known: %w", err)
	}
	if known {
		return ErrBlockKnown
	}

	if !blk.IsGenesis() {
		parentKnown, err := s.Has(blk.PrevHash)
		if err != nil {
			return fmt.Errorf("check parent: %w", err)
		}
		if !parentKnown {
			return ErrPrevNotFound
		}
	}

	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if err := s.db.Put(blockKey(blk.Hash), data); err != nil {
		return fmt.Errorf("put block: %w", err)
	}
	// Height index keyed by hash so side branches at the same height do not
	// collide — the canonical height->block mapping for the active chain is
	// resolved by the Chain's head pointer, not by this index alone.
	hhKey := append(append([]byte{}, heightKey(blk.Index)...), blk.Hash[:]...)
	if err := s.db.Put(hhKey, blk.Hash[:]); err != nil {
		return fmt.Errorf("put height index: %w", err)
	}
	return nil
}

// Has reports whether a block with the given hash is stored.
func (s *Store) Has(hash chaintypes.Hash) (bool, error) {
	if hash.IsZero() {
		return false, nil
	}
	return s.db.Has(blockKey(hash))
}

// Get retrieves a block by hash.
func (s *Store) Get(hash chaintypes.Hash) (*chaintypes.Block, error) {
	data, err := s.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", hash, err)
	}
	var blk chaintypes.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("unmarshal block %s: %w", hash, err)
	}
	return &blk, nil
}

// SetHead persists the active chain's tip hash and height.
func (s *Store) SetHead(hash chaintypes.Hash, height uint64) error {
	if err := s.db.Put(keyHeadHash, hash[:]); err != nil {
		return fmt.Errorf("set head hash: %w", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	if err := s.db.Put(keyHeadHeight, buf[:]); err != nil {
		return fmt.Errorf("set head height: %w", err)
	}
	return nil
}

// Head returns the persisted active-chain tip. Returns the zero hash and
// height 0 if no head has ever been set (fresh store, pre-genesis).
func (s *Store) Head() (chaintypes.Hash, uint64, error) {
	hashBytes, err := s.db.Get(keyHeadHash)
	if err != nil {
		return chaintypes.Hash{}, 0, nil
	}
	var hash chaintypes.Hash
	copy(hash[:], hashBytes)

	heightBytes, err := s.db.Get(keyHeadHeight)
	if err != nil || len(heightBytes) != 8 {
		return hash, 0, nil
	}
	return hash, binary.BigEndian.Uint64(heightBytes), nil
}
