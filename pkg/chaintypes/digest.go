package chaintypes

import "github.com/zeebo/blake3"

// Digest computes a 256-bit cryptographic digest of data.
// This is the single hash primitive used for block hashing (§4.1);
// every peer that hashes the same bytes
// must get the same digest for the protocol to be deterministic.
func Digest(data []byte) Hash {
	return blake3.Sum256(data)
}
