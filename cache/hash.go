package cache

import "github.com/cespare/xxhash/v2"

// hashKey is the configured hash function H from spec.md §3 invariant 7.
// xxhash gives a fast, well-distributed 64-bit digest; it is folded down
// to the 32-bit field the item's `hash` attribute and the bucket-index
// arithmetic in partition.go are specified against.
func hashKey(key []byte) uint32 {
	h := xxhash.Sum64(key)
	return uint32(h ^ (h >> 32))
}
