package cache

// Item is the unit of storage (spec.md §3). Field names mirror the
// teacher's node/entry split (cache/lru.go) but fold the LRU-node
// bookkeeping and the hash-bucket chain pointer directly onto the item,
// since both structures are now owned by the same partition and always
// travel together.
type Item struct {
	Key   []byte
	Value []byte
	Flags uint32

	// Exptime is an absolute unix-second deadline. 0 means "never expires".
	Exptime int64

	// CAS is assigned at link time; 0 before the item is ever linked.
	CAS uint64

	hash         uint32
	refcount     int32
	slabClass    int
	lastAccess   int64
	lastReposAt  int64
	state        itemState
	deleteLockAt int64 // only meaningful while state&stateDeleted is set

	// hNext chains items within one hash bucket.
	hNext *Item

	// lruPrev/lruNext chain items within their slab class's LRU list in
	// their owning partition. Both are nil for an item never linked;
	// unlinking clears them only in debug builds (see internal/tag), so an
	// unlinked item may otherwise keep stale values.
	lruPrev *Item
	lruNext *Item

	partition *partition

	// chunk is the raw slab chunk backing Value (and, for APPEND/PREPEND,
	// the buffer a new combined value was written into). Key is a normal
	// Go allocation: bounded to 250 bytes, it is cheap enough that paying
	// for exact slab-class accounting on it would only add bookkeeping
	// without a meaningful memory-safety win, unlike Value which can be
	// up to 1 MiB (see DESIGN.md).
	chunk []byte
}

// itemSize is the on-wire footprint spec.md §3/§4.1 size classes are keyed
// on, and what LRU lists and global stats account items by.
func itemSize(it *Item) int64 {
	return int64(totalItemSize(len(it.Key), len(it.Value), it.casEnabled()))
}

type itemState uint8

const (
	stateLinked itemState = 1 << iota
	stateSlabbed
	stateDeleted
	stateCASEnabled
)

func (it *Item) Linked() bool    { return it.state&stateLinked != 0 }
func (it *Item) Slabbed() bool   { return it.state&stateSlabbed != 0 }
func (it *Item) Deleted() bool   { return it.state&stateDeleted != 0 }
func (it *Item) casEnabled() bool { return it.state&stateCASEnabled != 0 }

// Refcount is the number of outstanding references held by callers. It is
// only safe to read/write while the owning partition's mutex is held.
func (it *Item) Refcount() int32 { return it.refcount }

func (it *Item) expired(now int64) bool {
	return it.Exptime != 0 && it.Exptime <= now
}

// ItemOverhead approximates the bookkeeping bytes a linked item costs
// beyond its key and value, for slab-class sizing (spec.md §3, §4.1).
const ItemOverhead = 48 // struct fields + hash-bucket cell, rounded.

// casFieldSize is the extra footprint an item costs when CAS issuance is
// enabled (spec.md §6 `use_cas`).
const casFieldSize = 8

func totalItemSize(keyLen, valueLen int, useCAS bool) int {
	size := ItemOverhead + keyLen + valueLen
	if useCAS {
		size += casFieldSize
	}
	return size
}
