package cache

import (
	"bytes"
	"sync"
)

// initialBucketCount is the starting power-of-two bucket count for a
// partition's hash table.
const initialBucketCount = 64

// expandLoadFactor triggers a resize once itemCount exceeds
// expandLoadFactor * bucketCount (spec.md §4.2: "load factor exceeds
// 1.5").
const expandLoadFactor = 1.5

// evictScanLimit bounds how many LRU-tail items an eviction or steal scan
// inspects before giving up (spec.md §4.3, §4.4).
const evictScanLimit = 50

// hashTable is one generation of a partition's bucket array.
type hashTable struct {
	buckets []*Item
	mask    uint32
}

func newHashTable(bucketCount int) *hashTable {
	return &hashTable{buckets: make([]*Item, bucketCount), mask: uint32(bucketCount - 1)}
}

// partition is one shard of the cache (spec.md §3 "Partition", component
// C2+C3). Every field below is only safe to touch while mu is held.
type partition struct {
	id  int
	eng *Engine

	table    *hashTable
	oldTable *hashTable // non-nil only while expanding
	expandCursor uint32
	expanding    bool

	itemCount int64

	lrus [maxSlabClasses]*lruList

	mu sync.Mutex
}

func newPartition(id int, eng *Engine) *partition {
	p := &partition{
		id:    id,
		eng:   eng,
		table: newHashTable(initialBucketCount),
	}
	return p
}

// ---- C2: partitioned hash index ----

// selectTable picks which generation's bucket a key's hash falls into,
// per spec.md §4.2's resize protocol. Buckets already migrated out of the
// old table (index < expandCursor, computed with the old mask) are found
// in the new/current table; buckets not yet migrated are still in the old
// table. This matches original_source/assoc.c's assoc_find/assoc_insert
// (`oldbucket >= expand_bucket` stays on old_hashtable; otherwise the
// primary table), confirmed directly against the retrieved C source — see
// DESIGN.md.
func (p *partition) selectTable(hash uint32) (*hashTable, int) {
	if p.expanding {
		oldIdx := hash & p.oldTable.mask
		if oldIdx < p.expandCursor {
			return p.table, int(hash & p.table.mask)
		}
		return p.oldTable, int(oldIdx)
	}
	return p.table, int(hash & p.table.mask)
}

// find walks one bucket chain comparing (hash, key) (spec.md §4.2). It
// does not filter DELETED or expired items; callers apply those checks
// (spec.md §4.3 Expiry, §4.4 Deferred deletion).
func (p *partition) find(key []byte, hash uint32) *Item {
	t, idx := p.selectTable(hash)
	for it := t.buckets[idx]; it != nil; it = it.hNext {
		if it.hash == hash && len(it.Key) == len(key) && bytes.Equal(it.Key, key) {
			return it
		}
	}
	return nil
}

// insert pushes it at the head of its bucket chain. Precondition: the key
// is not already present (spec.md §4.2).
func (p *partition) insert(it *Item) {
	t, idx := p.selectTable(it.hash)
	it.hNext = t.buckets[idx]
	t.buckets[idx] = it
	p.itemCount++
	if !p.expanding && float64(p.itemCount) > expandLoadFactor*float64(len(p.table.buckets)) {
		p.beginExpand()
	}
}

// delete unlinks it from its bucket chain. The caller guarantees it is
// present.
func (p *partition) delete(it *Item) {
	t, idx := p.selectTable(it.hash)
	cur := &t.buckets[idx]
	for *cur != nil {
		if *cur == it {
			*cur = it.hNext
			it.hNext = nil
			p.itemCount--
			return
		}
		cur = &(*cur).hNext
	}
}

// beginExpand starts a resize: allocate a new table at 2x, retain the old
// one, and hand off to the engine's expansion worker (spec.md §4.2 steps
// 1-2, §5 "Hash-expansion worker"). Failure to allocate is declined
// silently; failure to start the worker rolls back.
func (p *partition) beginExpand() {
	newTable := newHashTable(len(p.table.buckets) * 2)
	if newTable == nil { // always succeeds in Go; kept for symmetry with spec.md's failure path
		return
	}
	p.oldTable = p.table
	p.table = newTable
	p.expandCursor = 0
	p.expanding = true

	if !p.eng.startExpansionWorker(p) {
		// Roll back: nothing was migrated yet, so just undo the swap.
		p.table = p.oldTable
		p.oldTable = nil
		p.expanding = false
		return
	}
	p.eng.logger.Debugf("partition %d: expansion started, %d -> %d buckets", p.id, len(p.oldTable.buckets), len(p.table.buckets))
}

// migrateStep moves up to bulk buckets from the old table into the new
// one, rehashing each item with the new mask (spec.md §4.2 step 2, §5).
// Returns true once the old table has been fully drained.
func (p *partition) migrateStep(bulk int) bool {
	if !p.expanding {
		return true
	}
	old := p.oldTable
	for i := 0; i < bulk && p.expandCursor < uint32(len(old.buckets)); i++ {
		idx := p.expandCursor
		for it := old.buckets[idx]; it != nil; {
			next := it.hNext
			newIdx := it.hash & p.table.mask
			it.hNext = p.table.buckets[newIdx]
			p.table.buckets[newIdx] = it
			it = next
		}
		old.buckets[idx] = nil
		p.expandCursor++
	}
	if p.expandCursor >= uint32(len(old.buckets)) {
		p.oldTable = nil
		p.expanding = false
		return true
	}
	return false
}

// ---- C3: per-partition LRU & eviction ----

func (p *partition) lruFor(classID int) *lruList {
	l := p.lrus[classID]
	if l == nil {
		l = newLRUList(classID)
		p.lrus[classID] = l
	}
	return l
}

// linkItem installs it into both the hash index and its class's LRU head,
// marking it LINKED (spec.md §3 Lifecycles).
func (p *partition) linkItem(it *Item, now int64) {
	it.partition = p
	p.insert(it)
	p.lruFor(it.slabClass).linkHead(it)
	it.state |= stateLinked
	it.lastAccess = now
	it.lastReposAt = now
}

// unlinkItem removes it from the hash index and its LRU list, clearing
// LINKED. The caller decides what happens to the item/chunk afterward
// (spec.md §3 Lifecycles: freed immediately if refcount==0, else
// deferred).
func (p *partition) unlinkItem(it *Item) {
	p.delete(it)
	p.lruFor(it.slabClass).unlink(it)
	it.state &^= stateLinked
}

// touch repositions it to its class's LRU head if it hasn't been
// repositioned in the last 60 seconds, to throttle churn on hot keys
// (spec.md §3, §4.3).
const lruReposThrottle = 60

func (p *partition) touch(it *Item, now int64) {
	if it.Linked() && now-it.lastReposAt > lruReposThrottle {
		l := p.lruFor(it.slabClass)
		l.unlink(it)
		l.linkHead(it)
		it.lastReposAt = now
	}
	it.lastAccess = now
}

// stealExpired inspects up to evictScanLimit LRU-tail items of classID
// for one that is unreferenced and already expired; if found it is
// unlinked and returned for reuse without ever touching the slab
// allocator (spec.md §4.4 do_item_alloc step 2).
func (p *partition) stealExpired(classID int, now int64) *Item {
	l := p.lruFor(classID)
	cur := l.tail.lruPrev
	for scanned := 0; cur != l.head && scanned < evictScanLimit; scanned, cur = scanned+1, cur.lruPrev {
		if cur.refcount == 0 && cur.expired(now) {
			p.unlinkItem(cur)
			p.eng.stats.onUnlink(itemSize(cur))
			p.eng.stats.onExpired()
			return cur
		}
	}
	return nil
}

// evictOne chooses a victim from classID's LRU tail, frees its chunk back
// to the slab allocator, and reports whether one was found (spec.md
// §4.3 evict_one).
func (p *partition) evictOne(classID int, now int64) bool {
	if !p.eng.cfg.EvictToFree {
		p.eng.slabs.recordOOM(classID)
		return false
	}
	l := p.lruFor(classID)
	if l.count == 0 {
		p.eng.slabs.recordOOM(classID)
		return false
	}
	cur := l.tail.lruPrev
	for scanned := 0; cur != l.head && scanned < evictScanLimit; scanned, cur = scanned+1, cur.lruPrev {
		if cur.refcount == 0 {
			age := now - cur.lastAccess
			p.unlinkItem(cur)
			p.eng.stats.onUnlink(itemSize(cur))
			p.eng.slabs.free(cur.chunk, classID)
			p.eng.slabs.recordEviction(classID, age)
			p.eng.stats.onEviction()
			return true
		}
	}
	p.eng.slabs.recordOOM(classID)
	p.eng.logger.Warnf("partition %d: eviction scan for class %d found no unreferenced victim", p.id, classID)
	return false
}

// flushExpired implements spec.md §4.3's flush_expired(cutoff), matching
// original_source/items.c's item_flush_expired byte for byte: for each
// slab class, walk the LRU head-to-tail (MRU toward LRU) and unlink every
// item still linked with last_access_time >= cutoff, stopping at the
// first item strictly older than cutoff. The list is monotonic by
// insertion/touch time, so once an item falls below cutoff everything
// behind it does too; the lazy expiry check in Engine.visible takes over
// for those (see DESIGN.md).
func (p *partition) flushExpired(cutoff int64) int {
	removed := 0
	for classID := range p.lrus {
		l := p.lrus[classID]
		if l == nil {
			continue
		}
		cur := l.head.lruNext
		for cur != l.tail {
			next := cur.lruNext
			if cur.lastAccess < cutoff {
				break
			}
			p.unlinkItem(cur)
			p.eng.stats.onUnlink(itemSize(cur))
			if cur.refcount == 0 {
				p.eng.slabs.free(cur.chunk, cur.slabClass)
			}
			removed++
			cur = next
		}
	}
	return removed
}
