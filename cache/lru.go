package cache

import "github.com/slabcache/memcached/internal/tag"

// lruList is a per-slab-class, per-partition doubly-linked list ordered
// most-recent-first (spec.md §3, §4.3, component C3).
//
// Grounded on the teacher's cache/lru.go: the fake-head/fake-tail sentinel
// trick that lets pushBack/shrink run without nil checks is kept verbatim
// in spirit. What's generalized: the teacher had exactly one lru per
// cache instance holding a single active/inactive clock sweep; spec.md
// needs one per (partition, slab class), with recency-ordered head-insert
// and a throttled touch instead of the teacher's two-state clock, so the
// node/list split here drops the active-bit clock machinery and keeps
// only the link/unlink/iterate primitives.
type lruList struct {
	classID int

	// Real items live strictly between head and tail. head.lruNext is the
	// most recently linked/touched item; tail.lruPrev is the oldest.
	head *Item
	tail *Item

	bytes int64
	count int64
}

func newLRUList(classID int) *lruList {
	l := &lruList{classID: classID, head: &Item{}, tail: &Item{}}
	l.head.lruNext = l.tail
	l.tail.lruPrev = l.head
	return l
}

// linkHead inserts it immediately after the head sentinel, making it the
// most-recent item in the list (spec.md §4.3 link_lru).
func (l *lruList) linkHead(it *Item) {
	it.lruNext = l.head.lruNext
	it.lruPrev = l.head
	l.head.lruNext.lruPrev = it
	l.head.lruNext = it
	l.bytes += itemSize(it)
	l.count++
}

// unlink removes it from the list (spec.md §4.3 unlink_lru). it must
// currently belong to this list.
//
// Grounded on the teacher's node.detach/disown: the stale prev/next
// pointers are only cleared under tag.Debug, so a normal build skips the
// extra writes and relies on the caller never touching them again.
func (l *lruList) unlink(it *Item) {
	it.lruPrev.lruNext = it.lruNext
	it.lruNext.lruPrev = it.lruPrev
	if tag.Debug {
		it.lruPrev = nil
		it.lruNext = nil
	}
	l.bytes -= itemSize(it)
	l.count--
}
