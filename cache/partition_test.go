package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPartitionEngine(t *testing.T) (*Engine, *partition) {
	t.Helper()
	e := newTestEngine(t, WithNumPartitions(1))
	return e, e.partitions[0]
}

// TestPartitionFindDuringExpansion exercises selectTable directly: insert
// enough items to trigger beginExpand, then confirm every key is still
// findable whether or not its bucket has migrated yet.
func TestPartitionFindDuringExpansion(t *testing.T) {
	e, p := newTestPartitionEngine(t)

	const n = 500
	items := make([]*Item, n)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		p.mu.Lock()
		it, st := e.allocItem(p, key, 0, 0, 1)
		require.Equal(t, Success, st)
		it.Value[0] = 'v'
		it.CAS = e.nextCAS()
		p.linkItem(it, e.now())
		e.stats.onLink(itemSize(it))
		p.mu.Unlock()
		items[i] = it
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		found := p.find(items[i].Key, items[i].hash)
		require.NotNil(t, found, "key-%d not found", i)
		require.Same(t, items[i], found)
	}
}

func TestPartitionInsertTriggersExpand(t *testing.T) {
	e, p := newTestPartitionEngine(t)
	require.False(t, p.expanding)

	threshold := int(expandLoadFactor*float64(initialBucketCount)) + 2
	for i := 0; i < threshold; i++ {
		key := []byte(fmt.Sprintf("k-%d", i))
		p.mu.Lock()
		it, st := e.allocItem(p, key, 0, 0, 1)
		require.Equal(t, Success, st)
		p.linkItem(it, e.now())
		p.mu.Unlock()
	}

	p.mu.Lock()
	expanding := p.expanding
	p.mu.Unlock()
	require.True(t, expanding, "expected expansion to have started")
}

// TestFlushExpiredWalksMRUToLRU exercises flushExpired directly: it must
// walk head (MRU) to tail (LRU), unlinking while lastAccess >= cutoff and
// stopping at the first item older than cutoff (original_source/items.c's
// item_flush_expired), not the reverse.
func TestFlushExpiredWalksMRUToLRU(t *testing.T) {
	e, p := newTestPartitionEngine(t)

	link := func(key string, lastAccess int64) *Item {
		p.mu.Lock()
		defer p.mu.Unlock()
		it, st := e.allocItem(p, []byte(key), 0, 0, 1)
		require.Equal(t, Success, st)
		it.CAS = e.nextCAS()
		p.linkItem(it, e.now())
		it.lastAccess = lastAccess
		return it
	}

	// Linked oldest-first so the LRU head ends up newest: c (MRU) -> b -> a (LRU).
	link("a", 100)
	link("b", 200)
	link("c", 300)

	p.mu.Lock()
	removed := p.flushExpired(200)
	p.mu.Unlock()

	require.Equal(t, 2, removed, "expected c and b (lastAccess >= cutoff) to be reaped")

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Nil(t, p.find([]byte("c"), hashKey([]byte("c"))))
	require.Nil(t, p.find([]byte("b"), hashKey([]byte("b"))))
	require.NotNil(t, p.find([]byte("a"), hashKey([]byte("a"))), "a is older than cutoff; flushExpired should stop before it")
}

func TestHashTableBucketHeadInsert(t *testing.T) {
	tbl := newHashTable(64)
	it := newTestItem("k", 4)
	it.hash = hashKey(it.Key)

	idx := int(it.hash & tbl.mask)
	it.hNext = tbl.buckets[idx]
	tbl.buckets[idx] = it

	require.Same(t, it, tbl.buckets[idx])
}
