// Package cache implements the in-memory key/value cache storage engine:
// the slab allocator (C1), the partitioned hash index (C2), the
// per-partition LRU and eviction engine (C3), and the store-operation
// state machine built on top of them (C4). The wire protocol, the
// connection dispatcher, and everything else spec.md §1 names as an
// external collaborator live outside this package; see cache/facade.go
// for the boundary this package exposes to them.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/slabcache/memcached/log"
)

// Engine is the top-level handle: one slab allocator, N partitions, and
// the process-wide state (CAS counter, stats, oldest_live watermark,
// background workers) spec.md §9 says must be encapsulated here rather
// than left as package globals.
type Engine struct {
	cfg        Config
	partitions []*partition
	slabs      *slabAllocator
	stats      *globalStats

	casCounter uint64 // atomic, monotonically increasing (spec.md §3 invariant 6)
	oldestLive int64  // atomic, unix seconds; 0 means "no flush watermark"

	deleteQ *deleteQueue

	now func() int64 // overridable clock, for tests

	maint  *maintenanceSupervisor
	logger log.Logger
}

// New builds an Engine and starts its background workers. Call Close to
// stop them.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop
	}
	e := &Engine{
		cfg:    cfg,
		stats:  &globalStats{},
		now:    func() int64 { return time.Now().Unix() },
		logger: logger,
	}
	e.slabs = newSlabAllocator(cfg)
	e.deleteQ = newDeleteQueue()
	e.partitions = make([]*partition, cfg.NumPartitions)
	for i := range e.partitions {
		e.partitions[i] = newPartition(i, e)
	}
	e.maint = startMaintenance(e)
	return e
}

// Close stops all background workers. The Engine must not be used
// afterward.
func (e *Engine) Close() {
	if err := e.maint.stop(); err != nil {
		e.logger.Error("maintenance supervisor stopped with error: ", err)
	}
}

func (e *Engine) partitionFor(hash uint32) *partition {
	return e.partitions[hash%uint32(len(e.partitions))]
}

// nextCAS issues the next CAS token, or 0 when CAS issuance is disabled
// (Config.UseCAS false).
func (e *Engine) nextCAS() uint64 {
	if !e.cfg.UseCAS {
		return 0
	}
	return atomic.AddUint64(&e.casCounter, 1)
}

func (e *Engine) getOldestLive() int64 {
	return atomic.LoadInt64(&e.oldestLive)
}

func (e *Engine) setOldestLive(v int64) {
	atomic.StoreInt64(&e.oldestLive, v)
}

// visible reports whether it should be observable to a normal lookup:
// linked, not DELETED, not expired by its own exptime, and not caught by
// the oldest_live flush watermark (spec.md §4.3 Expiry, §4.4 Deferred
// deletion).
func (e *Engine) visible(it *Item, now int64) bool {
	if !it.Linked() || it.Deleted() {
		return false
	}
	if it.expired(now) {
		return false
	}
	if ol := e.getOldestLive(); ol != 0 && it.lastAccess <= ol {
		return false
	}
	return true
}

// allocItem runs spec.md §4.4's do_item_alloc sequence. p.mu must be held
// by the caller on entry; it remains held on return, though it may have
// been briefly released and reacquired if a cross-partition eviction
// sweep was needed (step 5) — callers must re-resolve any Item looked up
// before calling allocItem, since other goroutines could have mutated p
// while its lock was dropped.
func (e *Engine) allocItem(p *partition, key []byte, flags uint32, exptime int64, valueLen int) (*Item, Status) {
	total := totalItemSize(len(key), valueLen, e.cfg.UseCAS)
	classID := e.slabs.classFor(total)
	if classID == 0 {
		return nil, TooLarge
	}
	now := e.now()

	if victim := p.stealExpired(classID, now); victim != nil {
		return e.reinitItem(victim, key, flags, exptime, valueLen, now), Success
	}

	chunk := e.slabs.alloc(classID)
	if chunk == nil && p.evictOne(classID, now) {
		chunk = e.slabs.alloc(classID)
	}
	if chunk == nil && e.cfg.EvictToFree {
		p.mu.Unlock()
		chunk = e.evictAcrossPartitions(p, classID, now)
		p.mu.Lock()
	}
	if chunk == nil {
		return nil, OutOfMemory
	}

	it := &Item{
		partition:  p,
		Key:        append([]byte(nil), key...),
		chunk:      chunk,
		Value:      chunk[:valueLen],
		Flags:      flags,
		Exptime:    exptime,
		hash:       hashKey(key),
		refcount:   1,
		slabClass:  classID,
		lastAccess: now,
	}
	if e.cfg.UseCAS {
		it.state |= stateCASEnabled
	}
	return it, Success
}

func (e *Engine) reinitItem(it *Item, key []byte, flags uint32, exptime int64, valueLen int, now int64) *Item {
	it.Key = append(it.Key[:0], key...)
	it.hash = hashKey(key)
	it.Flags = flags
	it.Exptime = exptime
	it.Value = it.chunk[:valueLen]
	it.refcount = 1
	it.state = 0
	it.lastAccess = now
	it.lastReposAt = 0
	it.deleteLockAt = 0
	if e.cfg.UseCAS {
		it.state |= stateCASEnabled
	}
	return it
}

// evictAcrossPartitions implements spec.md §4.4 step 5: scan every other
// partition round-robin for a victim of classID, honoring the lock
// hierarchy by never holding two partition mutexes at once (spec.md §5).
func (e *Engine) evictAcrossPartitions(skip *partition, classID int, now int64) []byte {
	for _, p2 := range e.partitions {
		if p2 == skip {
			continue
		}
		p2.mu.Lock()
		ok := p2.evictOne(classID, now)
		p2.mu.Unlock()
		if ok {
			if chunk := e.slabs.alloc(classID); chunk != nil {
				return chunk
			}
		}
	}
	return nil
}

// releaseLocked decrements refcount and frees the chunk to its slab if
// this was the last reference to an already-unlinked item (spec.md §3
// invariant 5, Lifecycles "DEAD-REFD" -> "FREED" transition).
func (e *Engine) releaseLocked(it *Item) {
	it.refcount--
	if it.refcount == 0 && !it.Linked() {
		e.slabs.free(it.chunk, it.slabClass)
	}
}

// Release drops a reference previously obtained through Get/Allocate
// (spec.md §6 Engine facade "release"). Callers must call it exactly
// once per reference handed to them.
func (e *Engine) Release(it *Item) {
	p := it.partition
	p.mu.Lock()
	e.releaseLocked(it)
	p.mu.Unlock()
}
