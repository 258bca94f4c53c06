package cache

import "strconv"

// StoreOp enumerates the store-family opcodes spec.md §4.4 defines
// (ADD/SET/REPLACE/APPEND/PREPEND/CAS). INCR/DECR/DELETE/FLUSH/GET have
// their own entry points below since their request/response shapes
// differ.
type StoreOp int

const (
	OpAdd StoreOp = iota
	OpSet
	OpReplace
	OpAppend
	OpPrepend
	OpCAS
)

// StoreRequest carries a store operation's payload (spec.md §4.4's
// "optional payload (flags, expiration, CAS, value bytes)").
type StoreRequest struct {
	Key     []byte
	Value   []byte
	Flags   uint32
	Exptime int64 // absolute unix seconds; 0 = never
	CAS     uint64
}

// validateKeyValue enforces the boundary checks in spec.md §8: key
// length 0 is InvalidArgument, 1-250 accepted, 251+ TooLarge; value over
// MaxValueLength is TooLarge.
func validateKeyValue(key []byte, valueLen int) Status {
	return validateSizes(len(key), valueLen)
}

func validateSizes(keyLen, valueLen int) Status {
	switch {
	case keyLen == 0:
		return InvalidArgument
	case keyLen > MaxKeyLength:
		return TooLarge
	case valueLen > MaxValueLength:
		return TooLarge
	}
	return Success
}

// Store implements ADD/SET/REPLACE/APPEND/PREPEND/CAS (spec.md §4.4's
// opcode table). It returns the result status and, on Success, a
// caller-owned referenced Item the caller must Release.
//
// ADD/SET/REPLACE/CAS allocate any new item *before* resolving the
// existing one under lock, since allocItem may have briefly dropped and
// reacquired the partition mutex for a cross-partition eviction sweep
// (spec.md §5); find is only trustworthy once we know the lock has been
// held continuously since. APPEND/PREPEND needs the existing value's
// length to size the allocation, so it looks the item up first and
// re-resolves it after allocating.
func (e *Engine) Store(op StoreOp, req StoreRequest) (Status, *Item) {
	if st := validateKeyValue(req.Key, len(req.Value)); st != Success {
		return st, nil
	}
	hash := hashKey(req.Key)
	p := e.partitionFor(hash)
	now := e.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	switch op {
	case OpAdd, OpSet:
		it, st := e.allocItem(p, req.Key, req.Flags, req.Exptime, len(req.Value))
		if st != Success {
			return st, nil
		}
		copy(it.Value, req.Value)

		existing := p.find(req.Key, hash)
		if op == OpAdd && existing != nil && e.visible(existing, now) {
			e.slabs.free(it.chunk, it.slabClass)
			return KeyExists, nil
		}
		if existing != nil {
			e.finalizeUnlink(p, existing)
		}
		return e.finishLink(p, it, now), it

	case OpReplace:
		it, st := e.allocItem(p, req.Key, req.Flags, req.Exptime, len(req.Value))
		if st != Success {
			return st, nil
		}
		copy(it.Value, req.Value)

		existing := p.find(req.Key, hash)
		if existing == nil || !e.visible(existing, now) {
			e.slabs.free(it.chunk, it.slabClass)
			return NotStored, nil
		}
		e.finalizeUnlink(p, existing)
		return e.finishLink(p, it, now), it

	case OpCAS:
		it, st := e.allocItem(p, req.Key, req.Flags, req.Exptime, len(req.Value))
		if st != Success {
			return st, nil
		}
		copy(it.Value, req.Value)

		existing := p.find(req.Key, hash)
		if existing == nil || !e.visible(existing, now) {
			e.slabs.free(it.chunk, it.slabClass)
			return KeyNotFound, nil
		}
		if req.CAS != 0 && existing.CAS != req.CAS {
			e.slabs.free(it.chunk, it.slabClass)
			return KeyExists, nil
		}
		e.finalizeUnlink(p, existing)
		return e.finishLink(p, it, now), it

	case OpAppend, OpPrepend:
		return e.appendPrepend(p, hash, req, op == OpAppend, now)
	}
	return NotSupported, nil
}

func (e *Engine) appendPrepend(p *partition, hash uint32, req StoreRequest, append_ bool, now int64) (Status, *Item) {
	existing := p.find(req.Key, hash)
	if existing == nil || !e.visible(existing, now) {
		return NotStored, nil
	}
	combinedLen := len(existing.Value) + len(req.Value)
	it, st := e.allocItem(p, req.Key, existing.Flags, existing.Exptime, combinedLen)
	if st != Success {
		return st, nil
	}

	// Re-resolve: allocItem may have dropped the lock for a cross-partition
	// eviction sweep, during which `existing` could have been replaced.
	again := p.find(req.Key, hash)
	if again == nil || again != existing || !e.visible(again, now) {
		e.slabs.free(it.chunk, it.slabClass)
		return NotStored, nil
	}

	if append_ {
		n := copy(it.Value, existing.Value)
		copy(it.Value[n:], req.Value)
	} else {
		n := copy(it.Value, req.Value)
		copy(it.Value[n:], existing.Value)
	}
	e.finalizeUnlink(p, existing)
	return e.finishLink(p, it, now), it
}

// finalizeUnlink unlinks an item being replaced/removed and frees its
// chunk immediately if nothing else references it, otherwise defers the
// free to the last Release (spec.md §3 invariant 5).
func (e *Engine) finalizeUnlink(p *partition, it *Item) {
	p.unlinkItem(it)
	e.stats.onUnlink(itemSize(it))
	if it.refcount == 0 {
		e.slabs.free(it.chunk, it.slabClass)
	}
}

// finishLink assigns a fresh CAS and links it, handing the caller's
// reference back by leaving refcount at 1 (set at allocation time).
func (e *Engine) finishLink(p *partition, it *Item, now int64) Status {
	it.CAS = e.nextCAS()
	p.linkItem(it, now)
	e.stats.onLink(itemSize(it))
	return Success
}

// Get implements GET/GETK (spec.md §4.4). Quiet variants (GETQ/GETKQ) are
// a wire-framing concern (whether a miss gets a reply at all) outside
// this package's scope; callers implementing them just don't write a
// response when Get returns KeyNotFound.
func (e *Engine) Get(key []byte) (*Item, Status) {
	hash := hashKey(key)
	p := e.partitionFor(hash)
	now := e.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	it := p.find(key, hash)
	if it == nil || !e.visible(it, now) {
		// A linked, non-DELETED item that is not visible has expired, by its
		// own exptime or by the flush watermark: unlink it now.
		if it != nil && !it.Deleted() {
			e.finalizeUnlink(p, it)
			e.stats.onExpired()
		}
		e.stats.onGet(false)
		return nil, KeyNotFound
	}
	p.touch(it, now)
	it.refcount++
	e.stats.onGet(true)
	return it, Success
}

// Remove implements DELETE (spec.md §4.4). A zero cas means "no check";
// a non-zero cas must match. exptime > 0 defers the actual removal: the
// item is marked DELETED and queued for the maintenance reaper instead of
// being unlinked immediately.
func (e *Engine) Remove(key []byte, cas uint64, exptime int64) Status {
	hash := hashKey(key)
	p := e.partitionFor(hash)
	now := e.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	it := p.find(key, hash)
	if it == nil || !e.visible(it, now) {
		return KeyNotFound
	}
	if cas != 0 && it.CAS != cas {
		return KeyExists
	}

	if exptime > 0 {
		it.state |= stateDeleted
		it.deleteLockAt = now + exptime
		e.deleteQ.push(p, it)
		return Success
	}

	e.finalizeUnlink(p, it)
	return Success
}

// Flush implements FLUSH(t) (spec.md §4.4, §4.3 Expiry). when==0 sets
// oldest_live to the current time and immediately reaps every item whose
// last_access_time is at or after that watermark, matching
// original_source/slab_engine.c's slabber_flush, which calls
// do_item_flush_expired synchronously under the cache lock rather than
// deferring to a background pass. A positive when schedules the same
// watermark for a future instant instead: nothing can be reaped yet since
// no item's last_access_time can reach a future cutoff, so the
// maintenance loop (cache/maintenance.go) applies the watermark and runs
// the same eager reap once it comes due; until then oldest_live is not
// updated, so lookups are unaffected by the pending flush.
func (e *Engine) Flush(when int64) {
	if when == 0 {
		now := e.now()
		e.setOldestLive(now)
		e.flushExpiredAll(now)
		return
	}
	e.maint.scheduleFlush(when)
}

// flushExpiredAll runs flushExpired across every partition, taking each
// partition's lock in turn (spec.md §5: never hold two partition mutexes
// at once).
func (e *Engine) flushExpiredAll(cutoff int64) int {
	total := 0
	for _, p := range e.partitions {
		p.mu.Lock()
		total += p.flushExpired(cutoff)
		p.mu.Unlock()
	}
	return total
}

// Arithmetic implements INCR/DECR (spec.md §4.4). DECR clamps at zero;
// INCR wraps per uint64 arithmetic. A non-numeric existing value is
// InvalidArgument. A missing key is KeyNotFound unless create is true, in
// which case initial is stored and returned.
func (e *Engine) Arithmetic(key []byte, incr bool, delta, initial uint64, create bool, exptime int64) (Status, uint64, *Item) {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return InvalidArgument, 0, nil
	}
	hash := hashKey(key)
	p := e.partitionFor(hash)
	now := e.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	existing := p.find(key, hash)
	if existing == nil || !e.visible(existing, now) {
		if !create {
			return KeyNotFound, 0, nil
		}
		return e.arithmeticCreate(p, hash, key, initial, exptime, now)
	}

	cur, ok := parseDecimal(existing.Value)
	if !ok {
		return InvalidArgument, 0, nil
	}
	next := applyDelta(incr, cur, delta)
	nextStr := strconv.FormatUint(next, 10)

	if len(nextStr) <= cap(existing.chunk) {
		existing.Value = existing.chunk[:len(nextStr)]
		copy(existing.Value, nextStr)
		existing.CAS = e.nextCAS()
		p.touch(existing, now)
		existing.refcount++
		return Success, next, existing
	}

	it, st := e.allocItem(p, key, existing.Flags, existing.Exptime, len(nextStr))
	if st != Success {
		return st, 0, nil
	}
	copy(it.Value, nextStr)
	again := p.find(key, hash)
	if again != existing || !e.visible(again, now) {
		e.slabs.free(it.chunk, it.slabClass)
		return NotStored, 0, nil
	}
	e.finalizeUnlink(p, existing)
	e.finishLink(p, it, now)
	return Success, next, it
}

func (e *Engine) arithmeticCreate(p *partition, hash uint32, key []byte, initial uint64, exptime int64, now int64) (Status, uint64, *Item) {
	initStr := strconv.FormatUint(initial, 10)
	it, st := e.allocItem(p, key, 0, exptime, len(initStr))
	if st != Success {
		return st, 0, nil
	}
	copy(it.Value, initStr)

	again := p.find(key, hash)
	if again != nil && e.visible(again, now) {
		// Lost a race with a concurrent store while the lock was briefly
		// dropped for eviction; the key now exists, so this create no
		// longer applies. Report success against whatever is there now.
		e.slabs.free(it.chunk, it.slabClass)
		cur, ok := parseDecimal(again.Value)
		if !ok {
			return InvalidArgument, 0, nil
		}
		again.refcount++
		return Success, cur, again
	}
	if again != nil {
		e.finalizeUnlink(p, again)
	}
	e.finishLink(p, it, now)
	return Success, initial, it
}

func applyDelta(incr bool, cur, delta uint64) uint64 {
	if incr {
		return cur + delta
	}
	if delta > cur {
		return 0
	}
	return cur - delta
}

func parseDecimal(v []byte) (uint64, bool) {
	if len(v) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
