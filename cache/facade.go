package cache

// This file is the Engine Facade: the exact set of calls spec.md §6 says
// the core exposes to its external collaborator, the connection
// dispatcher. `Get`, `Store`, `Arithmetic`, `Remove`, `Flush`, and
// `Release` live in engine.go/ops.go; the remainder live here.

// ItemInfo is the read-only view of an item spec.md §6's `item_info` call
// returns: enough for a dispatcher to serialize a response without
// reaching into engine internals.
type ItemInfo struct {
	Key     []byte
	Value   []byte
	CAS     uint64
	Flags   uint32
	Exptime int64
}

// Allocate obtains a referenced, unlinked item sized for valueLen bytes,
// for callers that want to fill the value buffer themselves (e.g. reading
// it directly off a socket) before an eventual Store. It is not used by
// this package's own Store implementation, which takes value bytes by
// value; it exists because spec.md §6 lists `allocate` as a facade call
// in its own right.
func (e *Engine) Allocate(key []byte, flags uint32, exptime int64, valueLen int) (*Item, Status) {
	if st := validateKeyValue(key, valueLen); st != Success {
		return nil, st
	}
	hash := hashKey(key)
	p := e.partitionFor(hash)

	p.mu.Lock()
	defer p.mu.Unlock()
	return e.allocItem(p, key, flags, exptime, valueLen)
}

// GetStats returns a snapshot of process-wide counters and per-slab-class
// statistics (spec.md §6 `get_stats`). key is accepted for interface
// parity with the classic "STATS <subkey>" filter; this engine only ever
// has one stats domain to report, so it is unused.
func (e *Engine) GetStats(_ []byte) Stats {
	s := e.stats.snapshot()
	s.Classes = e.slabs.stats()
	return s
}

// ResetStats zeroes the cumulative counters (spec.md §6 `reset_stats`).
// Point-in-time gauges (CurrBytes, CurrItems) are left alone, since they
// describe live state rather than history.
func (e *Engine) ResetStats() {
	e.stats.reset()
}

// ItemInfo extracts the dispatcher-facing view of a referenced item
// (spec.md §6 `item_info`).
func (e *Engine) ItemInfo(it *Item) ItemInfo {
	return ItemInfo{
		Key:     it.Key,
		Value:   it.Value,
		CAS:     it.CAS,
		Flags:   it.Flags,
		Exptime: it.Exptime,
	}
}

// SetCAS overwrites a referenced item's CAS token directly (spec.md §6
// `set_cas`), for a dispatcher that issues CAS values itself rather than
// relying on the engine's monotonic counter.
func (e *Engine) SetCAS(it *Item, value uint64) {
	p := it.partition
	p.mu.Lock()
	it.CAS = value
	p.mu.Unlock()
}

// SizeOK reports whether a request of this shape would be accepted,
// without allocating anything (spec.md §6 `size_ok`) — useful for a
// dispatcher deciding whether to even read the value off the wire.
func (e *Engine) SizeOK(nkey int, _ uint32, nbytes int) bool {
	return validateSizes(nkey, nbytes) == Success
}
