// Command memcachedcore is a thin demonstration caller of the cache
// engine facade (cache.Engine), adapted from the teacher's own minimal
// Handler interface (handler.go: Set/Get/Delete). It exposes only those
// three operations, not the rest of the opcode set spec.md §4.4 defines,
// which callers reach through cache.Engine directly. It is not a protocol
// dispatcher:
// the binary wire framing, the socket accept loop, and command parsing
// are explicitly out of scope for this repo (spec.md §1) and live, in a
// real deployment, in the external collaborator this package stands in
// for.
package main

import (
	"github.com/slabcache/memcached/cache"
	"github.com/slabcache/memcached/log"
)

// Handler wires a cache.Engine behind the small, caller-friendly surface
// spec.md §6's facade exposes.
type Handler struct {
	Engine *cache.Engine
	log    log.Logger
}

// NewHandler builds a Handler around a freshly started Engine.
func NewHandler(cfg cache.Config, l log.Logger) *Handler {
	return &Handler{Engine: cache.New(cfg), log: l}
}

// Close stops the engine's background workers.
func (h *Handler) Close() { h.Engine.Close() }

// Set stores value unconditionally and returns the CAS assigned to it.
func (h *Handler) Set(key, value []byte, flags uint32, exptime int64) (cache.Status, uint64) {
	st, it := h.Engine.Store(cache.OpSet, cache.StoreRequest{
		Key: key, Value: value, Flags: flags, Exptime: exptime,
	})
	if st != cache.Success {
		h.log.Warnf("set %s: %s", key, st)
		return st, 0
	}
	cas := it.CAS
	h.Engine.Release(it)
	return st, cas
}

// Get fetches a copy of the stored value and metadata for key. The
// returned ItemInfo.Value is a copy, safe to use after Get returns —
// the engine's own Value slice aliases slab memory that is only valid
// while the caller holds a reference, which Get releases before
// returning here.
func (h *Handler) Get(key []byte) (cache.ItemInfo, cache.Status) {
	it, st := h.Engine.Get(key)
	if st != cache.Success {
		return cache.ItemInfo{}, st
	}
	info := h.Engine.ItemInfo(it)
	info.Value = append([]byte(nil), info.Value...)
	info.Key = append([]byte(nil), info.Key...)
	h.Engine.Release(it)
	return info, cache.Success
}

// Delete removes key immediately, reporting whether it was present.
func (h *Handler) Delete(key []byte) bool {
	return h.Engine.Remove(key, 0, 0) == cache.Success
}
