package cache

import (
	"sync"

	"github.com/slabcache/memcached/recycle"
)

// slabPageSize is the size of one contiguous region carved into chunks for
// a single class (spec.md §4.1: "typically 1 MiB").
const slabPageSize = 1024 * 1024

// maxSlabClasses bounds the class table; class IDs are small contiguous
// integers, class 0 reserved/invalid (spec.md §4.1).
const maxSlabClasses = 64

// slabClass owns one free list of fixed-size chunks plus its accounting.
type slabClass struct {
	id        int
	chunkSize int

	free [][]byte // stack of free chunks

	chunksAlloc int64 // total chunks ever carved for this class
	chunksFree  int64 // chunks currently on the free list

	evictions   int64
	outOfMemory int64
	evictedAge  int64 // sum of ages-at-eviction, for an average
}

// ClassSnapshot is the per-class view returned by slabAllocator.stats.
type ClassSnapshot struct {
	ID          int
	ChunkSize   int
	ChunksAlloc int64
	ChunksFree  int64
	BytesUsed   int64
	Evictions   int64
	OutOfMemory int64
}

// slabAllocator converts a byte budget into a fixed set of size classes
// and serves/reclaims fixed-size chunks from them in O(1) (spec.md §4.1,
// component C1). All access is serialized by a single mutex, acquired
// *inside* a partition's mutex per the lock hierarchy in spec.md §5.
type slabAllocator struct {
	mu sync.Mutex

	pool    *recycle.Pool
	classes []*slabClass // index 0 unused (reserved/invalid)

	maxBytes  int64
	usedBytes int64
	prealloc  bool
}

func newSlabAllocator(cfg Config) *slabAllocator {
	a := &slabAllocator{
		pool:     recycle.NewPoolSize(slabPageSize),
		maxBytes: cfg.MaxBytes,
		prealloc: cfg.Prealloc,
	}
	a.classes = append(a.classes, nil) // class 0 is invalid

	size := cfg.MinChunkSize
	for size <= cfg.MaxChunkSize && len(a.classes) < maxSlabClasses {
		a.classes = append(a.classes, &slabClass{id: len(a.classes), chunkSize: size})
		next := int(float64(size) * cfg.Factor)
		if next <= size {
			next = size + 1
		}
		size = next
	}
	// The geometric series rarely lands on MaxChunkSize itself; add it as
	// the final class so an item up to the configured ceiling has a class.
	if last := a.classes[len(a.classes)-1]; last != nil && last.chunkSize < cfg.MaxChunkSize && len(a.classes) < maxSlabClasses {
		a.classes = append(a.classes, &slabClass{id: len(a.classes), chunkSize: cfg.MaxChunkSize})
	}

	if a.prealloc {
		a.preallocate()
	}
	return a
}

// classFor returns the smallest class whose chunk size accommodates
// totalSize, or 0 if no class is large enough (spec.md §4.1).
func (a *slabAllocator) classFor(totalSize int) int {
	for i := 1; i < len(a.classes); i++ {
		if a.classes[i].chunkSize >= totalSize {
			return i
		}
	}
	return 0
}

// alloc returns a chunk from class classID's free list, carving a new page
// from the remaining budget if the free list is empty. Returns nil if the
// budget is exhausted (a non-fatal signal to C4 that eviction is needed).
func (a *slabAllocator) alloc(classID int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocLocked(classID)
}

func (a *slabAllocator) allocLocked(classID int) []byte {
	c := a.classes[classID]
	if n := len(c.free); n > 0 {
		chunk := c.free[n-1]
		c.free = c.free[:n-1]
		c.chunksFree--
		return chunk
	}
	return a.carveLocked(c)
}

func (a *slabAllocator) carveLocked(c *slabClass) []byte {
	perChunk := int64(c.chunkSize)
	chunksPerPage := slabPageSize / c.chunkSize
	if chunksPerPage < 1 {
		chunksPerPage = 1
	}
	pageBytes := perChunk * int64(chunksPerPage)
	if a.usedBytes+pageBytes > a.maxBytes {
		// Try to carve at least one chunk if that alone still fits.
		if a.usedBytes+perChunk > a.maxBytes {
			return nil
		}
		chunksPerPage = 1
		pageBytes = perChunk
	}

	page := a.pool.Get(c.chunkSize * chunksPerPage)
	a.usedBytes += pageBytes
	c.chunksAlloc += int64(chunksPerPage)

	for i := 1; i < chunksPerPage; i++ {
		c.free = append(c.free, page[i*c.chunkSize:(i+1)*c.chunkSize:(i+1)*c.chunkSize])
	}
	c.chunksFree += int64(chunksPerPage - 1)
	return page[0:c.chunkSize:c.chunkSize]
}

// free pushes chunk back onto classID's free list.
func (a *slabAllocator) free(chunk []byte, classID int) {
	a.mu.Lock()
	c := a.classes[classID]
	c.free = append(c.free, chunk)
	c.chunksFree++
	a.mu.Unlock()
}

func (a *slabAllocator) preallocate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.classes[1:] {
		for {
			before := a.usedBytes
			chunk := a.carveLocked(c)
			if chunk == nil {
				break
			}
			// Preallocation only carves pages, not individual chunks;
			// push the just-carved chunk back so the free list reflects
			// the whole page.
			c.free = append(c.free, chunk)
			c.chunksFree++
			if a.usedBytes == before {
				break
			}
		}
	}
}

func (a *slabAllocator) recordEviction(classID int, age int64) {
	a.mu.Lock()
	c := a.classes[classID]
	c.evictions++
	c.evictedAge += age
	a.mu.Unlock()
}

func (a *slabAllocator) recordOOM(classID int) {
	a.mu.Lock()
	a.classes[classID].outOfMemory++
	a.mu.Unlock()
}

func (a *slabAllocator) stats() []ClassSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snaps := make([]ClassSnapshot, 0, len(a.classes)-1)
	for _, c := range a.classes[1:] {
		snaps = append(snaps, ClassSnapshot{
			ID:          c.id,
			ChunkSize:   c.chunkSize,
			ChunksAlloc: c.chunksAlloc,
			ChunksFree:  c.chunksFree,
			BytesUsed:   (c.chunksAlloc - c.chunksFree) * int64(c.chunkSize),
			Evictions:   c.evictions,
			OutOfMemory: c.outOfMemory,
		})
	}
	return snaps
}
