package cache

import "sync"

// globalStats holds process-wide counters (spec.md §4.4, §5 lock #3,
// §9 "global mutable state"). Encapsulated in the engine instance and
// guarded by its own mutex, never as package-level globals.
type globalStats struct {
	mu sync.Mutex

	currBytes  int64
	currItems  int64
	totalItems int64
	evictions  int64
	expired    int64
	getHits    int64
	getMisses  int64
}

// Stats is the snapshot returned to callers (the `get_stats` facade call).
type Stats struct {
	CurrBytes  int64
	CurrItems  int64
	TotalItems int64
	Evictions  int64
	Expired    int64
	GetHits    int64
	GetMisses  int64
	Classes    []ClassSnapshot
}

func (g *globalStats) onLink(size int64) {
	g.mu.Lock()
	g.currBytes += size
	g.currItems++
	g.totalItems++
	g.mu.Unlock()
}

func (g *globalStats) onUnlink(size int64) {
	g.mu.Lock()
	g.currBytes -= size
	g.currItems--
	g.mu.Unlock()
}

func (g *globalStats) onEviction() {
	g.mu.Lock()
	g.evictions++
	g.mu.Unlock()
}

func (g *globalStats) onExpired() {
	g.mu.Lock()
	g.expired++
	g.mu.Unlock()
}

func (g *globalStats) onGet(hit bool) {
	g.mu.Lock()
	if hit {
		g.getHits++
	} else {
		g.getMisses++
	}
	g.mu.Unlock()
}

func (g *globalStats) snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		CurrBytes:  g.currBytes,
		CurrItems:  g.currItems,
		TotalItems: g.totalItems,
		Evictions:  g.evictions,
		Expired:    g.expired,
		GetHits:    g.getHits,
		GetMisses:  g.getMisses,
	}
}

func (g *globalStats) reset() {
	g.mu.Lock()
	g.totalItems, g.evictions, g.expired, g.getHits, g.getMisses = 0, 0, 0, 0, 0
	g.mu.Unlock()
}
