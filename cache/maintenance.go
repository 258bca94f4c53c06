package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/stackerr"
	"golang.org/x/sync/errgroup"
)

// maintenanceTick is the engine-wide maintenance loop's wake interval
// (spec.md §5 "Maintenance loop... every 5 seconds (or on signal)").
const maintenanceTick = 5 * time.Second

// expansionYield is the pause a per-partition hash-expansion worker takes
// between migration bursts, so it doesn't spin a core while it has the
// partition mutex released (spec.md §5 doesn't mandate a specific pace;
// this is a deliberate choice).
const expansionYield = time.Millisecond

// maintenanceSupervisor owns every background goroutine an Engine runs:
// the per-partition hash-expansion workers and the engine-wide
// maintenance loop (spec.md §5, §9 "Background workers: owned tasks with
// explicit shutdown signals and join on engine destruction, not detached
// threads").
type maintenanceSupervisor struct {
	eng    *Engine
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	pendingFlushAt int64 // atomic; 0 means none scheduled
}

func startMaintenance(e *Engine) *maintenanceSupervisor {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	m := &maintenanceSupervisor{eng: e, group: group, ctx: gctx, cancel: cancel}
	group.Go(func() error { m.loop(); return nil })
	return m
}

// stop cancels every background worker and waits for them to return,
// wrapping any error one of them reports so it carries a stack trace
// (spec.md §5's "owned tasks ... join on engine destruction" — a worker
// erroring here is unexpected, so it's worth a stack, not just a message).
func (m *maintenanceSupervisor) stop() error {
	m.cancel()
	if err := m.group.Wait(); err != nil {
		return stackerr.Wrap(err)
	}
	return nil
}

// startExpansionWorker launches the per-partition migration goroutine
// spec.md §5 describes. It always "starts" in this in-process
// implementation (errgroup.Go never fails synchronously); the bool return
// exists so partition.beginExpand can roll back per spec.md §4.2's
// failure path if that were ever not the case (e.g. under a supervisor
// already shutting down).
func (e *Engine) startExpansionWorker(p *partition) bool {
	select {
	case <-e.maint.ctx.Done():
		return false
	default:
	}
	e.maint.group.Go(func() error {
		e.runExpansionWorker(p)
		return nil
	})
	return true
}

func (e *Engine) runExpansionWorker(p *partition) {
	for {
		select {
		case <-e.maint.ctx.Done():
			return
		default:
		}
		p.mu.Lock()
		done := p.migrateStep(e.cfg.HashBulkMove)
		p.mu.Unlock()
		if done {
			e.logger.Debugf("partition %d: expansion finished", p.id)
			return
		}
		time.Sleep(expansionYield)
	}
}

func (m *maintenanceSupervisor) scheduleFlush(when int64) {
	atomic.StoreInt64(&m.pendingFlushAt, when)
}

func (m *maintenanceSupervisor) loop() {
	ticker := time.NewTicker(maintenanceTick)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *maintenanceSupervisor) tick() {
	now := m.eng.now()

	if at := atomic.LoadInt64(&m.pendingFlushAt); at != 0 && now >= at {
		if atomic.CompareAndSwapInt64(&m.pendingFlushAt, at, 0) {
			m.eng.setOldestLive(at)
			m.eng.flushExpiredAll(at)
		}
	}

	for _, p := range m.eng.partitions {
		p.mu.Lock()
		if p.expanding {
			p.migrateStep(m.eng.cfg.HashBulkMove)
		}
		p.mu.Unlock()
	}

	m.eng.deleteQ.reap(m.eng, now)
}

// deleteQueue is spec.md §4.4's "per-engine deletion list": items marked
// DELETED by a DELETE with a positive exptime, waiting out their
// delete-lock window before the reaper actually frees them.
type deleteQueue struct {
	mu      sync.Mutex
	entries []deleteEntry
}

type deleteEntry struct {
	p  *partition
	it *Item
}

func newDeleteQueue() *deleteQueue { return &deleteQueue{} }

func (q *deleteQueue) push(p *partition, it *Item) {
	q.mu.Lock()
	q.entries = append(q.entries, deleteEntry{p: p, it: it})
	q.mu.Unlock()
}

// reap unlinks every queued item whose delete-lock window has elapsed,
// per spec.md §5's maintenance-loop description ("reaps deferred
// deletions whose lock window has elapsed").
func (q *deleteQueue) reap(e *Engine, now int64) {
	q.mu.Lock()
	remaining := q.entries[:0]
	due := make([]deleteEntry, 0)
	for _, ent := range q.entries {
		if ent.it.deleteLockAt <= now {
			due = append(due, ent)
		} else {
			remaining = append(remaining, ent)
		}
	}
	q.entries = remaining
	q.mu.Unlock()

	for _, ent := range due {
		ent.p.mu.Lock()
		if ent.it.state&stateDeleted != 0 && ent.it.Linked() {
			e.finalizeUnlink(ent.p, ent.it)
		}
		ent.p.mu.Unlock()
	}
}
