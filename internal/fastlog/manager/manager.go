package manager

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/fastlog/internal/fastlog/buffer"
)

// Slot is a live buffer slot cell: the per-thread atomic pointer the
// producer re-reads on every append and the manager nulls at revocation.
type Slot = atomic.Pointer[buffer.EventBuffer]

// Config carries the manager's sizing knobs, fixed at construction.
type Config struct {
	// NumEvents is the buffer capacity N.
	NumEvents int

	// BatchSize is the reload period B.
	BatchSize int

	// MaxWorkers caps concurrently active worker goroutines. With the cap
	// reached at epoch close, the epoch's buffers are dropped to the free
	// pool unprocessed: producers lose no progress, the analyzer loses an
	// epoch. Zero means every epoch is dropped.
	MaxWorkers int

	// Sink consumes closed buffers on worker goroutines. Nil discards.
	Sink Sink
}

// Manager coordinates buffer ownership across producers and workers.
//
// Thread Safety: all exported methods are safe for concurrent use; they
// serialize on the internal monitor.
type Manager struct {
	// mu is the monitor: one lock, no nesting, guarding every field below.
	mu   sync.Mutex
	idle *sync.Cond // signaled when a worker or reclaimer finishes

	cfg Config

	// epoch is the definitive current epoch.
	epoch int32

	// freeBufs is the pool of recyclable buffers.
	freeBufs []*buffer.EventBuffer

	// allocatedBufs are the buffers handed out in the current epoch; they
	// travel to a worker together when the epoch closes. Always empty at
	// the start of an epoch.
	allocatedBufs []*buffer.EventBuffer

	// liveSlots are the slot cells of every thread participating in the
	// current epoch. Revocation iterates this set; thread exit removes
	// its cell (cell addresses die with their goroutines).
	liveSlots map[*Slot]struct{}

	// activeWorkers counts dispatched, unreleased workers. Bounded by
	// cfg.MaxWorkers except for the final flush.
	activeWorkers int

	// reclaiming counts background reclaimers draining dropped epochs.
	reclaiming int

	// dropped counts epochs lost to worker saturation.
	dropped atomic.Int64
}

// New constructs a manager. NumEvents and BatchSize fall back to the
// buffer package defaults when zero.
func New(cfg Config) *Manager {
	if cfg.NumEvents <= 0 {
		cfg.NumEvents = buffer.DefaultNumEvents
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = buffer.DefaultBatchSize
	}
	m := &Manager{
		cfg:       cfg,
		liveSlots: make(map[*Slot]struct{}),
	}
	m.idle = sync.NewCond(&m.mu)
	return m
}

// Allocate hands a fresh buffer to the calling producer for the current
// epoch. Precondition: the producer's slot holds nil (initial bind, or it
// observed a revocation).
//
// The buffer is stamped with the producer's thread ID and the current
// epoch, published into the slot, and both the slot and the buffer are
// recorded for the epoch's eventual revocation and handoff.
func (m *Manager) Allocate(slot *Slot, tid int32) *buffer.EventBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.freshBuffer(tid)
	m.liveSlots[slot] = struct{}{}
	m.allocatedBufs = append(m.allocatedBufs, buf)
	slot.Store(buf)
	return buf
}

// TryAdvanceEpoch is called by a producer whose reference hit the buffer
// capacity. refEpoch is the epoch stamped into that reference's buffer.
//
// Exactly one producer wins per epoch: the call is serialized by the
// monitor and predicated on refEpoch matching the manager's epoch. Losers
// return false and are expected to re-enter via Allocate (their slot has
// already been nulled by the winner's revocation).
//
// The winner:
//  1. revokes every live slot (relaxed-equivalent nil stores) and clears
//     the live set;
//  2. hands the epoch's buffers to a new worker goroutine, or, when
//     MaxWorkers are already busy, drops them toward the free pool and
//     counts the epoch as dropped;
//  3. increments the epoch.
//
// The winner's own slot is revoked like any other; callers follow up with
// Allocate to re-enter the new epoch.
func (m *Manager) TryAdvanceEpoch(refEpoch int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if refEpoch != m.epoch {
		// Another thread already advanced past the reference's epoch.
		return false
	}

	for cell := range m.liveSlots {
		cell.Store(nil)
	}
	clear(m.liveSlots)

	bufs := m.allocatedBufs
	m.allocatedBufs = nil

	if m.activeWorkers < m.cfg.MaxWorkers {
		m.activeWorkers++
		go m.runWorker(bufs)
	} else {
		// Backpressure: recycle the epoch unprocessed. A reclaimer still
		// has to wait for each producer to notice the revocation and
		// close its buffer; re-pooling an open buffer would hand one
		// storage region to two writers.
		m.dropped.Add(1)
		m.reclaiming++
		go m.reclaim(bufs)
	}

	m.epoch++
	return true
}

// Release returns processed buffers to the free pool and retires the
// calling worker. Invoked by worker goroutines only.
func (m *Manager) Release(bufs []*buffer.EventBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.freeBufs = append(m.freeBufs, bufs...)
	m.activeWorkers--
	m.idle.Broadcast()
}

// ThreadExit reclaims an exiting producer's state. cur is the buffer the
// producer's reference last pointed at (with its count already flushed),
// or nil if the thread never logged.
//
// Closing cur here covers both shapes of exit: if the slot is still live
// the buffer simply ends early and travels with the current epoch; if the
// slot was already revoked, the close unblocks the worker spinning on it.
func (m *Manager) ThreadExit(slot *Slot, cur *buffer.EventBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	slot.Store(nil)
	delete(m.liveSlots, slot)
}

// Flush is the global quiesce step at process (or test) end: it closes
// every live buffer, delivers the final partial epoch to a worker (the
// worker cap is ignored here so shutdown never drops events), and
// blocks until all workers and reclaimers have finished.
//
// Precondition: producers have stopped logging and flushed their
// references (Unbind or ThreadExit).
func (m *Manager) Flush() {
	m.mu.Lock()

	for cell := range m.liveSlots {
		if buf := cell.Load(); buf != nil {
			buf.Close()
		}
		cell.Store(nil)
	}
	clear(m.liveSlots)

	bufs := m.allocatedBufs
	m.allocatedBufs = nil
	if len(bufs) > 0 {
		for _, buf := range bufs {
			buf.Close()
		}
		m.activeWorkers++
		go m.runWorker(bufs)
		m.epoch++
	}

	for m.activeWorkers > 0 || m.reclaiming > 0 {
		m.idle.Wait()
	}
	m.mu.Unlock()
}

// Epoch returns the current epoch.
func (m *Manager) Epoch() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// DroppedEpochs returns the number of epochs recycled unprocessed because
// the worker cap was reached.
func (m *Manager) DroppedEpochs() int64 {
	return m.dropped.Load()
}

// FreeBuffers returns the current free-pool size. Diagnostic only.
func (m *Manager) FreeBuffers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.freeBufs)
}

// freshBuffer obtains a buffer for the current epoch, reusing the pool
// when possible. Caller holds the monitor.
//
// There is no recovery path for allocation failure; the Go runtime's
// out-of-memory abort provides the diagnostic.
func (m *Manager) freshBuffer(tid int32) *buffer.EventBuffer {
	var buf *buffer.EventBuffer
	if n := len(m.freeBufs); n > 0 {
		buf = m.freeBufs[n-1]
		m.freeBufs = m.freeBufs[:n-1]
		buf.Reset()
	} else {
		buf = buffer.New(m.cfg.NumEvents, m.cfg.BatchSize)
	}
	buf.ThreadID = tid
	buf.Epoch = m.epoch
	return buf
}
