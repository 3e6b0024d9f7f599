// Package buffer implements the per-thread event buffer of the fastlog
// runtime: a fixed-capacity append region plus the register-resident
// reference producers carry across appends.
//
// A buffer is exclusively owned by at most one party at a time: first the
// producing thread (until revocation or thread exit), then one worker
// (until released), then the manager's free pool. It is NOT a ring buffer:
// once filled it is handed off, never overwritten in place.
package buffer

import "sync/atomic"

// Defaults for the process-wide sizing knobs. The manager accepts
// overrides so tests can exercise epoch rollover with tiny buffers.
const (
	// DefaultNumEvents is the full capacity N of a buffer in events.
	// At 8 bytes per event this is an 8 MB append region; filling it at
	// ~1ns/event takes on the order of 1ms, which sets the epoch length.
	DefaultNumEvents = 1 << 20

	// DefaultBatchSize is the reload period B: the number of fast-path
	// appends between two slow-path entries. Chosen so the slow path
	// amortizes away and B events span a small multiple of a cache line.
	DefaultBatchSize = 64
)

// EventBuffer is a fixed-size append region for 64-bit event words.
//
// The storage carries a tail pad of BatchSize+1 words beyond NumEvents:
// between two periodic checks the producer performs at most BatchSize
// appends past the capacity trigger, plus one optional timestamp word, so
// Count never indexes outside storage. The pad is never read by consumers.
//
// Count and NextCheck are only authoritative while no Ref is held; while a
// producer holds a Ref, the snapshot inside the Ref is the truth and these
// fields are refreshed on flush.
type EventBuffer struct {
	// Storage holds the event words. Valid events are Storage[:Count].
	Storage []uint64

	// Count is the number of valid events appended so far. Advances
	// monotonically until Reset.
	Count int

	// NextCheck is the Count value at which the producer must take the
	// slow path. Invariant while held: Count <= NextCheck <= Count+BatchSize.
	NextCheck int

	// NumEvents is the full capacity N. Reaching it triggers an epoch
	// advance, never an overwrite.
	NumEvents int

	// BatchSize is the reload period B for this buffer.
	BatchSize int

	// ThreadID identifies the producing thread. Stamped by the manager at
	// handoff; -1 while pooled.
	ThreadID int32

	// Epoch is the epoch in which the manager handed this buffer out;
	// -1 while pooled.
	Epoch int32

	// closed is set by the producer when it will never write again.
	// Workers must observe it true before reading Storage[:Count].
	closed atomic.Bool
}

// New allocates an empty buffer with capacity numEvents and reload period
// batchSize. The extra batchSize+1 words absorb the appends that land
// between the capacity trigger and the next slow-path entry.
func New(numEvents, batchSize int) *EventBuffer {
	b := &EventBuffer{
		Storage:   make([]uint64, numEvents+batchSize+1),
		NumEvents: numEvents,
		BatchSize: batchSize,
	}
	b.Reset()
	return b
}

// Reset returns the buffer to its just-created state, reusing storage.
// Must only be called by the manager while the buffer sits in the free
// pool (no producer, no worker).
func (b *EventBuffer) Reset() {
	b.Count = 0
	b.NextCheck = b.BatchSize
	b.ThreadID = -1
	b.Epoch = -1
	b.closed.Store(false)
}

// Close marks the buffer as finished: the producer will never append to it
// again. The store has release semantics; a worker that observes Closed
// may freely read Storage[:Count].
//
// The flag goes false->true once per buffer lifetime; Close is called by
// the producer on revocation or by the manager on thread exit and final
// flush, and a repeated call leaves the buffer closed.
//
//go:nosplit
func (b *EventBuffer) Close() {
	b.closed.Store(true)
}

// Closed reports whether the producer is done with this buffer. The load
// has acquire semantics and pairs with Close.
//
//go:nosplit
func (b *EventBuffer) Closed() bool {
	return b.closed.Load()
}

// Events returns the valid portion of the storage. Only meaningful to a
// worker after Closed() is true, or to the manager while the buffer is
// pooled.
func (b *EventBuffer) Events() []uint64 {
	return b.Storage[:b.Count]
}

// Ref is a transient snapshot of a buffer's mutable state, carried in the
// producer's frame across a run of appends so the compiler can keep Count
// and NextCheck in registers instead of memory.
//
// The Ref is authoritative for Count and NextCheck while held; both flush
// back into the buffer on Flush (reference drop), and Count alone on
// Rebind (rotation).
// At most one Ref may exist per buffer.
type Ref struct {
	// Buf is the referenced buffer.
	Buf *EventBuffer

	// Storage aliases Buf.Storage to avoid a pointer chase per append.
	Storage []uint64

	// Count is the local event count; see EventBuffer.Count.
	Count int

	// NextCheck is the local slow-path trigger; see EventBuffer.NextCheck.
	NextCheck int
}

// NewRef snapshots the buffer into a fresh reference.
func (b *EventBuffer) NewRef() Ref {
	return Ref{
		Buf:       b,
		Storage:   b.Storage,
		Count:     b.Count,
		NextCheck: b.NextCheck,
	}
}

// Flush writes the local Count and NextCheck back into the buffer.
// Must be called when the reference is dropped.
func (r *Ref) Flush() {
	r.Buf.Count = r.Count
	r.Buf.NextCheck = r.NextCheck
}

// Rebind detaches the reference from its revoked buffer and attaches it to
// cur, the producer's newly assigned buffer.
//
// The event count (and only the count) is written back to the old buffer,
// which is then closed: whatever word was appended in the same call that
// observed the revocation stays in the old buffer and travels to the
// worker with it. The new buffer starts empty.
func (r *Ref) Rebind(cur *EventBuffer) {
	r.Buf.Count = r.Count
	r.Buf.Close()

	r.Buf = cur
	r.Storage = cur.Storage
	r.Count = 0
	r.NextCheck = cur.BatchSize
}
