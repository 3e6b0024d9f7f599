package logger

import (
	"github.com/kolkov/fastlog/internal/fastlog/buffer"
	"github.com/kolkov/fastlog/internal/fastlog/cycles"
	"github.com/kolkov/fastlog/internal/fastlog/event"
	"github.com/kolkov/fastlog/internal/fastlog/manager"
	"github.com/kolkov/fastlog/internal/fastlog/thread"
)

// Ref is the buffer reference instrumented code logs through: a snapshot
// of the calling goroutine's current buffer, designed to live in the
// caller's frame so the compiler keeps the count and check threshold in
// registers across a run of appends.
//
// Bind once per instrumented function, log through the shims, Unbind on
// the way out (or Exit if the goroutine is done for good). A Ref must not
// be copied after first use and must not be shared between goroutines.
type Ref struct {
	buffer.Ref

	// slot is this goroutine's live buffer slot; re-read on every append
	// so a revocation is observed within one batch.
	slot *manager.Slot

	// ctx is the owning goroutine's thread context.
	ctx *thread.Context

	// mgr is the manager captured at Bind.
	mgr *manager.Manager

	// numEvents and batch mirror the buffer's sizing; kept here so the
	// hot path never dereferences the buffer.
	numEvents int
	batch     int

	// emitTimestamps mirrors Config.Timestamps.
	emitTimestamps bool
}

// Bind attaches the calling goroutine to its current buffer, allocating
// one from the manager on first use (or after a revocation observed while
// no reference was held).
//
// The returned Ref is a value so it stays on the caller's stack.
func Bind() Ref {
	ctx := thread.Current()
	slot := ctx.Slot()

	cur := slot.Load()
	if cur == nil {
		// The previous buffer (if any) was revoked while no reference
		// was held, so no slow path will close it; do it here before a
		// worker spins on it.
		if last := ctx.Last; last != nil && !last.Closed() {
			last.Close()
		}
		cur = mgr.Allocate(slot, ctx.ID)
	}
	ctx.Last = cur

	return Ref{
		Ref:            cur.NewRef(),
		slot:           slot,
		ctx:            ctx,
		mgr:            mgr,
		numEvents:      cur.NumEvents,
		batch:          cur.BatchSize,
		emitTimestamps: timestamps,
	}
}

// Unbind flushes the reference's local count back into the buffer. Must
// be called when the reference goes out of scope; the buffer stays open
// for the goroutine's next Bind.
func (r *Ref) Unbind() {
	r.Flush()
	r.ctx.Last = r.Buf
}

// Exit retires the calling goroutine's logging state for good: the
// reference is flushed, its buffer closed and reclaimed by the manager
// (unblocking any worker already waiting on it), and the goroutine's
// context dropped. The reference must not be used afterwards.
func (r *Ref) Exit() {
	r.Flush()
	r.mgr.ThreadExit(r.slot, r.Buf)
	thread.Drop()
}

// Read1 logs a 1-byte read of addr. pc identifies the instrumentation
// site (truncated to 20 bits); val carries the loaded value (low byte).
//
//go:nosplit
func (r *Ref) Read1(pc uint64, addr uintptr, val uint64) {
	r.append(event.EncodeMemAccess(event.Read1, pc, uint64(addr), val))
}

// Read2 logs a 2-byte read of addr.
//
//go:nosplit
func (r *Ref) Read2(pc uint64, addr uintptr, val uint64) {
	r.append(event.EncodeMemAccess(event.Read2, pc, uint64(addr), val))
}

// Read4 logs a 4-byte read of addr.
//
//go:nosplit
func (r *Ref) Read4(pc uint64, addr uintptr, val uint64) {
	r.append(event.EncodeMemAccess(event.Read4, pc, uint64(addr), val))
}

// Read8 logs an 8-byte read of addr.
//
//go:nosplit
func (r *Ref) Read8(pc uint64, addr uintptr, val uint64) {
	r.append(event.EncodeMemAccess(event.Read8, pc, uint64(addr), val))
}

// Write1 logs a 1-byte write to addr. pc identifies the instrumentation
// site (truncated to 20 bits); val carries the stored value (low byte).
//
//go:nosplit
func (r *Ref) Write1(pc uint64, addr uintptr, val uint64) {
	r.append(event.EncodeMemAccess(event.Write1, pc, uint64(addr), val))
}

// Write2 logs a 2-byte write to addr.
//
//go:nosplit
func (r *Ref) Write2(pc uint64, addr uintptr, val uint64) {
	r.append(event.EncodeMemAccess(event.Write2, pc, uint64(addr), val))
}

// Write4 logs a 4-byte write to addr.
//
//go:nosplit
func (r *Ref) Write4(pc uint64, addr uintptr, val uint64) {
	r.append(event.EncodeMemAccess(event.Write4, pc, uint64(addr), val))
}

// Write8 logs an 8-byte write to addr.
//
//go:nosplit
func (r *Ref) Write8(pc uint64, addr uintptr, val uint64) {
	r.append(event.EncodeMemAccess(event.Write8, pc, uint64(addr), val))
}

// Timestamp logs an explicit timestamp event carrying the low bits of the
// tick counter.
func (r *Ref) Timestamp() {
	r.append(event.EncodeTimestamp(cycles.Now()))
}

// append is the CRITICAL HOT PATH: every instrumented memory access in
// the program funnels through here.
//
//  1. Snapshot the live slot pointer. The load is atomic so the compiler
//     cannot hoist it out of the caller's loop; this is the only way a
//     revocation is ever observed.
//  2. Store the encoded word and bump the local count.
//  3. One combined branch covers both infrequent conditions (the batch
//     boundary and a revoked slot) and diverts to the out-of-line slow
//     path.
//
// The tail pad behind the buffer's capacity guarantees step 2 stays in
// bounds: between two slow-path entries there are at most batch appends.
//
//go:nosplit
func (r *Ref) append(w uint64) {
	cur := r.slot.Load()
	r.Storage[r.Count] = w
	r.Count++
	if r.Count >= r.NextCheck || cur == nil {
		r.slow(cur)
	}
}

// slow handles everything the fast path defers: revocation, buffer
// exhaustion, epoch advancement, and the periodic check refresh. Kept out
// of line so its register pressure never leaks into the append path.
//
//go:noinline
func (r *Ref) slow(cur *buffer.EventBuffer) {
	if cur == nil {
		// Our buffer was revoked (epoch ended elsewhere, or this is a
		// stale reference racing a revocation). The word just appended
		// stays in the old buffer and travels with it; rotate onto a
		// fresh buffer in the current epoch.
		r.Rebind(r.mgr.Allocate(r.slot, r.ctx.ID))
		return
	}

	if r.Count >= r.numEvents {
		// Buffer full: race to close the epoch. Win or lose, some
		// winner has revoked every live slot by the time this returns,
		// so rotating onto a fresh buffer re-enters the new epoch.
		r.mgr.TryAdvanceEpoch(r.Buf.Epoch)
		r.Rebind(r.mgr.Allocate(r.slot, r.ctx.ID))
		return
	}

	// Common case: just a batch boundary. Push the trigger one batch out.
	r.NextCheck += r.batch
	if r.emitTimestamps {
		r.Storage[r.Count] = event.EncodeTimestamp(cycles.Now())
		r.Count++
	}
}
