package thread

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kolkov/fastlog/internal/fastlog/buffer"
)

// Context is the per-goroutine logging state.
type Context struct {
	// ID is the dense thread identifier stamped into every buffer this
	// goroutine fills. Assigned once, never reused within a run.
	ID int32

	// slot is the live buffer slot. The producer loads it on every append
	// (the load must never be hoisted, hence atomic); the manager stores
	// into it during allocation and revocation.
	slot atomic.Pointer[buffer.EventBuffer]

	// Last is the buffer the goroutine's most recently dropped reference
	// pointed at. If the slot is revoked while no reference is held, no
	// slow path will ever run to close that buffer; the next bind (or
	// the thread exit hook) closes Last instead, unblocking the worker
	// waiting on it. Owned by the goroutine itself.
	Last *buffer.EventBuffer
}

// Slot returns the address of the live buffer slot cell. The address is
// stable for the context's lifetime; the manager retains it to revoke the
// buffer at epoch end.
func (c *Context) Slot() *atomic.Pointer[buffer.EventBuffer] {
	return &c.slot
}

// Registry state.
var (
	// contexts maps goroutine IDs to their Contexts. sync.Map because the
	// access pattern is read-mostly: one store per goroutine lifetime,
	// one load per reference bind.
	contexts sync.Map

	// nextID generates dense thread IDs with a relaxed fetch-add. This is
	// one of only two global atomic counters in the runtime; a per-event
	// counter would put a contended cache line on the hot path.
	nextID atomic.Int32
)

// Current returns the calling goroutine's Context, creating and
// registering it on first use.
//
// The lookup costs one goroutine-ID extraction plus one sync.Map load;
// callers bind a buffer reference once per instrumented function, not per
// event, so this is off the hot path.
func Current() *Context {
	gid := goid()
	if v, ok := contexts.Load(gid); ok {
		return v.(*Context)
	}

	ctx := &Context{ID: nextID.Add(1) - 1}
	if v, loaded := contexts.LoadOrStore(gid, ctx); loaded {
		// Lost a (theoretical) race registering this goroutine; the
		// allocated ID is burned, which is harmless.
		return v.(*Context)
	}
	return ctx
}

// Lookup returns the calling goroutine's Context without creating one.
func Lookup() (*Context, bool) {
	if v, ok := contexts.Load(goid()); ok {
		return v.(*Context), true
	}
	return nil, false
}

// Drop removes the calling goroutine's Context from the registry. Called
// on thread exit, after the manager has reclaimed the context's buffer.
func Drop() {
	contexts.Delete(goid())
}

// Count returns the number of thread IDs handed out so far.
func Count() int32 {
	return nextID.Load()
}

// Reset clears the registry and the ID counter.
//
// Thread Safety: NOT safe for concurrent use. Test setup/teardown only;
// the caller must ensure no goroutine is logging.
func Reset() {
	contexts = sync.Map{}
	nextID.Store(0)
}

// goid extracts the current goroutine's ID by parsing the header line of
// runtime.Stack output ("goroutine N [running]:").
//
// This is the portable path (~µs). It runs once per reference bind, not
// per event, so the cost is amortized over a whole instrumented function;
// an assembly g-pointer read could replace it without touching any caller.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	const prefix = "goroutine "
	s := buf[len(prefix):n]

	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	id, err := strconv.ParseInt(string(s[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
