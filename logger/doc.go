// Package logger is the public API of the fastlog runtime: a hot-path
// event logger that records one 64-bit word per instrumented memory
// access and delivers every thread's events to a worker in per-thread
// order.
//
// # Quick start
//
// Instrumented code binds a buffer reference once per function and logs
// through it:
//
//	func main() {
//		logger.Init(logger.DefaultConfig())
//		defer logger.Fini()
//
//		ref := logger.Bind()
//		defer ref.Unbind()
//
//		var x int64
//		addr := uintptr(unsafe.Pointer(&x))
//		ref.Write8(pc, addr, 42) // before: x = 42
//		x = 42
//	}
//
// The Write and Read shims are the entry points an instrumentation pass
// emits before every memory access, one per (direction, size) pair. They
// are infallible and compile to a handful of instructions each: encode,
// store, increment, one combined branch.
//
// # How it works
//
// Each thread appends into a large private buffer through a
// register-resident reference. On every append the reference re-reads
// the thread's live buffer slot, an atomic pointer cell the buffer
// manager nulls when it reclaims buffers at an epoch boundary. A nulled
// slot, a batch boundary (every BatchSize appends) or a full buffer
// diverts the append into the out-of-line slow path, which rotates the reference onto a fresh buffer
// and, when warranted, advances the global epoch. Closed buffers travel
// to worker goroutines, which hand them to the configured Sink.
//
// Cross-thread ordering is absent: events from different
// threads are only ordered at epoch granularity. There is no global
// sequence number on the hot path.
//
// # Lifecycle
//
// Init installs the process-wide runtime; Fini quiesces it, delivering
// all still-open buffers (the final epoch is never dropped) and waiting
// for outstanding workers. Goroutines that hold a Ref at exit must call
// Ref.Exit so their buffer is closed and reclaimed; a goroutine that
// never logged needs nothing.
package logger
