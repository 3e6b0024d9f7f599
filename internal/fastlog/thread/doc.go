// Package thread implements per-thread state for the fastlog runtime.
//
// Each application goroutine that touches the logging runtime gets a
// Context holding:
//   - a dense, immutable thread ID from a process-wide counter;
//   - the live buffer slot: the single atomic pointer cell the producer
//     re-reads on every reload and the buffer manager nulls at revocation.
//
// The slot cell is the only lock-free cross-thread memory location on the
// hot path. Its address is stable for the context's lifetime, which is what
// lets the manager revoke a buffer by address without knowing which
// goroutine owns it. (Go has no addressable thread-local storage; the
// context object plays that role, per the design of the original runtime.)
//
// Contexts are created lazily on first use and cached in a process-wide
// registry keyed by goroutine ID. The registry is consulted once per
// reference bind, never per event.
package thread
