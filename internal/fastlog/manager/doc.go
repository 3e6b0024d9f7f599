// Package manager implements the buffer manager of the fastlog runtime:
// the coordinator that allocates, revokes and recycles event buffers, and
// that drives epoch advancement.
//
// All manager operations are serialized under a single monitor mutex; the
// logging fast path never enters it. Producers only reach the manager from
// their slow paths, so contention is bounded by the number of threads
// concurrently crossing a batch boundary, not by event rate.
//
// # Epoch protocol
//
// An epoch ends when some producer's buffer reaches capacity and that
// producer wins TryAdvanceEpoch. The winner revokes every live buffer by
// storing nil into each registered live-slot cell, hands the epoch's
// buffers to a worker goroutine (or drops them to the free pool when the
// worker cap is saturated), and increments the epoch. Losers discover the
// revocation through their own slot cells and simply re-enter via Allocate.
//
// A revoked producer may still be mid-append: the nil store does not
// synchronize with the producer's in-flight write. Workers therefore wait
// for each buffer's closed flag, which the producer sets on its next
// slow-path entry, before touching any event words.
package manager
