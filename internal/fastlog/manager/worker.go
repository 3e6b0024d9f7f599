package manager

import (
	"runtime"

	"github.com/kolkov/fastlog/internal/fastlog/buffer"
)

// Sink is the worker contract: the consumer interface the manager invokes
// with each closed buffer of a handed-off epoch.
//
// Consume receives the producing thread's ID, the epoch, and the valid
// event words. The slice aliases the buffer's storage and is only valid
// for the duration of the call; implementations that retain events must
// copy. Consume runs on a worker goroutine; implementations shared across
// workers must be internally synchronized.
type Sink interface {
	Consume(threadID, epoch int32, events []uint64)
}

// runWorker is the body of a worker goroutine: one per handed-off epoch.
//
// It first waits for every buffer's closed flag (the readiness fence: the
// producer may have been mid-append at revocation and only closes the
// buffer on its next slow-path entry), then feeds each buffer to the sink,
// then returns the set to the free pool.
func (m *Manager) runWorker(bufs []*buffer.EventBuffer) {
	waitClosed(bufs)

	if sink := m.cfg.Sink; sink != nil {
		for _, buf := range bufs {
			sink.Consume(buf.ThreadID, buf.Epoch, buf.Events())
		}
	}

	m.Release(bufs)
}

// reclaim drains a dropped epoch: wait until every producer has noticed
// the revocation and closed its buffer, then recycle the set without
// processing. Not counted against the worker cap.
func (m *Manager) reclaim(bufs []*buffer.EventBuffer) {
	waitClosed(bufs)

	m.mu.Lock()
	m.freeBufs = append(m.freeBufs, bufs...)
	m.reclaiming--
	m.idle.Broadcast()
	m.mu.Unlock()
}

// waitClosed spin-polls each buffer's closed flag. The wait is bounded by
// the producer's time to its next slow-path entry (at most one batch of
// appends); Gosched keeps the spin from starving producers on small
// GOMAXPROCS.
func waitClosed(bufs []*buffer.EventBuffer) {
	for _, buf := range bufs {
		for !buf.Closed() {
			runtime.Gosched()
		}
	}
}
