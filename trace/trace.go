// Package trace reads event trace files produced by the fastlog runtime's
// file sink.
//
// A trace file is a sequence of buffer records, each carrying the
// producing thread's ID, the epoch, and the buffer's raw 64-bit event
// words. Records preserve per-thread order: for one thread, the events of
// its epoch-K buffer precede those of its epoch-K+1 buffer, and events
// within a buffer appear in emission order. Records of different threads
// are only ordered at epoch granularity; the reader makes no attempt to
// refine that.
//
// The Source interface is satisfied by *mmap.ReaderAt
// (golang.org/x/exp/mmap) for large traces and by *bytes.Reader in tests.
package trace

import (
	"io"

	"github.com/kolkov/fastlog/internal/fastlog/event"
)

// Source is a random-access trace source.
type Source interface {
	io.ReaderAt

	// Len returns the size of the trace in bytes.
	Len() int
}

// Kind is the 4-bit event tag; see the shim that produced the event.
type Kind = event.Kind

// Re-exported event tags.
const (
	KindTimestamp = event.Timestamp
	KindRead1     = event.Read1
	KindRead2     = event.Read2
	KindRead4     = event.Read4
	KindRead8     = event.Read8
	KindWrite1    = event.Write1
	KindWrite2    = event.Write2
	KindWrite4    = event.Write4
	KindWrite8    = event.Write8
)

// Event is one decoded event word.
type Event struct {
	// Kind is the event tag.
	Kind Kind

	// PC is the 20-bit truncated instrumentation-site ID. Site IDs are
	// stable per site but collide; consumers needing exact sites must
	// disambiguate with per-process metadata.
	PC uint64

	// Addr holds the low 32 bits of the accessed address, or of the
	// tick counter for timestamp events.
	Addr uint64

	// Value is the low byte of the stored/loaded value.
	Value uint8
}

// Buffer is one delivered event buffer: a thread's events for one epoch.
type Buffer struct {
	// ThreadID is the producing thread.
	ThreadID int32

	// Epoch is the epoch the buffer was filled in.
	Epoch int32

	// Events are the buffer's decoded events, in emission order.
	Events []Event
}

// PerThread regroups parsed buffers into one epoch-ordered event sequence
// per thread, the order guaranteed by the runtime.
func PerThread(bufs []Buffer) map[int32][]Event {
	out := make(map[int32][]Event)
	for _, b := range bufs {
		out[b.ThreadID] = append(out[b.ThreadID], b.Events...)
	}
	return out
}
