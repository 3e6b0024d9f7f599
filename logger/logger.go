package logger

import (
	"runtime"

	"github.com/kolkov/fastlog/internal/fastlog/manager"
	"github.com/kolkov/fastlog/internal/fastlog/thread"
)

// Sink is the worker contract: Consume is invoked on a worker goroutine
// with each closed buffer's thread ID, epoch, and valid event words. The
// slice is only valid for the duration of the call.
type Sink = manager.Sink

// Config carries the runtime's process-wide knobs, fixed at Init time.
type Config struct {
	// NumEvents is the buffer capacity N in events. Zero selects the
	// default (1M events, an 8 MB buffer).
	NumEvents int

	// BatchSize is the reload period B: fast-path appends between two
	// slow-path entries. Zero selects the default (64).
	BatchSize int

	// MaxWorkers caps concurrent worker goroutines. Zero selects
	// runtime.NumCPU(); negative disables workers entirely, so every
	// steady-state epoch is dropped (the final flush still delivers).
	MaxWorkers int

	// Timestamps, when set, appends one TIMESTAMP event per batch from
	// the slow path, giving consumers a coarse intra-buffer time base.
	Timestamps bool

	// Sink consumes delivered buffers. Nil discards them.
	Sink Sink
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MaxWorkers: runtime.NumCPU()}
}

// Runtime state, installed by Init. The manager pointer is effectively
// constant between Init and Fini; references capture it at Bind.
var (
	mgr        *manager.Manager
	timestamps bool
)

// Init installs the process-wide logging runtime.
//
// Must be called before any Bind, and must not race with logging
// goroutines; call it at program startup. Re-initializing replaces the
// previous runtime without flushing it (use Fini first to keep its
// events).
func Init(cfg Config) {
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	} else if cfg.MaxWorkers < 0 {
		cfg.MaxWorkers = 0
	}

	thread.Reset()
	timestamps = cfg.Timestamps
	mgr = manager.New(manager.Config{
		NumEvents:  cfg.NumEvents,
		BatchSize:  cfg.BatchSize,
		MaxWorkers: cfg.MaxWorkers,
		Sink:       cfg.Sink,
	})
}

// Fini quiesces the runtime: every live buffer is closed and delivered
// (the final epoch ignores the worker cap and is never dropped), and the
// call blocks until all workers have released their buffers.
//
// Producers must have stopped logging and dropped their references
// (Unbind or Exit) before Fini is called.
func Fini() {
	if mgr == nil {
		return
	}
	mgr.Flush()
}

// ThreadExit retires the calling goroutine's logging state when it holds
// no live reference. Goroutines that hold a Ref call Ref.Exit instead.
// A goroutine that never logged exits as a no-op.
func ThreadExit() {
	ctx, ok := thread.Lookup()
	if !ok {
		return
	}
	cur := ctx.Slot().Load()
	if cur == nil {
		// Revoked while no reference was held: the buffer handed to the
		// worker still needs its close.
		if last := ctx.Last; last != nil && !last.Closed() {
			cur = last
		}
	}
	mgr.ThreadExit(ctx.Slot(), cur)
	thread.Drop()
}

// Epoch returns the manager's current epoch.
func Epoch() int32 {
	return mgr.Epoch()
}

// DroppedEpochs returns the number of epochs recycled unprocessed under
// worker saturation.
func DroppedEpochs() int64 {
	return mgr.DroppedEpochs()
}
