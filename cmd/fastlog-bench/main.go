// Command fastlog-bench measures the per-event cost of the logging fast
// path with a manually instrumented store loop: every worker overwrites
// its slice of a shared array, logging one WRITE8 event per store.
//
// Usage:
//
//	fastlog-bench [-threads N] [-length N] [-iters N] [-out trace.flog]
//
// The reported figure is ticks per logged store, including the store
// itself; compare against a run of the same loop without instrumentation
// to isolate the logging overhead.
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/kolkov/fastlog/internal/fastlog/cycles"
	"github.com/kolkov/fastlog/internal/fastlog/sink"
	"github.com/kolkov/fastlog/logger"
)

var (
	threadsFlag = flag.Int("threads", 1, "number of producer threads")
	lengthFlag  = flag.Int("length", 1_000_000, "array elements per thread")
	itersFlag   = flag.Int("iters", 100, "times each thread overwrites its array")
	outFlag     = flag.String("out", "", "write a trace file (empty: count events only)")
	stampsFlag  = flag.Bool("timestamps", false, "emit TIMESTAMP events at batch boundaries")
)

func main() {
	flag.Parse()

	counts := sink.NewCounting()
	cfg := logger.DefaultConfig()
	cfg.Timestamps = *stampsFlag
	cfg.Sink = counts

	var fileSink *sink.File
	if *outFlag != "" {
		fs, err := sink.Create(*outFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fileSink = fs
		cfg.Sink = fs
	}

	logger.Init(cfg)

	threads, length, iters := *threadsFlag, *lengthFlag, *itersFlag
	array := make([]int64, threads*length)
	fmt.Printf("threads %d, length %d, iters %d\n", threads, length, iters)

	var wg sync.WaitGroup
	for tid := 0; tid < threads; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			workerMain(tid, array[tid*length:(tid+1)*length], iters)
		}(tid)
	}
	wg.Wait()
	logger.Fini()

	if fileSink != nil {
		if err := fileSink.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("trace written to %s\n", *outFlag)
	} else {
		fmt.Printf("workers consumed %d events in %d buffers (%d epochs dropped)\n",
			counts.Total(), counts.Buffers(), logger.DroppedEpochs())
	}
}

// workerMain repeats the instrumented overwrite loop and reports the
// per-store cost in ticks.
func workerMain(tid int, array []int64, iters int) {
	ref := logger.Bind()
	defer ref.Exit()

	start := cycles.Now()
	for it := 0; it < iters; it++ {
		run(&ref, array)
	}
	total := cycles.Now() - start

	stores := float64(len(array)) * float64(iters)
	fmt.Printf("thread %d, writeOps %.2fM, ticksPerWrite %.2f\n",
		tid, stores/1e6, float64(total)/stores)
}

// run is the instrumented loop body: one logged WRITE8 per store. Kept as
// its own function so the reference stays register-resident across the
// whole array pass.
//
//go:noinline
func run(ref *logger.Ref, array []int64) {
	for i := range array {
		addr := &array[i]
		ref.Write8(0x401000, uintptr(unsafe.Pointer(addr)), uint64(i))
		*addr = int64(i)
	}
}
