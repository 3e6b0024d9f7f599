// Command fastlog-dump sanity-checks a fastlog trace file and prints
// per-thread and per-kind statistics.
//
// Usage:
//
//	fastlog-dump [-events] <trace-file>
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"golang.org/x/exp/mmap"

	"github.com/kolkov/fastlog/trace"
)

var eventsFlag = flag.Bool("events", false, "print every event")

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "Prints statistics for a fastlog trace file.\n")
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <trace-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func handleError(err error, usage bool) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if usage {
		flag.Usage()
	}
	os.Exit(1)
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		handleError(errors.New("incorrect number of arguments"), true)
	}

	r, err := mmap.Open(flag.Arg(0))
	if err != nil {
		handleError(fmt.Errorf("opening trace: %v", err), false)
	}
	defer r.Close()

	p, err := trace.NewParser(r)
	if err != nil {
		handleError(fmt.Errorf("indexing trace: %v", err), false)
	}
	fmt.Printf("%d buffer(s)\n", p.NumBuffers())

	bufs, err := p.Parse()
	if err != nil {
		handleError(fmt.Errorf("parsing trace: %v", err), false)
	}

	perKind := make(map[trace.Kind]int)
	total := 0
	for _, b := range bufs {
		fmt.Printf("thread %3d epoch %3d: %d event(s)\n", b.ThreadID, b.Epoch, len(b.Events))
		total += len(b.Events)
		for _, ev := range b.Events {
			perKind[ev.Kind]++
			if *eventsFlag {
				fmt.Printf("  %-9s pc=%#07x addr=%#010x val=%#02x\n", ev.Kind, ev.PC, ev.Addr, ev.Value)
			}
		}
	}

	kinds := make([]trace.Kind, 0, len(perKind))
	for k := range perKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	fmt.Printf("%d event(s) total\n", total)
	for _, k := range kinds {
		fmt.Printf("  %-9s %d\n", k, perKind[k])
	}
}
