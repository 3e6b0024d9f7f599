//go:build !linux

package cycles

import "time"

var base = time.Now()

// now falls back to the runtime's monotonic clock, in nanoseconds since
// process start.
func now() uint64 {
	return uint64(time.Since(base))
}
