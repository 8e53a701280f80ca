package hardware

import (
	"time"

	"golang.org/x/sys/unix"
)

// Monotonic reads CLOCK_MONOTONIC. Input debounce windows must not stretch
// or shrink when NTP steps the wall clock.
func Monotonic() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// Not expected on Linux; fall back to the runtime's monotonic reading.
		return time.Since(startTime)
	}
	return time.Duration(ts.Nano())
}

var startTime = time.Now()
