// Package nebulaid - clock.go abstracts the millisecond clock so tests can
// simulate wall-clock regression.

package nebulaid

import "time"

// Clock reads the current wall-clock time in milliseconds since the Unix
// epoch. Implementations must be safe for concurrent use.
type Clock interface {
	NowMillis() int64
}

// ClockFunc adapts an ordinary function to the Clock interface.
type ClockFunc func() int64

// NowMillis implements Clock.
func (f ClockFunc) NowMillis() int64 { return f() }

// SystemClock returns the real wall clock.
func SystemClock() Clock {
	return ClockFunc(func() int64 { return time.Now().UnixMilli() })
}
