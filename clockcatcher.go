// Package nebulaid - clockcatcher.go implements the non-blocking clock
// catch-up wait.
//
// When a small wall-clock regression is detected, the generating goroutine
// must not issue an ID until the clock overtakes the last issued timestamp.
// Instead of spinning inside the generator, the request registers a wait
// handle with a dedicated catcher goroutine that polls the clock and resolves
// all parked handles once their target time is reached. The caller suspends
// on its own channel and remains cancellable through its context.

package nebulaid

import "time"

// catcherPollInterval bounds how stale a resolved wait can be. Regressions
// handled this way are at most a few milliseconds, so a sub-millisecond poll
// keeps added latency negligible.
const catcherPollInterval = 200 * time.Microsecond

type clockWait struct {
	target int64 // wake once clock >= target, in milliseconds
	done   chan struct{}
}

// clockCatcher runs one background goroutine resolving parked clock waits.
type clockCatcher struct {
	clock Clock
	reg   chan clockWait
	stop  chan struct{}
}

func newClockCatcher(clock Clock) *clockCatcher {
	c := &clockCatcher{
		clock: clock,
		reg:   make(chan clockWait, 64),
		stop:  make(chan struct{}),
	}
	go c.run()
	return c
}

// waitUntil registers a wait handle that is closed once the clock reaches
// target. If the clock is already there, the handle is resolved immediately.
func (c *clockCatcher) waitUntil(target int64) <-chan struct{} {
	done := make(chan struct{})
	if c.clock.NowMillis() >= target {
		close(done)
		return done
	}
	select {
	case c.reg <- clockWait{target: target, done: done}:
	case <-c.stop:
		close(done)
	}
	return done
}

// close stops the catcher and resolves all pending waits so no caller hangs
// across shutdown.
func (c *clockCatcher) close() {
	close(c.stop)
}

func (c *clockCatcher) run() {
	ticker := time.NewTicker(catcherPollInterval)
	defer ticker.Stop()

	var pending []clockWait
	for {
		select {
		case w := <-c.reg:
			if c.clock.NowMillis() >= w.target {
				close(w.done)
				continue
			}
			pending = append(pending, w)
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			now := c.clock.NowMillis()
			kept := pending[:0]
			for _, w := range pending {
				if now >= w.target {
					close(w.done)
				} else {
					kept = append(kept, w)
				}
			}
			pending = kept
		case <-c.stop:
			for _, w := range pending {
				close(w.done)
			}
			return
		}
	}
}
