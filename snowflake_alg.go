// Package nebulaid - snowflake_alg.go implements the bit-packed Snowflake
// algorithm with a three-tier clock-backward policy.
//
// # Clock-Backward Policy
//
// drift = last_timestamp - now, evaluated on every generation:
//
//   - drift <= SmallDriftMax (default 5ms): the request parks on the clock
//     catcher until the wall clock catches up, then retries. The caller's
//     goroutine suspends on a channel and stays cancellable; nothing spins.
//   - drift <= LargeDriftMax (default 1s): the generator switches to a
//     monotonic logical clock in place of wall-clock time. The wall clock
//     resumes driving the timestamp field once it overtakes the logical one.
//   - beyond LargeDriftMax: generation fails with a ClockError so the
//     DegradationManager can fail over to the next algorithm tier.
//
// Sequence exhaustion within one millisecond either waits for the next tick
// (default) or fails with ErrSequenceOverflow, per configuration. It never
// silently wraps and reuses a sequence value.

package nebulaid

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// SnowflakeAlgorithm generates 64-bit time-ordered IDs. Safe for concurrent
// use; the mutex is held only for the nanoseconds-scale compose step, and the
// clock catch-up wait releases it.
type SnowflakeAlgorithm struct {
	cfg      SnowflakeConfig
	layout   Layout
	dcID     int64
	workerID int64
	epoch    int64
	clock    Clock
	catcher  *clockCatcher

	// Pre-calculated layout constants.
	maxSequence  int64
	smallDriftMs int64
	largeDriftMs int64

	mu            sync.Mutex
	lastTimestamp int64 // timestamp of the last issued ID (wall or logical)
	sequence      int64
	usingLogical  bool // logical clock currently drives the timestamp field

	metrics          *metricsRecorder
	clockBackward    atomic.Int64 // regressions observed (including recovered)
	clockBackwardErr atomic.Int64 // regressions beyond tolerance
	sequenceOverflow atomic.Int64
	currentDriftMs   atomic.Int64 // outstanding drift, 0 once recovered
}

// NewSnowflakeAlgorithm creates a Snowflake generator for one
// (datacenter, worker) partition.
func NewSnowflakeAlgorithm(cfg SnowflakeConfig, dcID, workerID int64) (*SnowflakeAlgorithm, error) {
	cfg.applyDefaults()
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if dcID < 0 || dcID > cfg.Layout.MaxDatacenterID() {
		return nil, newConfigError("DatacenterID", fmt.Sprintf("%d", dcID),
			"out of valid range for layout",
			fmt.Sprintf("0 to %d (%d bits)", cfg.Layout.MaxDatacenterID(), cfg.Layout.DatacenterBits))
	}
	if workerID < 0 || workerID > cfg.Layout.MaxWorkerID() {
		return nil, newConfigError("WorkerID", fmt.Sprintf("%d", workerID),
			"out of valid range for layout",
			fmt.Sprintf("0 to %d (%d bits)", cfg.Layout.MaxWorkerID(), cfg.Layout.WorkerBits))
	}
	if cfg.Epoch <= 0 {
		return nil, newConfigError("Epoch", fmt.Sprintf("%d", cfg.Epoch),
			"must be positive", "epoch timestamp in milliseconds > 0")
	}

	return &SnowflakeAlgorithm{
		cfg:          cfg,
		layout:       cfg.Layout,
		dcID:         dcID,
		workerID:     workerID,
		epoch:        cfg.Epoch,
		clock:        cfg.Clock,
		catcher:      newClockCatcher(cfg.Clock),
		maxSequence:  cfg.Layout.MaxSequence(),
		smallDriftMs: cfg.SmallDriftMax.Milliseconds(),
		largeDriftMs: cfg.LargeDriftMax.Milliseconds(),
		metrics:      newMetricsRecorder(),
	}, nil
}

// Generate issues one Snowflake ID.
func (g *SnowflakeAlgorithm) Generate(ctx context.Context, gctx *GenerateContext) (Id, error) {
	start := time.Now()

	g.mu.Lock()
	v, err := g.nextLocked(ctx)
	g.mu.Unlock()

	if err != nil {
		g.metrics.recordFailure()
		return Id{}, err
	}
	g.metrics.recordSuccess(time.Since(start))
	return gctx.Render(NumericId(uint64(v))), nil
}

// BatchGenerate issues size IDs under a single lock acquisition. IDs within
// the batch are strictly increasing.
func (g *SnowflakeAlgorithm) BatchGenerate(ctx context.Context, gctx *GenerateContext, size int) ([]Id, error) {
	if size <= 0 {
		return []Id{}, nil
	}
	start := time.Now()
	ids := make([]Id, 0, size)

	g.mu.Lock()
	for i := 0; i < size; i++ {
		v, err := g.nextLocked(ctx)
		if err != nil {
			g.mu.Unlock()
			g.metrics.recordFailure()
			return ids, err
		}
		ids = append(ids, gctx.Render(NumericId(uint64(v))))
	}
	g.mu.Unlock()

	g.metrics.recordSuccess(time.Since(start))
	return ids, nil
}

// nextLocked composes the next ID. The caller must hold g.mu; the small-drift
// park and the next-tick wait release it while suspended.
func (g *SnowflakeAlgorithm) nextLocked(ctx context.Context) (int64, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ErrContextCanceled
		default:
		}

		now := g.clock.NowMillis()
		ts := now

		switch {
		case g.usingLogical:
			if now > g.lastTimestamp {
				// Wall clock overtook the logical one: resume.
				g.usingLogical = false
				g.currentDriftMs.Store(0)
			} else {
				ts = g.lastTimestamp
			}

		case now < g.lastTimestamp:
			drift := g.lastTimestamp - now
			g.clockBackward.Add(1)
			g.currentDriftMs.Store(drift)

			if drift > g.largeDriftMs {
				g.clockBackwardErr.Add(1)
				return 0, newClockError(now, g.lastTimestamp, g.largeDriftMs, g.dcID, g.workerID)
			}
			if drift > g.smallDriftMs {
				// Medium drift: substitute the logical clock.
				g.usingLogical = true
				ts = g.lastTimestamp
				break
			}

			// Small drift: park until the clock catches up, then retry.
			target := g.lastTimestamp
			g.mu.Unlock()
			select {
			case <-g.catcher.waitUntil(target):
				g.mu.Lock()
				continue
			case <-ctx.Done():
				g.mu.Lock()
				return 0, ErrContextCanceled
			}

		default:
			g.currentDriftMs.Store(0)
		}

		if ts == g.lastTimestamp {
			g.sequence = (g.sequence + 1) & g.maxSequence
			if g.sequence == 0 {
				g.sequenceOverflow.Add(1)
				if g.usingLogical {
					// The wall clock is behind anyway; tick the logical
					// clock instead of waiting for it.
					ts = g.lastTimestamp + 1
				} else if g.cfg.FailOnSequenceOverflow {
					return 0, fmt.Errorf("%w: timestamp=%d dc=%d worker=%d",
						ErrSequenceOverflow, ts, g.dcID, g.workerID)
				} else {
					next, err := g.waitNextTick(ctx)
					if err != nil {
						return 0, err
					}
					ts = next
				}
			}
		} else {
			g.sequence = 0
		}

		g.lastTimestamp = ts
		return g.layout.Compose(ts-g.epoch, g.dcID, g.workerID, g.sequence), nil
	}
}

// waitNextTick blocks until the clock passes lastTimestamp. Most of the wait
// is a short sleep with the mutex released; the final stretch busy-waits with
// scheduler yields for sub-millisecond precision.
func (g *SnowflakeAlgorithm) waitNextTick(ctx context.Context) (int64, error) {
	for {
		now := g.clock.NowMillis()
		if now > g.lastTimestamp {
			return now, nil
		}

		select {
		case <-ctx.Done():
			return 0, ErrContextCanceled
		default:
		}

		if g.lastTimestamp-now >= 1 {
			g.mu.Unlock()
			time.Sleep(200 * time.Microsecond)
			g.mu.Lock()
		} else {
			runtime.Gosched()
		}
	}
}

// HealthCheck reports unhealthy while an unrecovered severe drift is
// outstanding and degraded while the logical clock substitutes for the wall
// clock.
func (g *SnowflakeAlgorithm) HealthCheck() HealthStatus {
	drift := g.currentDriftMs.Load()
	if drift > g.largeDriftMs {
		return UnhealthyStatus(fmt.Sprintf("clock drift %dms exceeds threshold %dms", drift, g.largeDriftMs))
	}
	if drift > g.smallDriftMs {
		return DegradedStatus(fmt.Sprintf("running on logical clock, drift %dms", drift))
	}
	return HealthyStatus()
}

// Metrics returns a snapshot of the generator's counters.
func (g *SnowflakeAlgorithm) Metrics() MetricsSnapshot {
	return g.metrics.snapshot()
}

// Type implements IdAlgorithm.
func (g *SnowflakeAlgorithm) Type() AlgorithmType {
	return AlgorithmSnowflake
}

// Initialize implements IdAlgorithm. The generator is fully constructed by
// NewSnowflakeAlgorithm; nothing further is required.
func (g *SnowflakeAlgorithm) Initialize(cfg *Config) error {
	return nil
}

// Shutdown stops the clock catcher.
func (g *SnowflakeAlgorithm) Shutdown(ctx context.Context) error {
	g.catcher.close()
	return nil
}

// ClockBackwardEvents returns the number of regressions observed, including
// recovered ones.
func (g *SnowflakeAlgorithm) ClockBackwardEvents() int64 {
	return g.clockBackward.Load()
}

// SequenceOverflowEvents returns the number of times the per-millisecond
// sequence was exhausted.
func (g *SnowflakeAlgorithm) SequenceOverflowEvents() int64 {
	return g.sequenceOverflow.Load()
}
