// Package nebulaid - loader.go fetches segment ranges from the durable store
// with dynamic step sizing.
//
// # Dynamic Step
//
// The step for the next segment adapts to observed load:
//
//	next = base * (1 + velocityFactor*velocity) * (1 + pressureFactor*pressure)
//
// where velocity is QPS divided by the current step (how many segments per
// second the stream burns) and pressure is CPU utilization in [0, 1]. The
// result is clamped to [base/2, base*100]. Busy streams fetch wider ranges
// and touch the store less; idle streams shrink back and waste fewer IDs on
// restart.

package nebulaid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/cpu"
)

// cpuSampleInterval is how often the background CPU sampler refreshes.
const cpuSampleInterval = 5 * time.Second

// defaultCPUUsage is assumed before the first sample lands.
const defaultCPUUsage = 0.1

// CPUMonitor samples system CPU utilization in the background and exposes the
// latest reading without blocking.
type CPUMonitor struct {
	bits atomic.Uint64
	stop chan struct{}
	once sync.Once
}

// NewCPUMonitor starts the background sampler.
func NewCPUMonitor() *CPUMonitor {
	m := &CPUMonitor{stop: make(chan struct{})}
	m.bits.Store(math.Float64bits(defaultCPUUsage))
	go m.run()
	return m
}

// Usage returns the last sampled system CPU utilization in [0, 1].
func (m *CPUMonitor) Usage() float64 {
	return math.Float64frombits(m.bits.Load())
}

// Stop terminates the background sampler.
func (m *CPUMonitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *CPUMonitor) run() {
	for {
		select {
		case <-m.stop:
			return
		default:
		}
		// cpu.Percent blocks for the interval, doubling as the sample pacing.
		vals, err := cpu.Percent(cpuSampleInterval, false)
		if err != nil || len(vals) == 0 {
			continue
		}
		usage := vals[0] / 100
		if usage < 0 {
			usage = 0
		}
		if usage > 1 {
			usage = 1
		}
		m.bits.Store(math.Float64bits(usage))
	}
}

// StepCalculator computes the next segment step from load signals.
type StepCalculator struct {
	// VelocityFactor weights consumption velocity (QPS / current step).
	VelocityFactor float64

	// PressureFactor weights CPU pressure in [0, 1].
	PressureFactor float64
}

// Calculate returns the next step, clamped to [base/2, base*100] and to the
// configured min/max.
func (c StepCalculator) Calculate(qps uint64, currentStep uint64, pressure float64, cfg SegmentConfig) uint64 {
	base := float64(cfg.BaseStep)
	if currentStep == 0 {
		currentStep = cfg.BaseStep
	}
	velocity := float64(qps) / float64(currentStep)

	next := base * (1 + c.VelocityFactor*velocity) * (1 + c.PressureFactor*pressure)

	lo := math.Max(base/2, float64(cfg.MinStep))
	hi := math.Min(base*100, float64(cfg.MaxStep))
	next = math.Max(lo, math.Min(hi, next))
	return uint64(math.Round(next))
}

// AdjustmentDirection classifies a step change for observability: "up" when
// the next step grows past 1.2x the current one, "down" below 0.8x, "stable"
// in between.
func (c StepCalculator) AdjustmentDirection(next, current uint64) string {
	if current == 0 {
		return "up"
	}
	ratio := float64(next) / float64(current)
	switch {
	case ratio > 1.2:
		return "up"
	case ratio < 0.8:
		return "down"
	default:
		return "stable"
	}
}

// healthTargetRangeStore names the range store in the health monitor.
const healthTargetRangeStore = "range_store"

// SegmentLoader reserves fresh ID ranges against the durable store, retrying
// optimistic version conflicts with backoff.
type SegmentLoader struct {
	store   RangeStore
	cfg     SegmentConfig
	calc    StepCalculator
	cpu     *CPUMonitor
	monitor *HealthMonitor // optional

	healthy    atomic.Bool
	lastReason atomic.Pointer[string]
}

// NewSegmentLoader creates a loader over the given store. monitor may be nil.
func NewSegmentLoader(store RangeStore, cfg SegmentConfig, monitor *HealthMonitor) *SegmentLoader {
	cfg.applyDefaults()
	l := &SegmentLoader{
		store: store,
		cfg:   cfg,
		calc: StepCalculator{
			VelocityFactor: cfg.VelocityFactor,
			PressureFactor: cfg.PressureFactor,
		},
		cpu:     NewCPUMonitor(),
		monitor: monitor,
	}
	l.healthy.Store(true)
	return l
}

// Load reserves the next range for the stream and returns it as a consumable
// segment. qps is the stream's recent request rate, used for step sizing.
//
// The range comes from the stream's own datacenter block when that block's
// store is reachable. When it keeps failing, Load records the outcome per
// datacenter and reroutes to a healthy block from FailoverDatacenters; blocks
// are disjoint, so IDs stay unique across the detour.
func (l *SegmentLoader) Load(ctx context.Context, gctx *GenerateContext, qps uint64) (*AtomicSegment, error) {
	dcID := gctx.DatacenterID
	if l.monitor != nil {
		if dc, ok := l.monitor.SelectBestDC(dcID, l.cfg.FailoverDatacenters); ok && dc != dcID {
			// Rerouted. The home block still gets one paced probe per recovery
			// timeout so it can earn its way back into rotation.
			if !l.monitor.AllowProbe(dcTarget(dcID)) {
				dcID = dc
			}
		}
	}

	seg, err := l.loadFrom(ctx, gctx, dcID, qps)
	if err == nil {
		if l.monitor != nil {
			l.monitor.RecordDCSuccess(dcID)
		}
		return seg, nil
	}
	// Conflicts and cancellations are not datacenter outages.
	if l.monitor == nil || errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrContextCanceled) {
		return nil, err
	}
	l.monitor.RecordDCFailure(dcID)

	alt, ok := l.monitor.SelectBestDC(dcID, l.cfg.FailoverDatacenters)
	if !ok || alt == dcID {
		return nil, err
	}
	seg, altErr := l.loadFrom(ctx, gctx, alt, qps)
	if altErr != nil {
		l.monitor.RecordDCFailure(alt)
		return nil, err
	}
	l.monitor.RecordDCSuccess(alt)
	return seg, nil
}

// loadFrom reserves a range from one datacenter's block, retrying optimistic
// version conflicts with linear backoff.
func (l *SegmentLoader) loadFrom(ctx context.Context, gctx *GenerateContext, dcID int64, qps uint64) (*AtomicSegment, error) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := l.cfg.RetryBackoff * time.Duration(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ErrContextCanceled
			}
		}

		rng, err := l.store.LoadRange(ctx, gctx.Workspace, gctx.BizTag, dcID)
		if err != nil {
			lastErr = err
			l.recordFailure(err)
			continue
		}

		step := l.calc.Calculate(qps, rng.Step, l.cpu.Usage(), l.cfg)
		reserved := rng
		reserved.Current = rng.Current + step
		reserved.Step = step

		if err := l.store.SaveRange(ctx, reserved, rng.Version); err != nil {
			lastErr = err
			if errors.Is(err, ErrVersionConflict) {
				// Another node won the range; reload and try the next one.
				continue
			}
			l.recordFailure(err)
			continue
		}

		l.recordSuccess()
		return NewAtomicSegment(rng.Current, reserved.Current, int64(rng.Version)+1), nil
	}

	if lastErr == nil {
		lastErr = ErrRangeStoreUnavailable
	}
	if errors.Is(lastErr, ErrVersionConflict) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ErrRangeStoreUnavailable, lastErr)
}

// Health reports the store's reachability as observed by recent loads.
func (l *SegmentLoader) Health() HealthStatus {
	if l.healthy.Load() {
		return HealthyStatus()
	}
	reason := "range store unreachable"
	if p := l.lastReason.Load(); p != nil {
		reason = *p
	}
	return UnhealthyStatus(reason)
}

// Stop terminates the loader's CPU sampler.
func (l *SegmentLoader) Stop() {
	l.cpu.Stop()
}

func (l *SegmentLoader) recordSuccess() {
	l.healthy.Store(true)
	if l.monitor != nil {
		l.monitor.RecordSuccess(healthTargetRangeStore)
	}
}

func (l *SegmentLoader) recordFailure(err error) {
	l.healthy.Store(false)
	reason := err.Error()
	l.lastReason.Store(&reason)
	if l.monitor != nil {
		l.monitor.RecordFailure(healthTargetRangeStore)
	}
}
