// Package nebulaid - metrics.go provides lock-free runtime metrics.
//
// Counters use atomic operations so the hot path never takes a lock for
// observability. Latency percentiles come from a small fixed-size reservoir
// guarded by a mutex that only the snapshot reader and the (already slow)
// recording of a completed request touch.

package nebulaid

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a consistent point-in-time view of an algorithm's
// counters, suitable for export to a monitoring system.
type MetricsSnapshot struct {
	TotalGenerated uint64  // IDs successfully issued
	TotalFailed    uint64  // generation failures
	CurrentQPS     uint64  // completed requests over the last full second
	P50LatencyUs   uint64  // median generation latency, microseconds
	P99LatencyUs   uint64  // tail generation latency, microseconds
	CacheHitRate   float64 // fraction of requests served without a miss
}

const latencyReservoirSize = 1024

// metricsRecorder collects per-algorithm counters. Safe for concurrent use.
type metricsRecorder struct {
	generated atomic.Uint64
	failed    atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64

	// QPS window: count within the current second, rolled into lastQPS when
	// the window closes.
	windowStartMs atomic.Int64
	windowCount   atomic.Uint64
	lastQPS       atomic.Uint64

	mu      sync.Mutex
	samples [latencyReservoirSize]uint32
	next    int
	filled  bool
}

func newMetricsRecorder() *metricsRecorder {
	m := &metricsRecorder{}
	m.windowStartMs.Store(time.Now().UnixMilli())
	return m
}

func (m *metricsRecorder) recordSuccess(latency time.Duration) {
	m.generated.Add(1)
	m.tick()
	m.observe(latency)
}

func (m *metricsRecorder) recordFailure() {
	m.failed.Add(1)
	m.tick()
}

func (m *metricsRecorder) recordHit()  { m.hits.Add(1) }
func (m *metricsRecorder) recordMiss() { m.misses.Add(1) }

// tick advances the QPS window. The CAS makes exactly one caller roll the
// window when a second elapses; the rest keep counting.
func (m *metricsRecorder) tick() {
	now := time.Now().UnixMilli()
	start := m.windowStartMs.Load()
	elapsed := now - start
	if elapsed >= 1000 {
		if m.windowStartMs.CompareAndSwap(start, now) {
			count := m.windowCount.Swap(0)
			m.lastQPS.Store(count * 1000 / uint64(elapsed))
		}
	}
	m.windowCount.Add(1)
}

func (m *metricsRecorder) observe(latency time.Duration) {
	us := latency.Microseconds()
	if us < 0 {
		us = 0
	}
	if us > int64(^uint32(0)) {
		us = int64(^uint32(0))
	}
	m.mu.Lock()
	m.samples[m.next] = uint32(us)
	m.next++
	if m.next == latencyReservoirSize {
		m.next = 0
		m.filled = true
	}
	m.mu.Unlock()
}

// qps returns the request rate measured over the last closed window.
func (m *metricsRecorder) qps() uint64 {
	return m.lastQPS.Load()
}

// snapshot returns a consistent view of all counters.
func (m *metricsRecorder) snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		TotalGenerated: m.generated.Load(),
		TotalFailed:    m.failed.Load(),
		CurrentQPS:     m.lastQPS.Load(),
	}

	hits := m.hits.Load()
	misses := m.misses.Load()
	if total := hits + misses; total > 0 {
		s.CacheHitRate = float64(hits) / float64(total)
	} else {
		s.CacheHitRate = 1.0
	}

	m.mu.Lock()
	n := m.next
	if m.filled {
		n = latencyReservoirSize
	}
	if n > 0 {
		sorted := make([]uint32, n)
		copy(sorted, m.samples[:n])
		m.mu.Unlock()
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.P50LatencyUs = uint64(sorted[n/2])
		s.P99LatencyUs = uint64(sorted[n*99/100])
	} else {
		m.mu.Unlock()
	}
	return s
}
