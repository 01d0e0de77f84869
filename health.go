// Package nebulaid - health.go tracks the health of external targets
// (datacenters, the range store, the lease coordinator).
//
// A target goes unhealthy after a run of consecutive failures and recovers
// after a run of consecutive successes. While unhealthy, probe traffic is
// rate-limited to one attempt per recovery timeout so a dead backend is not
// hammered.

package nebulaid

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// HealthMonitor tracks named targets. Safe for concurrent use. Unknown
// targets are considered healthy.
type HealthMonitor struct {
	failureThreshold  int32
	recoveryThreshold int32
	recoveryTimeout   time.Duration

	targets sync.Map // name -> *targetHealth

	now func() time.Time // injectable for tests
}

type targetHealth struct {
	consecFailures  atomic.Int32
	consecSuccesses atomic.Int32
	unhealthy       atomic.Bool
	lastProbeMs     atomic.Int64 // last time a probe was admitted
}

// NewHealthMonitor creates a monitor. failureThreshold consecutive failures
// mark a target unhealthy; recoveryThreshold consecutive successes bring it
// back; recoveryTimeout paces probes against unhealthy targets.
func NewHealthMonitor(failureThreshold, recoveryThreshold int, recoveryTimeout time.Duration) *HealthMonitor {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if recoveryThreshold <= 0 {
		recoveryThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &HealthMonitor{
		failureThreshold:  int32(failureThreshold),
		recoveryThreshold: int32(recoveryThreshold),
		recoveryTimeout:   recoveryTimeout,
		now:               time.Now,
	}
}

func (m *HealthMonitor) target(name string) *targetHealth {
	if v, ok := m.targets.Load(name); ok {
		return v.(*targetHealth)
	}
	actual, _ := m.targets.LoadOrStore(name, &targetHealth{})
	return actual.(*targetHealth)
}

// RecordSuccess feeds a successful interaction with the target.
func (m *HealthMonitor) RecordSuccess(name string) {
	t := m.target(name)
	t.consecFailures.Store(0)
	n := t.consecSuccesses.Add(1)
	if t.unhealthy.Load() && n >= m.recoveryThreshold {
		t.unhealthy.Store(false)
		t.consecSuccesses.Store(0)
	}
}

// RecordFailure feeds a failed interaction with the target.
func (m *HealthMonitor) RecordFailure(name string) {
	t := m.target(name)
	t.consecSuccesses.Store(0)
	if t.consecFailures.Add(1) >= m.failureThreshold {
		if t.unhealthy.CompareAndSwap(false, true) {
			t.lastProbeMs.Store(m.now().UnixMilli())
		}
	}
}

// Healthy reports whether the target is in rotation. Targets never seen are
// healthy.
func (m *HealthMonitor) Healthy(name string) bool {
	v, ok := m.targets.Load(name)
	if !ok {
		return true
	}
	return !v.(*targetHealth).unhealthy.Load()
}

// AllowProbe reports whether an unhealthy target may receive one probe now.
// At most one caller per recovery timeout gets true; healthy targets always
// may be used directly.
func (m *HealthMonitor) AllowProbe(name string) bool {
	v, ok := m.targets.Load(name)
	if !ok {
		return true
	}
	t := v.(*targetHealth)
	if !t.unhealthy.Load() {
		return true
	}
	nowMs := m.now().UnixMilli()
	last := t.lastProbeMs.Load()
	if nowMs-last < m.recoveryTimeout.Milliseconds() {
		return false
	}
	return t.lastProbeMs.CompareAndSwap(last, nowMs)
}

// dcTarget names a datacenter in the monitor.
func dcTarget(dcID int64) string {
	return fmt.Sprintf("dc:%d", dcID)
}

// RecordDCSuccess feeds a successful interaction with a datacenter.
func (m *HealthMonitor) RecordDCSuccess(dcID int64) {
	m.RecordSuccess(dcTarget(dcID))
}

// RecordDCFailure feeds a failed interaction with a datacenter.
func (m *HealthMonitor) RecordDCFailure(dcID int64) {
	m.RecordFailure(dcTarget(dcID))
}

// SelectBestDC picks a datacenter: the preferred one while it is healthy,
// otherwise the first healthy candidate in order. Returns false when every
// datacenter is down.
func (m *HealthMonitor) SelectBestDC(preferred int64, candidates []int64) (int64, bool) {
	if m.Healthy(dcTarget(preferred)) {
		return preferred, true
	}
	for _, dc := range candidates {
		if dc == preferred {
			continue
		}
		if m.Healthy(dcTarget(dc)) {
			return dc, true
		}
	}
	return 0, false
}
