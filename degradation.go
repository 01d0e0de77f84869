// Package nebulaid - degradation.go implements the failover state machine.
//
// Algorithms form a fixed priority chain (default: Segment, Snowflake,
// UUIDv7, UUIDv4). Each stream tracks consecutive failures per algorithm;
// crossing the failure threshold degrades that algorithm for the stream and
// requests flow to the next tier. Consecutive successes promote it back;
// since a degraded tier no longer serves requests, those successes come from
// paced canary probes the generator issues through ProbeCandidate.
// Operators can also force an algorithm down (or lift the override) globally,
// and a background probe pulls tiers whose own health check reports
// unhealthy.
//
// The chain always terminates in a tier that cannot fail (UUIDv4 by default),
// so generation stays available through any backend outage.

package nebulaid

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DegradationState summarizes how far down the chain a stream has fallen.
type DegradationState uint8

// Degradation states.
const (
	// StateNormal: the primary algorithm serves the stream.
	StateNormal DegradationState = iota

	// StateDegraded: an intermediate fallback serves the stream.
	StateDegraded

	// StateCritical: only the last-resort tier remains.
	StateCritical
)

// String returns the state name.
func (s DegradationState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateDegraded:
		return "degraded"
	case StateCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// algHealth tracks one algorithm's standing for one stream.
type algHealth struct {
	consecFailures  atomic.Int32
	consecSuccesses atomic.Int32
	degraded        atomic.Bool
	lastProbeMs     atomic.Int64 // last recovery probe admitted for this tier
}

// algOverride tracks one algorithm's global standing.
type algOverride struct {
	manualDown atomic.Bool // operator forced the tier down
	probeDown  atomic.Bool // health probe reported unhealthy
}

// DegradationManager owns the fallback chain and the per-stream failover
// state. Safe for concurrent use.
type DegradationManager struct {
	cfg   DegradationConfig
	chain []AlgorithmType

	mu   sync.RWMutex
	algs map[AlgorithmType]IdAlgorithm

	overrides map[AlgorithmType]*algOverride
	streams   sync.Map // bizTag -> map[AlgorithmType]*algHealth

	stopOnce sync.Once
	stop     chan struct{}
}

// NewDegradationManager creates a manager with the configured chain.
func NewDegradationManager(cfg DegradationConfig) *DegradationManager {
	cfg.applyDefaults()
	m := &DegradationManager{
		cfg:       cfg,
		chain:     append([]AlgorithmType(nil), cfg.Chain...),
		algs:      make(map[AlgorithmType]IdAlgorithm),
		overrides: make(map[AlgorithmType]*algOverride),
		stop:      make(chan struct{}),
	}
	for _, t := range m.chain {
		m.overrides[t] = &algOverride{}
	}
	return m
}

// Register installs an algorithm implementation for its chain slot.
func (m *DegradationManager) Register(alg IdAlgorithm) {
	m.mu.Lock()
	m.algs[alg.Type()] = alg
	m.mu.Unlock()
}

// AlgorithmFor returns the registered implementation for a chain slot.
func (m *DegradationManager) AlgorithmFor(t AlgorithmType) (IdAlgorithm, bool) {
	m.mu.RLock()
	alg, ok := m.algs[t]
	m.mu.RUnlock()
	return alg, ok
}

// Chain returns the configured priority order.
func (m *DegradationManager) Chain() []AlgorithmType {
	return append([]AlgorithmType(nil), m.chain...)
}

func (m *DegradationManager) streamHealth(bizTag string) map[AlgorithmType]*algHealth {
	if v, ok := m.streams.Load(bizTag); ok {
		return v.(map[AlgorithmType]*algHealth)
	}
	fresh := make(map[AlgorithmType]*algHealth, len(m.chain))
	for _, t := range m.chain {
		fresh[t] = &algHealth{}
	}
	actual, _ := m.streams.LoadOrStore(bizTag, fresh)
	return actual.(map[AlgorithmType]*algHealth)
}

// RecordResult feeds one generation outcome into the stream's state machine.
func (m *DegradationManager) RecordResult(bizTag string, t AlgorithmType, ok bool) {
	h, present := m.streamHealth(bizTag)[t]
	if !present {
		return
	}
	if ok {
		h.consecFailures.Store(0)
		n := h.consecSuccesses.Add(1)
		if !m.cfg.DisableAutoRecovery && h.degraded.Load() && n >= int32(m.cfg.RecoveryThreshold) {
			h.degraded.Store(false)
			h.consecSuccesses.Store(0)
		}
		return
	}
	h.consecSuccesses.Store(0)
	if h.consecFailures.Add(1) >= int32(m.cfg.FailureThreshold) {
		h.degraded.Store(true)
	}
}

// ProbeCandidate returns a degraded tier that is due for a recovery probe on
// the stream. Probes against a still-failing tier are paced by ProbeInterval,
// with at most one caller admitted per interval; once a probe succeeds,
// follow-ups run immediately so promotion is bounded by the recovery
// threshold rather than the interval. Manually degraded and probe-down tiers
// are excluded: those come back through ManualRecover and CheckHealth.
func (m *DegradationManager) ProbeCandidate(bizTag string) (AlgorithmType, bool) {
	if m.cfg.DisableAutoRecovery {
		return 0, false
	}
	health := m.streamHealth(bizTag)
	for _, t := range m.chain {
		if ov := m.overrides[t]; ov != nil && (ov.manualDown.Load() || ov.probeDown.Load()) {
			continue
		}
		h := health[t]
		if h == nil || !h.degraded.Load() {
			continue
		}
		if h.consecSuccesses.Load() > 0 {
			return t, true
		}
		now := time.Now().UnixMilli()
		last := h.lastProbeMs.Load()
		if now-last < m.cfg.ProbeInterval.Milliseconds() {
			continue
		}
		if h.lastProbeMs.CompareAndSwap(last, now) {
			return t, true
		}
	}
	return 0, false
}

// available reports whether the tier may serve the stream.
func (m *DegradationManager) available(bizTag string, t AlgorithmType) bool {
	if ov := m.overrides[t]; ov != nil && (ov.manualDown.Load() || ov.probeDown.Load()) {
		return false
	}
	if h, ok := m.streamHealth(bizTag)[t]; ok && h.degraded.Load() {
		return false
	}
	return true
}

// EffectiveAlgorithm returns the first available tier for the stream. The
// last chain entry is returned unconditionally when everything above it is
// down.
func (m *DegradationManager) EffectiveAlgorithm(bizTag string) AlgorithmType {
	for i, t := range m.chain {
		if i == len(m.chain)-1 || m.available(bizTag, t) {
			return t
		}
	}
	return m.chain[len(m.chain)-1]
}

// chainIndex returns t's position in the chain, or -1.
func (m *DegradationManager) chainIndex(t AlgorithmType) int {
	for i, c := range m.chain {
		if c == t {
			return i
		}
	}
	return -1
}

// StateFor classifies the stream's current position in the chain.
func (m *DegradationManager) StateFor(bizTag string) DegradationState {
	idx := m.chainIndex(m.EffectiveAlgorithm(bizTag))
	switch {
	case idx <= 0:
		return StateNormal
	case idx == len(m.chain)-1:
		return StateCritical
	default:
		return StateDegraded
	}
}

// ManualDegrade forces the tier down across all streams until ManualRecover.
func (m *DegradationManager) ManualDegrade(t AlgorithmType) {
	if ov := m.overrides[t]; ov != nil {
		ov.manualDown.Store(true)
	}
}

// ManualRecover lifts a manual override. The tier still needs a passing probe
// and per-stream state to serve again.
func (m *DegradationManager) ManualRecover(t AlgorithmType) {
	if ov := m.overrides[t]; ov != nil {
		ov.manualDown.Store(false)
	}
}

// CheckHealth probes every registered algorithm's self-reported health and
// pulls unhealthy tiers out of rotation. Degraded (but functional) tiers stay
// in rotation; the per-stream failure counting handles them.
func (m *DegradationManager) CheckHealth() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for t, alg := range m.algs {
		ov := m.overrides[t]
		if ov == nil {
			continue
		}
		ov.probeDown.Store(alg.HealthCheck().State == StateUnhealthy)
	}
}

// StartBackgroundCheck runs CheckHealth on the given interval until Stop.
func (m *DegradationManager) StartBackgroundCheck(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckHealth()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop terminates the background probe.
func (m *DegradationManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Shutdown stops the probe and shuts down every registered algorithm.
func (m *DegradationManager) Shutdown(ctx context.Context) error {
	m.Stop()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for _, alg := range m.algs {
		if err := alg.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
