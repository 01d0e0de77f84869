// Package nebulaid - segment.go implements the segment allocation algorithm.
//
// A segment is a pre-fetched range of IDs [start, max) consumed locally with
// a single atomic fetch-add per ID. Two segments sit in a double buffer: while
// the active one drains, a background preload fills the standby slot, so
// crossing a segment boundary almost never touches the range store on the hot
// path.
//
// # Switch Protocol
//
//  1. Every consume checks NeedSwitch: remaining/total below the configured
//     threshold (default 10%).
//  2. The first goroutine to observe it wins a CAS on the preload flag and
//     loads the next segment asynchronously; the rest keep consuming.
//  3. When the active segment exhausts, Generate swaps to the standby slot if
//     it is ready, or falls back to a synchronous load.
//
// SegmentAlgorithm serves requests through a per-stream MultiLevelCache: the
// L1 ring buffer absorbs steady traffic, with the double buffer as L2 and an
// optional external backend as L3.

package nebulaid

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// AtomicSegment is one pre-fetched ID range. The cursor advances with a
// fetch-add, so concurrent consumers never contend on a lock.
type AtomicSegment struct {
	start   uint64
	max     uint64 // exclusive
	step    uint64
	version int64

	cursor atomic.Uint64
}

// NewAtomicSegment creates a segment covering [start, max).
func NewAtomicSegment(start, max uint64, version int64) *AtomicSegment {
	s := &AtomicSegment{
		start:   start,
		max:     max,
		step:    max - start,
		version: version,
	}
	s.cursor.Store(start)
	return s
}

// TryConsume takes the next ID from the segment. Returns false when the
// segment is exhausted. Overshoot past max is harmless: the cursor keeps
// counting but no value >= max is ever returned.
func (s *AtomicSegment) TryConsume() (uint64, bool) {
	id := s.cursor.Add(1) - 1
	if id >= s.max {
		return 0, false
	}
	return id, true
}

// TryConsumeBatch reserves up to n consecutive IDs, returning the inclusive
// start and exclusive end of the reserved run. A partial run at the tail of
// the segment is still returned.
func (s *AtomicSegment) TryConsumeBatch(n uint64) (start, end uint64, ok bool) {
	for {
		cur := s.cursor.Load()
		if cur >= s.max {
			return 0, 0, false
		}
		end = cur + n
		if end > s.max {
			end = s.max
		}
		if s.cursor.CompareAndSwap(cur, end) {
			return cur, end, true
		}
	}
}

// Remaining returns how many IDs are left in the segment.
func (s *AtomicSegment) Remaining() uint64 {
	cur := s.cursor.Load()
	if cur >= s.max {
		return 0
	}
	return s.max - cur
}

// Total returns the segment width.
func (s *AtomicSegment) Total() uint64 {
	return s.step
}

// Exhausted reports whether the segment has no IDs left.
func (s *AtomicSegment) Exhausted() bool {
	return s.cursor.Load() >= s.max
}

// DoubleBuffer holds the active segment and a pre-loaded standby. Readers
// resolve the active slot with one atomic load; the swap flips an index
// rather than copying segments.
type DoubleBuffer struct {
	slots  [2]atomic.Pointer[AtomicSegment]
	active atomic.Uint32

	nextReady       atomic.Bool
	preloading      atomic.Bool
	switchThreshold float64

	swapMu sync.Mutex
}

// NewDoubleBuffer creates a buffer with the given initial segment.
// switchThreshold is the remaining-fraction below which a preload is
// triggered.
func NewDoubleBuffer(initial *AtomicSegment, switchThreshold float64) *DoubleBuffer {
	b := &DoubleBuffer{switchThreshold: switchThreshold}
	b.slots[0].Store(initial)
	return b
}

// Current returns the active segment.
func (b *DoubleBuffer) Current() *AtomicSegment {
	return b.slots[b.active.Load()].Load()
}

// NeedSwitch reports whether the active segment has drained below the
// threshold and no standby is staged yet.
func (b *DoubleBuffer) NeedSwitch() bool {
	if b.nextReady.Load() {
		return false
	}
	seg := b.Current()
	if seg == nil {
		return true
	}
	total := seg.Total()
	if total == 0 {
		return true
	}
	return float64(seg.Remaining())/float64(total) < b.switchThreshold
}

// beginPreload claims the preload slot. Exactly one caller wins until
// endPreload releases it.
func (b *DoubleBuffer) beginPreload() bool {
	return b.preloading.CompareAndSwap(false, true)
}

func (b *DoubleBuffer) endPreload() {
	b.preloading.Store(false)
}

// SetNext stages a freshly loaded segment in the standby slot.
func (b *DoubleBuffer) SetNext(seg *AtomicSegment) {
	b.slots[1-b.active.Load()].Store(seg)
	b.nextReady.Store(true)
}

// Swap flips to the standby slot if one is staged. Returns the new active
// segment, or nil when no usable standby is ready; callers then fall back to
// a synchronous load under the swap lock.
func (b *DoubleBuffer) Swap() *AtomicSegment {
	b.swapMu.Lock()
	defer b.swapMu.Unlock()

	if !b.nextReady.Load() {
		return nil
	}
	next := 1 - b.active.Load()
	seg := b.slots[next].Load()
	b.nextReady.Store(false)
	cur := b.slots[b.active.Load()].Load()
	if seg == nil || (cur != nil && seg.start < cur.start) {
		// A stale preload that lost a load race against a synchronous
		// rollover; swapping it in would run the stream backwards.
		return nil
	}
	b.active.Store(next)
	return seg
}

// SegmentAlgorithm serves IDs through per-stream multi-level caches backed by
// double-buffered segments and a SegmentLoader.
type SegmentAlgorithm struct {
	loader   *SegmentLoader
	cfg      SegmentConfig
	cacheCfg CacheConfig
	l3       CacheBackend // optional, shared across streams

	buffers sync.Map // stream key -> *DoubleBuffer
	caches  sync.Map // stream key -> *MultiLevelCache
	metrics *metricsRecorder
}

// NewSegmentAlgorithm creates the segment generator over the given loader
// with in-process caching only.
func NewSegmentAlgorithm(loader *SegmentLoader, cfg SegmentConfig) *SegmentAlgorithm {
	return NewCachedSegmentAlgorithm(loader, cfg, CacheConfig{}, nil)
}

// NewCachedSegmentAlgorithm creates the segment generator with an explicit
// cache configuration and an optional external L3 backend. l3 may be nil.
func NewCachedSegmentAlgorithm(loader *SegmentLoader, cfg SegmentConfig, cacheCfg CacheConfig, l3 CacheBackend) *SegmentAlgorithm {
	cfg.applyDefaults()
	cacheCfg.applyDefaults()
	return &SegmentAlgorithm{
		loader:   loader,
		cfg:      cfg,
		cacheCfg: cacheCfg,
		l3:       l3,
		metrics:  newMetricsRecorder(),
	}
}

// streamKey keys buffers and caches. Ranges are reserved per datacenter, so
// the key carries it too.
func streamKey(gctx *GenerateContext) string {
	return gctx.StreamKey() + "@" + strconv.FormatInt(gctx.DatacenterID, 10)
}

// Generate issues one ID for the stream identified by gctx, served from the
// stream's cache stack.
func (a *SegmentAlgorithm) Generate(ctx context.Context, gctx *GenerateContext) (Id, error) {
	start := time.Now()
	ids, err := a.cache(gctx).GetIDs(ctx, 1)
	if err != nil {
		a.metrics.recordFailure()
		return Id{}, err
	}
	a.metrics.recordSuccess(time.Since(start))
	return gctx.Render(NumericId(ids[0])), nil
}

// BatchGenerate issues size IDs, possibly spanning a segment boundary.
func (a *SegmentAlgorithm) BatchGenerate(ctx context.Context, gctx *GenerateContext, size int) ([]Id, error) {
	if size <= 0 {
		return []Id{}, nil
	}
	start := time.Now()
	c := a.cache(gctx)
	ids := make([]Id, 0, size)

	for len(ids) < size {
		vals, err := c.GetIDs(ctx, size-len(ids))
		if err != nil {
			a.metrics.recordFailure()
			return ids, err
		}
		for _, v := range vals {
			ids = append(ids, gctx.Render(NumericId(v)))
		}
	}

	a.metrics.recordSuccess(time.Since(start))
	return ids, nil
}

// cache returns the stream's multi-level cache, creating it on first use.
// Construction is cheap; the range store is only touched once IDs are pulled.
func (a *SegmentAlgorithm) cache(gctx *GenerateContext) *MultiLevelCache {
	key := streamKey(gctx)
	if v, ok := a.caches.Load(key); ok {
		return v.(*MultiLevelCache)
	}
	c := NewMultiLevelCache(a.cacheCfg, *gctx, a, a.l3)
	c.rec = a.metrics
	if actual, loaded := a.caches.LoadOrStore(key, c); loaded {
		return actual.(*MultiLevelCache)
	}
	return c
}

// ConsumeBatch reserves up to max raw ID values for the stream. It is the L2
// feed of the cache stack, which stores numbers rather than rendered IDs.
func (a *SegmentAlgorithm) ConsumeBatch(ctx context.Context, gctx *GenerateContext, max int) ([]uint64, error) {
	buf, err := a.buffer(ctx, gctx)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 3; attempt++ {
		seg := buf.Current()
		if seg != nil {
			if from, to, ok := seg.TryConsumeBatch(uint64(max)); ok {
				out := make([]uint64, 0, to-from)
				for v := from; v < to; v++ {
					out = append(out, v)
				}
				a.maybePreload(gctx, buf)
				return out, nil
			}
		}
		if err := a.rollover(ctx, gctx, buf); err != nil {
			return nil, err
		}
	}
	return nil, a.segmentError(gctx, 0)
}

// buffer returns the stream's double buffer, creating and priming it on first
// use.
func (a *SegmentAlgorithm) buffer(ctx context.Context, gctx *GenerateContext) (*DoubleBuffer, error) {
	key := streamKey(gctx)
	if v, ok := a.buffers.Load(key); ok {
		return v.(*DoubleBuffer), nil
	}

	seg, err := a.loader.Load(ctx, gctx, a.metrics.qps())
	if err != nil {
		return nil, err
	}
	buf := NewDoubleBuffer(seg, a.cfg.SwitchThreshold)
	if actual, loaded := a.buffers.LoadOrStore(key, buf); loaded {
		// Lost the race; the reserved range leaks, which only costs a gap in
		// the sequence.
		return actual.(*DoubleBuffer), nil
	}
	return buf, nil
}

// maybePreload starts an async load of the standby segment when the active
// one drains below the switch threshold.
func (a *SegmentAlgorithm) maybePreload(gctx *GenerateContext, buf *DoubleBuffer) {
	if !buf.NeedSwitch() || !buf.beginPreload() {
		return
	}
	gc := *gctx
	go func() {
		defer buf.endPreload()
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.LoadTimeout)
		defer cancel()
		seg, err := a.loader.Load(ctx, &gc, a.metrics.qps())
		if err != nil {
			return
		}
		buf.SetNext(seg)
	}()
}

// rollover swaps to the standby segment, or loads one synchronously when the
// preload has not landed yet.
func (a *SegmentAlgorithm) rollover(ctx context.Context, gctx *GenerateContext, buf *DoubleBuffer) error {
	if seg := buf.Swap(); seg != nil && !seg.Exhausted() {
		return nil
	}

	buf.swapMu.Lock()
	defer buf.swapMu.Unlock()

	// A concurrent rollover may have installed a live segment already.
	if seg := buf.Current(); seg != nil && !seg.Exhausted() {
		return nil
	}

	seg, err := a.loader.Load(ctx, gctx, a.metrics.qps())
	if err != nil {
		return err
	}
	buf.slots[buf.active.Load()].Store(seg)
	return nil
}

func (a *SegmentAlgorithm) segmentError(gctx *GenerateContext, maxID uint64) error {
	return &SegmentError{
		Workspace: gctx.Workspace,
		BizTag:    gctx.BizTag,
		MaxID:     maxID,
	}
}

// HealthCheck reports the range store's reachability as observed by the
// loader.
func (a *SegmentAlgorithm) HealthCheck() HealthStatus {
	return a.loader.Health()
}

// Metrics returns a snapshot of the generator's counters.
func (a *SegmentAlgorithm) Metrics() MetricsSnapshot {
	return a.metrics.snapshot()
}

// Type implements IdAlgorithm.
func (a *SegmentAlgorithm) Type() AlgorithmType {
	return AlgorithmSegment
}

// Initialize implements IdAlgorithm.
func (a *SegmentAlgorithm) Initialize(cfg *Config) error {
	return nil
}

// Shutdown implements IdAlgorithm. In-flight preloads finish on their own
// timeout; unconsumed ranges simply leave gaps.
func (a *SegmentAlgorithm) Shutdown(ctx context.Context) error {
	a.loader.Stop()
	return nil
}
