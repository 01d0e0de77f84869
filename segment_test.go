package nebulaid

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
)

// memRangeStore is an in-memory RangeStore with real version checking.
type memRangeStore struct {
	mu     sync.Mutex
	rows   map[string]SegmentRange
	loads  int
	saves  int
	failAt error // when set, every call fails with this error
}

func newMemRangeStore() *memRangeStore {
	return &memRangeStore{rows: make(map[string]SegmentRange)}
}

func (s *memRangeStore) key(ws, tag string, dc int64) string {
	return ws + "/" + tag + "/" + strconv.FormatInt(dc, 10)
}

func (s *memRangeStore) LoadRange(ctx context.Context, ws, tag string, dc int64) (SegmentRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.failAt != nil {
		return SegmentRange{}, s.failAt
	}
	k := s.key(ws, tag, dc)
	rng, ok := s.rows[k]
	if !ok {
		rng = SegmentRange{
			Workspace:    ws,
			BizTag:       tag,
			DatacenterID: dc,
			Current:      DatacenterBlock(dc),
		}
		s.rows[k] = rng
	}
	return rng, nil
}

func (s *memRangeStore) SaveRange(ctx context.Context, rng SegmentRange, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failAt != nil {
		return s.failAt
	}
	k := s.key(rng.Workspace, rng.BizTag, rng.DatacenterID)
	stored, ok := s.rows[k]
	if !ok || stored.Version != expectedVersion {
		return &VersionConflictError{
			Workspace:       rng.Workspace,
			BizTag:          rng.BizTag,
			DatacenterID:    rng.DatacenterID,
			ExpectedVersion: expectedVersion,
		}
	}
	rng.Version = expectedVersion + 1
	s.rows[k] = rng
	return nil
}

func newTestSegment(t *testing.T, cfg SegmentConfig) (*SegmentAlgorithm, *memRangeStore) {
	t.Helper()
	store := newMemRangeStore()
	loader := NewSegmentLoader(store, cfg, nil)
	// A small L1 and over-fetch keep store interaction deterministic.
	alg := NewCachedSegmentAlgorithm(loader, cfg, CacheConfig{L1Capacity: 64, RefillBatch: 8}, nil)
	t.Cleanup(func() { alg.Shutdown(context.Background()) })
	return alg, store
}

// TestAtomicSegmentConsume tests single consumption up to exhaustion.
func TestAtomicSegmentConsume(t *testing.T) {
	seg := NewAtomicSegment(100, 105, 1)

	for want := uint64(100); want < 105; want++ {
		id, ok := seg.TryConsume()
		if !ok {
			t.Fatalf("TryConsume() exhausted at %d", want)
		}
		if id != want {
			t.Errorf("TryConsume() = %d, want %d", id, want)
		}
	}
	if _, ok := seg.TryConsume(); ok {
		t.Error("TryConsume() succeeded past max")
	}
	if !seg.Exhausted() {
		t.Error("Exhausted() = false after draining")
	}
	if seg.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", seg.Remaining())
	}
}

// TestAtomicSegmentBatch tests batch reservation including the partial tail.
func TestAtomicSegmentBatch(t *testing.T) {
	seg := NewAtomicSegment(0, 10, 1)

	start, end, ok := seg.TryConsumeBatch(4)
	if !ok || start != 0 || end != 4 {
		t.Fatalf("TryConsumeBatch(4) = [%d,%d) ok=%v, want [0,4) true", start, end, ok)
	}

	start, end, ok = seg.TryConsumeBatch(100)
	if !ok || start != 4 || end != 10 {
		t.Fatalf("TryConsumeBatch(100) = [%d,%d) ok=%v, want partial [4,10) true", start, end, ok)
	}

	if _, _, ok := seg.TryConsumeBatch(1); ok {
		t.Error("TryConsumeBatch() succeeded on an exhausted segment")
	}
}

// TestAtomicSegmentConcurrent tests that concurrent consumers get distinct
// IDs within the range.
func TestAtomicSegmentConcurrent(t *testing.T) {
	const total = 10000
	seg := NewAtomicSegment(0, total, 1)

	var mu sync.Mutex
	seen := make(map[uint64]bool, total)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, total)
			for {
				id, ok := seg.TryConsume()
				if !ok {
					break
				}
				local = append(local, id)
			}
			mu.Lock()
			for _, v := range local {
				if v >= total {
					t.Errorf("ID %d outside range", v)
				}
				if seen[v] {
					t.Errorf("duplicate ID %d", v)
				}
				seen[v] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("consumed %d distinct IDs, want %d", len(seen), total)
	}
}

// TestDoubleBufferSwap tests the standby staging and swap protocol.
func TestDoubleBufferSwap(t *testing.T) {
	first := NewAtomicSegment(0, 10, 1)
	buf := NewDoubleBuffer(first, 0.1)

	if buf.Current() != first {
		t.Fatal("Current() did not return the initial segment")
	}
	if buf.Swap() != nil {
		t.Error("Swap() returned a segment with no standby staged")
	}

	second := NewAtomicSegment(10, 20, 2)
	buf.SetNext(second)
	if got := buf.Swap(); got != second {
		t.Errorf("Swap() = %v, want staged segment", got)
	}
	if buf.Current() != second {
		t.Error("Current() did not follow the swap")
	}
}

// TestDoubleBufferDiscardsStaleStandby tests that a standby staged behind the
// active range is dropped rather than swapped in.
func TestDoubleBufferDiscardsStaleStandby(t *testing.T) {
	buf := NewDoubleBuffer(NewAtomicSegment(20, 30, 2), 0.1)
	buf.SetNext(NewAtomicSegment(10, 20, 1))

	if got := buf.Swap(); got != nil {
		t.Errorf("Swap() = [%d,%d), want stale standby discarded", got.start, got.max)
	}
	if cur := buf.Current(); cur == nil || cur.start != 20 {
		t.Error("Current() no longer the live segment after the discard")
	}
}

// TestDoubleBufferNeedSwitch tests the 10% preload threshold.
func TestDoubleBufferNeedSwitch(t *testing.T) {
	seg := NewAtomicSegment(0, 100, 1)
	buf := NewDoubleBuffer(seg, 0.1)

	if buf.NeedSwitch() {
		t.Error("NeedSwitch() = true on a full segment")
	}

	// Drain to exactly 10% remaining: not yet below the threshold.
	for i := 0; i < 90; i++ {
		seg.TryConsume()
	}
	if buf.NeedSwitch() {
		t.Error("NeedSwitch() = true at exactly the threshold")
	}

	seg.TryConsume()
	if !buf.NeedSwitch() {
		t.Error("NeedSwitch() = false below the threshold")
	}

	buf.SetNext(NewAtomicSegment(100, 200, 2))
	if buf.NeedSwitch() {
		t.Error("NeedSwitch() = true with a standby already staged")
	}
}

// TestSegmentGenerate tests basic generation and store interaction.
func TestSegmentGenerate(t *testing.T) {
	alg, store := newTestSegment(t, SegmentConfig{BaseStep: 100})
	ctx := context.Background()

	first, err := alg.Generate(ctx, testGctx)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if first.Uint64() != 0 {
		t.Errorf("first ID = %d, want 0 (block start of dc 0)", first.Uint64())
	}

	second, err := alg.Generate(ctx, testGctx)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if second.Uint64() != 1 {
		t.Errorf("second ID = %d, want 1", second.Uint64())
	}

	store.mu.Lock()
	saves := store.saves
	store.mu.Unlock()
	if saves != 1 {
		t.Errorf("store saves = %d, want 1 (one segment covers both IDs)", saves)
	}
}

// TestSegmentRollover tests crossing a segment boundary.
func TestSegmentRollover(t *testing.T) {
	alg, _ := newTestSegment(t, SegmentConfig{BaseStep: 10, MinStep: 10, MaxStep: 10})
	ctx := context.Background()

	seen := make(map[uint64]bool)
	var prev uint64
	for i := 0; i < 100; i++ {
		id, err := alg.Generate(ctx, testGctx)
		if err != nil {
			t.Fatalf("Generate() error = %v at %d", err, i)
		}
		v := id.Uint64()
		if seen[v] {
			t.Fatalf("duplicate ID %d at %d", v, i)
		}
		if i > 0 && v <= prev {
			t.Fatalf("ID %d not increasing at %d", v, i)
		}
		seen[v] = true
		prev = v
	}
}

// TestSegmentConcurrent tests uniqueness across goroutines and segment
// boundaries.
func TestSegmentConcurrent(t *testing.T) {
	alg, _ := newTestSegment(t, SegmentConfig{BaseStep: 500, MinStep: 500, MaxStep: 500})
	ctx := context.Background()

	goroutines := 16
	perGoroutine := 500

	var mu sync.Mutex
	seen := make(map[uint64]bool, goroutines*perGoroutine)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				id, err := alg.Generate(ctx, testGctx)
				if err != nil {
					t.Errorf("Generate() error = %v", err)
					return
				}
				local = append(local, id.Uint64())
			}
			mu.Lock()
			for _, v := range local {
				if seen[v] {
					t.Errorf("duplicate ID %d", v)
				}
				seen[v] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Errorf("got %d unique IDs, want %d", len(seen), goroutines*perGoroutine)
	}
}

// TestSegmentStreamIsolation tests that different streams draw from
// independent ranges.
func TestSegmentStreamIsolation(t *testing.T) {
	alg, _ := newTestSegment(t, SegmentConfig{BaseStep: 100})
	ctx := context.Background()

	orders := &GenerateContext{Workspace: "ws", Group: "grp", BizTag: "orders"}
	users := &GenerateContext{Workspace: "ws", Group: "grp", BizTag: "users"}

	a, err := alg.Generate(ctx, orders)
	if err != nil {
		t.Fatalf("Generate(orders) error = %v", err)
	}
	b, err := alg.Generate(ctx, users)
	if err != nil {
		t.Fatalf("Generate(users) error = %v", err)
	}
	if a.Uint64() != 0 || b.Uint64() != 0 {
		t.Errorf("streams not independent: orders=%d users=%d, want 0 and 0",
			a.Uint64(), b.Uint64())
	}
}

// TestSegmentDatacenterBlocks tests that datacenters issue from disjoint
// blocks.
func TestSegmentDatacenterBlocks(t *testing.T) {
	alg, _ := newTestSegment(t, SegmentConfig{BaseStep: 100})
	ctx := context.Background()

	dc0 := &GenerateContext{Workspace: "ws", Group: "grp", BizTag: "orders", DatacenterID: 0}
	dc1 := &GenerateContext{Workspace: "ws", Group: "grp", BizTag: "orders", DatacenterID: 1}

	a, err := alg.Generate(ctx, dc0)
	if err != nil {
		t.Fatalf("Generate(dc0) error = %v", err)
	}
	b, err := alg.Generate(ctx, dc1)
	if err != nil {
		t.Fatalf("Generate(dc1) error = %v", err)
	}
	if a.Uint64() != 0 {
		t.Errorf("dc0 first ID = %d, want 0", a.Uint64())
	}
	if b.Uint64() != DatacenterBlock(1) {
		t.Errorf("dc1 first ID = %d, want %d", b.Uint64(), DatacenterBlock(1))
	}
}

// TestSegmentStoreDown tests that a dead store surfaces
// ErrRangeStoreUnavailable.
func TestSegmentStoreDown(t *testing.T) {
	alg, store := newTestSegment(t, SegmentConfig{BaseStep: 10, MaxRetries: 1, RetryBackoff: 1})
	store.mu.Lock()
	store.failAt = errors.New("connection refused")
	store.mu.Unlock()

	_, err := alg.Generate(context.Background(), testGctx)
	if !errors.Is(err, ErrRangeStoreUnavailable) {
		t.Errorf("error = %v, want ErrRangeStoreUnavailable", err)
	}
	if alg.HealthCheck().State == StateHealthy {
		t.Error("HealthCheck() healthy with the store down")
	}
}

// TestSegmentCacheServesRepeatRequests tests that the first request warms the
// L1 ring and subsequent requests draw from it without touching the store.
func TestSegmentCacheServesRepeatRequests(t *testing.T) {
	alg, store := newTestSegment(t, SegmentConfig{BaseStep: 100})
	ctx := context.Background()

	if _, err := alg.Generate(ctx, testGctx); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	c := alg.cache(testGctx)
	if c.Level1Len() == 0 {
		t.Fatal("L1 empty after the first request; over-fetch banked nothing")
	}

	store.mu.Lock()
	loadsAfterWarmup := store.loads
	store.mu.Unlock()

	warm := int(c.Level1Len())
	for i := 0; i < warm; i++ {
		if _, err := alg.Generate(ctx, testGctx); err != nil {
			t.Fatalf("Generate() error = %v at %d", err, i)
		}
	}

	store.mu.Lock()
	loads := store.loads
	store.mu.Unlock()
	if loads != loadsAfterWarmup {
		t.Errorf("store loads grew %d -> %d while L1 held IDs", loadsAfterWarmup, loads)
	}

	stats := c.Stats()
	if stats.L1Hits == 0 {
		t.Error("L1Hits = 0 after draining the warmed ring")
	}
}

// TestSegmentCacheHitRate tests that the metrics snapshot reflects real L1
// behavior.
func TestSegmentCacheHitRate(t *testing.T) {
	alg, _ := newTestSegment(t, SegmentConfig{BaseStep: 100})
	ctx := context.Background()

	// Request 1 misses and banks 8 IDs; 2..9 hit L1; 10 misses again.
	for i := 0; i < 10; i++ {
		if _, err := alg.Generate(ctx, testGctx); err != nil {
			t.Fatalf("Generate() error = %v at %d", err, i)
		}
	}

	m := alg.Metrics()
	if m.CacheHitRate != 0.8 {
		t.Errorf("CacheHitRate = %v, want 0.8 (8 hits, 2 misses)", m.CacheHitRate)
	}
}

// TestSegmentConsumeBatch tests the raw batch path used by the cache refill.
func TestSegmentConsumeBatch(t *testing.T) {
	alg, _ := newTestSegment(t, SegmentConfig{BaseStep: 100})

	ids, err := alg.ConsumeBatch(context.Background(), testGctx, 20)
	if err != nil {
		t.Fatalf("ConsumeBatch() error = %v", err)
	}
	if len(ids) != 20 {
		t.Fatalf("got %d IDs, want 20", len(ids))
	}
	for i, v := range ids {
		if v != uint64(i) {
			t.Errorf("ids[%d] = %d, want %d", i, v, i)
		}
	}
}
