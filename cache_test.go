package nebulaid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// seqSource hands out sequential IDs, simulating the segment tier.
type seqSource struct {
	mu   sync.Mutex
	next uint64
	fail bool
}

func (s *seqSource) ConsumeBatch(ctx context.Context, gctx *GenerateContext, max int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, ErrSegmentExhausted
	}
	out := make([]uint64, max)
	for i := range out {
		out[i] = s.next
		s.next++
	}
	return out, nil
}

// memCacheBackend is an in-memory CacheBackend with destructive reads.
type memCacheBackend struct {
	mu   sync.Mutex
	data map[string][]uint64
	fail bool
}

func newMemCacheBackend() *memCacheBackend {
	return &memCacheBackend{data: make(map[string][]uint64)}
}

func (b *memCacheBackend) Take(ctx context.Context, key string, n int) ([]uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, ErrCacheUnavailable
	}
	ids := b.data[key]
	if len(ids) == 0 {
		return nil, nil
	}
	if n > len(ids) {
		n = len(ids)
	}
	out := append([]uint64(nil), ids[:n]...)
	b.data[key] = ids[n:]
	return out, nil
}

func (b *memCacheBackend) Put(ctx context.Context, key string, ids []uint64, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return ErrCacheUnavailable
	}
	b.data[key] = append(b.data[key], ids...)
	return nil
}

func (b *memCacheBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *memCacheBackend) Len(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data[key])), nil
}

func newTestCache(l3 CacheBackend) (*MultiLevelCache, *seqSource) {
	src := &seqSource{}
	cfg := CacheConfig{L1Capacity: 64, FillThreshold: 1, RefillBatch: 16}
	c := NewMultiLevelCache(cfg, *testGctx, src, l3)
	return c, src
}

// TestCacheL2Miss tests that an empty L1 falls through to the segment source.
func TestCacheL2Miss(t *testing.T) {
	c, _ := newTestCache(nil)

	ids, err := c.GetIDs(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetIDs() error = %v", err)
	}
	if len(ids) != 10 {
		t.Fatalf("got %d IDs, want 10", len(ids))
	}

	stats := c.Stats()
	if stats.L2Hits != 10 {
		t.Errorf("L2Hits = %d, want 10", stats.L2Hits)
	}
	if stats.L1Misses == 0 {
		t.Error("L1Misses = 0, want at least one")
	}
}

// TestCacheL1Hit tests that staged IDs are served from L1 without touching
// lower levels.
func TestCacheL1Hit(t *testing.T) {
	c, _ := newTestCache(nil)
	ctx := context.Background()

	if err := c.PutIDs(ctx, []uint64{100, 101, 102}); err != nil {
		t.Fatalf("PutIDs() error = %v", err)
	}

	ids, err := c.GetIDs(ctx, 3)
	if err != nil {
		t.Fatalf("GetIDs() error = %v", err)
	}
	for i, want := range []uint64{100, 101, 102} {
		if ids[i] != want {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want)
		}
	}

	stats := c.Stats()
	if stats.L1Hits != 3 {
		t.Errorf("L1Hits = %d, want 3", stats.L1Hits)
	}
	if stats.L2Hits != 0 {
		t.Errorf("L2Hits = %d, want 0", stats.L2Hits)
	}
}

// TestCacheOverfetchWarmsL1 tests that a miss banks the L2 surplus in L1 so
// the next request is served in-process.
func TestCacheOverfetchWarmsL1(t *testing.T) {
	c, _ := newTestCache(nil)
	ctx := context.Background()

	ids, err := c.GetIDs(ctx, 3)
	if err != nil {
		t.Fatalf("GetIDs() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d IDs, want 3", len(ids))
	}
	if got := c.Level1Len(); got != 16 {
		t.Fatalf("Level1Len() = %d, want the 16 over-fetched IDs", got)
	}

	// The banked IDs continue the sequence and come out of L1.
	next, err := c.GetIDs(ctx, 3)
	if err != nil {
		t.Fatalf("GetIDs() error = %v", err)
	}
	for i, want := range []uint64{3, 4, 5} {
		if next[i] != want {
			t.Errorf("next[%d] = %d, want %d", i, next[i], want)
		}
	}
	if c.Stats().L1Hits != 3 {
		t.Errorf("L1Hits = %d, want 3", c.Stats().L1Hits)
	}
}

// TestCacheNoDuplicates tests that IDs flow through the stack exactly once.
func TestCacheNoDuplicates(t *testing.T) {
	c, _ := newTestCache(newMemCacheBackend())
	ctx := context.Background()

	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		ids, err := c.GetIDs(ctx, 7)
		if err != nil {
			t.Fatalf("GetIDs() error = %v", err)
		}
		for _, v := range ids {
			if seen[v] {
				t.Fatalf("ID %d served twice", v)
			}
			seen[v] = true
		}
	}
}

// TestCacheL3Fallback tests that a dead segment source falls back to L3.
func TestCacheL3Fallback(t *testing.T) {
	l3 := newMemCacheBackend()
	c, src := newTestCache(l3)
	ctx := context.Background()

	l3.Put(ctx, "nebula:cache:ws:grp:orders@0", []uint64{500, 501, 502}, 0)
	src.mu.Lock()
	src.fail = true
	src.mu.Unlock()

	ids, err := c.GetIDs(ctx, 3)
	if err != nil {
		t.Fatalf("GetIDs() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d IDs, want 3", len(ids))
	}
	if c.Stats().L3Hits != 3 {
		t.Errorf("L3Hits = %d, want 3", c.Stats().L3Hits)
	}
}

// TestCacheAllLevelsDry tests the error when nothing can produce IDs.
func TestCacheAllLevelsDry(t *testing.T) {
	c, src := newTestCache(nil)
	src.mu.Lock()
	src.fail = true
	src.mu.Unlock()

	_, err := c.GetIDs(context.Background(), 5)
	if err == nil {
		t.Fatal("GetIDs() succeeded with every level dry")
	}
	if !errors.Is(err, ErrSegmentExhausted) {
		t.Errorf("error = %v, want the L2 failure propagated", err)
	}
}

// TestCachePutOverflowToL3 tests that IDs beyond L1 capacity park in L3.
func TestCachePutOverflowToL3(t *testing.T) {
	l3 := newMemCacheBackend()
	c, _ := newTestCache(l3)
	ctx := context.Background()

	ids := make([]uint64, 100)
	for i := range ids {
		ids[i] = uint64(1000 + i)
	}
	if err := c.PutIDs(ctx, ids); err != nil {
		t.Fatalf("PutIDs() error = %v", err)
	}

	n, _ := l3.Len(ctx, "nebula:cache:ws:grp:orders@0")
	if n != 100-int64(c.Level1Len()) {
		t.Errorf("L3 holds %d IDs, want the %d that did not fit L1", n, 100-c.Level1Len())
	}
}

// TestCacheInvalidate tests that invalidation drains L1 and drops the L3 key.
func TestCacheInvalidate(t *testing.T) {
	l3 := newMemCacheBackend()
	c, _ := newTestCache(l3)
	ctx := context.Background()

	ids := make([]uint64, 80)
	for i := range ids {
		ids[i] = uint64(i)
	}
	c.PutIDs(ctx, ids)

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if c.Level1Len() != 0 {
		t.Errorf("L1 holds %d IDs after invalidation", c.Level1Len())
	}
	if n, _ := l3.Len(ctx, "nebula:cache:ws:grp:orders@0"); n != 0 {
		t.Errorf("L3 holds %d IDs after invalidation", n)
	}
}
