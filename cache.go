// Package nebulaid - cache.go composes the multi-level ID cache.
//
// Three levels, fastest first:
//
//	L1  in-process lock-free ring buffer, nanosecond pops
//	L2  the segment double buffer, one atomic fetch-add away
//	L3  an external cache backend (Redis), shared across processes
//
// A request drains L1 first, then pulls the shortfall from L2 and finally L3.
// Whatever a lower level over-fetches backfills L1 so the next request hits.
// Every ID moves through the stack exactly once: all reads are destructive,
// so two processes sharing an L3 never hand out the same value.

package nebulaid

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"
)

// CacheBackend is the external (L3) cache contract. Take must be atomic:
// concurrent takers of the same key must receive disjoint IDs.
type CacheBackend interface {
	// Take removes and returns up to n IDs under key. An absent key yields an
	// empty slice and no error.
	Take(ctx context.Context, key string, n int) ([]uint64, error)

	// Put appends ids under key and refreshes its TTL.
	Put(ctx context.Context, key string, ids []uint64, ttl time.Duration) error

	// Delete drops the key and all IDs under it.
	Delete(ctx context.Context, key string) error

	// Len returns the number of IDs currently under key.
	Len(ctx context.Context, key string) (int64, error)
}

// SegmentSource supplies raw ID values in bulk. *SegmentAlgorithm implements
// it.
type SegmentSource interface {
	ConsumeBatch(ctx context.Context, gctx *GenerateContext, max int) ([]uint64, error)
}

// CacheStats carries per-level hit and miss counts.
type CacheStats struct {
	L1Hits   uint64
	L1Misses uint64
	L2Hits   uint64
	L2Misses uint64
	L3Hits   uint64
	L3Misses uint64
}

// MultiLevelCache serves one ID stream through the L1/L2/L3 stack.
type MultiLevelCache struct {
	cfg  CacheConfig
	gctx GenerateContext
	key  string

	l1 *RingBuffer
	l2 SegmentSource
	l3 CacheBackend // nil disables L3

	// rec, when set, receives one hit or miss per request so the owning
	// algorithm's snapshot reflects real L1 behavior.
	rec *metricsRecorder

	l1Hits, l1Misses atomic.Uint64
	l2Hits, l2Misses atomic.Uint64
	l3Hits, l3Misses atomic.Uint64
}

// NewMultiLevelCache creates the cache stack for one stream. l3 may be nil.
// The key carries the datacenter so streams served from different blocks
// never share an L3 list.
func NewMultiLevelCache(cfg CacheConfig, gctx GenerateContext, source SegmentSource, l3 CacheBackend) *MultiLevelCache {
	cfg.applyDefaults()
	c := &MultiLevelCache{
		cfg:  cfg,
		gctx: gctx,
		key:  "nebula:cache:" + gctx.StreamKey() + "@" + strconv.FormatInt(gctx.DatacenterID, 10),
		l1:   NewRingBuffer(cfg.L1Capacity, cfg.FillThreshold),
		l2:   source,
		l3:   l3,
	}
	if cfg.FillThreshold > 0 {
		c.l1.SetRefillHook(c.refillL1)
	}
	return c
}

// GetIDs returns up to n IDs, draining the levels in order. The L2 pull
// over-fetches by the refill batch and banks the surplus in L1, so steady
// traffic is served from the ring buffer. A shortfall is not an error when at
// least one ID was produced; only a fully dry stack propagates the underlying
// failure.
func (c *MultiLevelCache) GetIDs(ctx context.Context, n int) ([]uint64, error) {
	out := c.l1.PopBatch(n)
	if len(out) > 0 {
		c.l1Hits.Add(uint64(len(out)))
	}
	if len(out) == n {
		if c.rec != nil {
			c.rec.recordHit()
		}
		return out, nil
	}
	c.l1Misses.Add(1)
	if c.rec != nil {
		c.rec.recordMiss()
	}

	need := n - len(out)
	got, err := c.l2.ConsumeBatch(ctx, &c.gctx, need+c.cfg.RefillBatch)
	if err == nil && len(got) > 0 {
		serve := got
		if len(serve) > need {
			c.bank(ctx, serve[need:])
			serve = serve[:need]
		}
		c.l2Hits.Add(uint64(len(serve)))
		out = append(out, serve...)
		if len(out) == n {
			return out, nil
		}
		need = n - len(out)
	} else {
		c.l2Misses.Add(1)
	}

	if c.l3 != nil {
		got, l3err := c.l3.Take(ctx, c.key, need)
		if l3err == nil && len(got) > 0 {
			c.l3Hits.Add(uint64(len(got)))
			out = append(out, got...)
		} else {
			c.l3Misses.Add(1)
		}
	}

	if len(out) == 0 {
		if err != nil {
			return nil, err
		}
		return nil, ErrCacheUnavailable
	}
	return out, nil
}

// bank stashes surplus IDs in L1, overflowing into L3 rather than losing
// them.
func (c *MultiLevelCache) bank(ctx context.Context, ids []uint64) {
	pushed := c.l1.PushBatch(ids)
	if rest := ids[pushed:]; len(rest) > 0 && c.l3 != nil {
		_ = c.l3.Put(ctx, c.key, rest, c.cfg.L3TTL)
	}
}

// PutIDs stages pre-generated IDs: into L1 while it has room, the overflow
// into L3.
func (c *MultiLevelCache) PutIDs(ctx context.Context, ids []uint64) error {
	pushed := c.l1.PushBatch(ids)
	rest := ids[pushed:]
	if len(rest) == 0 || c.l3 == nil {
		return nil
	}
	return c.l3.Put(ctx, c.key, rest, c.cfg.L3TTL)
}

// Invalidate drains L1 and drops the L3 key. Discarded IDs leave gaps, which
// the segment design already tolerates.
func (c *MultiLevelCache) Invalidate(ctx context.Context) error {
	for {
		if _, ok := c.l1.Pop(); !ok {
			break
		}
	}
	if c.l3 == nil {
		return nil
	}
	return c.l3.Delete(ctx, c.key)
}

// Stats returns per-level hit and miss counts.
func (c *MultiLevelCache) Stats() CacheStats {
	return CacheStats{
		L1Hits:   c.l1Hits.Load(),
		L1Misses: c.l1Misses.Load(),
		L2Hits:   c.l2Hits.Load(),
		L2Misses: c.l2Misses.Load(),
		L3Hits:   c.l3Hits.Load(),
		L3Misses: c.l3Misses.Load(),
	}
}

// Level1Len returns the current L1 occupancy.
func (c *MultiLevelCache) Level1Len() uint64 {
	return c.l1.Len()
}

// refillL1 runs in the background when L1 drops below its fill threshold,
// topping it back up from L2.
func (c *MultiLevelCache) refillL1() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefillTimeout)
	defer cancel()

	room := int(c.l1.Cap() - c.l1.Len())
	if room <= 0 {
		return
	}
	if room > c.cfg.RefillBatch {
		room = c.cfg.RefillBatch
	}
	ids, err := c.l2.ConsumeBatch(ctx, &c.gctx, room)
	if err != nil {
		return
	}
	pushed := c.l1.PushBatch(ids)
	if rest := ids[pushed:]; len(rest) > 0 && c.l3 != nil {
		// L1 filled up under us; park the surplus in L3 instead of losing it.
		_ = c.l3.Put(ctx, c.key, rest, c.cfg.L3TTL)
	}
}
