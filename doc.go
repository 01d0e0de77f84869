// Package nebulaid provides a production-grade distributed unique ID
// generation engine with multiple algorithms and automatic failover.
//
// # Overview
//
// NebulaId issues globally unique, optionally time-ordered identifiers at
// high throughput for multi-tenant applications. Each logical ID stream is
// identified by a (workspace, group, biz_tag) triple and served by one of
// four algorithms, tried in priority order as health conditions change:
//
//   - Segment: contiguous numeric ranges pre-allocated from a durable range
//     store, double-buffered so range exhaustion never stalls the hot path
//   - Snowflake: 64-bit bit-packed IDs (timestamp, datacenter, worker,
//     sequence) with a three-tier clock-backward policy
//   - UUIDv7: time-ordered 128-bit identifiers
//   - UUIDv4: fully random 128-bit identifiers (terminal fallback, never fails)
//
// # Architecture
//
// A generation request enters through the DegradationManager, which routes it
// to the effective algorithm for the stream. Segment requests are served from
// a multi-level cache: an L1 ring buffer of pre-materialized IDs, an L2
// double-buffered segment pair, and an L3 external cache backend. Failures
// are recorded back into the HealthMonitor and DegradationManager, which may
// shift subsequent requests to a lower-priority algorithm and promote back
// once health is restored.
//
// Worker identities are claimed through TTL leases from a coordination
// backend so that no two processes in a datacenter ever share a
// (datacenter_id, worker_id) pair.
//
// # Hot Path
//
// The issuance fast path (segment cursor advance, ring buffer pop, Snowflake
// compose) is synchronous and lock-free, using only atomic read-modify-write
// operations. Range loading, cache backfill, lease renewal, and clock
// catch-up waits run as background goroutines.
//
// # Usage
//
//	cfg := nebulaid.DefaultConfig()
//	mgr := nebulaid.NewDegradationManager(cfg.Degradation)
//
//	sf, err := nebulaid.NewSnowflakeAlgorithm(cfg.Snowflake, 1, 42)
//	if err != nil {
//	    return err
//	}
//	mgr.Register(sf)
//	mgr.Register(nebulaid.NewUuidV7Algorithm())
//	mgr.Register(nebulaid.NewUuidV4Algorithm())
//
//	gen := nebulaid.NewGenerator(mgr, 1, 42)
//	id, err := gen.Generate(ctx, "acme", "orders", "order_id")
package nebulaid
