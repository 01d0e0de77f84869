// Package nebulaid - config.go holds the engine configuration.
//
// Zero values mean "use the default": every sub-config fills its own gaps in
// applyDefaults, so callers only set what they want to change. Validate
// returns a ConfigError naming the first offending field.

package nebulaid

import (
	"fmt"
	"time"
)

// DefaultEpoch is 2024-01-01T00:00:00Z in milliseconds, the start of the
// Snowflake timestamp space.
const DefaultEpoch int64 = 1704067200000

// Config is the full engine configuration.
type Config struct {
	// DatacenterID identifies this deployment's datacenter.
	DatacenterID int64

	// WorkerID identifies this node within the datacenter. Leave at -1 to
	// have the WorkerIDAllocator claim one dynamically.
	WorkerID int64

	Segment     SegmentConfig
	Snowflake   SnowflakeConfig
	Cache       CacheConfig
	Degradation DegradationConfig
	WorkerLease WorkerLeaseConfig
}

// SegmentConfig tunes the segment algorithm.
type SegmentConfig struct {
	// BaseStep is the baseline segment width the dynamic step scales from.
	BaseStep uint64

	// MinStep and MaxStep clamp the dynamic step. Defaults: BaseStep/2 and
	// BaseStep*100.
	MinStep uint64
	MaxStep uint64

	// SwitchThreshold is the remaining fraction of the active segment below
	// which the standby preload starts. Default 0.1.
	SwitchThreshold float64

	// VelocityFactor weights consumption velocity in the step formula.
	// Default 0.5.
	VelocityFactor float64

	// PressureFactor weights CPU pressure in the step formula. Default 0.3.
	PressureFactor float64

	// MaxRetries bounds range-store retries per load. Default 3.
	MaxRetries int

	// RetryBackoff is the base delay between retries, scaled linearly by the
	// attempt number. Default 50ms.
	RetryBackoff time.Duration

	// LoadTimeout bounds one background preload. Default 5s.
	LoadTimeout time.Duration

	// FailoverDatacenters lists the datacenter blocks a load may reroute to
	// when the stream's own block keeps failing, in preference order. Empty
	// disables datacenter failover.
	FailoverDatacenters []int64
}

func (c *SegmentConfig) applyDefaults() {
	if c.BaseStep == 0 {
		c.BaseStep = 1000
	}
	if c.MinStep == 0 {
		c.MinStep = c.BaseStep / 2
	}
	if c.MaxStep == 0 {
		c.MaxStep = c.BaseStep * 100
	}
	if c.SwitchThreshold == 0 {
		c.SwitchThreshold = 0.1
	}
	if c.VelocityFactor == 0 {
		c.VelocityFactor = 0.5
	}
	if c.PressureFactor == 0 {
		c.PressureFactor = 0.3
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	if c.LoadTimeout == 0 {
		c.LoadTimeout = 5 * time.Second
	}
}

// SnowflakeConfig tunes the Snowflake algorithm.
type SnowflakeConfig struct {
	// Epoch is the custom epoch in milliseconds. Default DefaultEpoch.
	Epoch int64

	// Layout is the bit allocation. Default LayoutDefault.
	Layout Layout

	// SmallDriftMax is the largest backward drift absorbed by waiting for the
	// clock. Default 5ms.
	SmallDriftMax time.Duration

	// LargeDriftMax is the largest backward drift absorbed by the logical
	// clock; beyond it generation fails with a ClockError. Default 1s.
	LargeDriftMax time.Duration

	// FailOnSequenceOverflow makes sequence exhaustion within one millisecond
	// return ErrSequenceOverflow instead of waiting for the next tick.
	FailOnSequenceOverflow bool

	// Clock supplies the wall time. Default is the system clock; tests inject
	// their own to simulate regression.
	Clock Clock
}

func (c *SnowflakeConfig) applyDefaults() {
	if c.Epoch == 0 {
		c.Epoch = DefaultEpoch
	}
	if c.Layout.isZero() {
		c.Layout = LayoutDefault
	}
	if c.SmallDriftMax == 0 {
		c.SmallDriftMax = 5 * time.Millisecond
	}
	if c.LargeDriftMax == 0 {
		c.LargeDriftMax = time.Second
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
}

// CacheConfig tunes the multi-level ID cache.
type CacheConfig struct {
	// L1Capacity is the ring buffer size, rounded up to a power of two.
	// Default 1Mi IDs.
	L1Capacity int

	// FillThreshold is the L1 occupancy below which a background refill
	// starts. Zero leaves background refills off; the miss-path over-fetch
	// still keeps L1 warm.
	FillThreshold uint64

	// RefillBatch caps how many IDs one refill (background or miss-path
	// over-fetch) pulls from L2. Default 4096.
	RefillBatch int

	// RefillTimeout bounds one background refill. Default 2s.
	RefillTimeout time.Duration

	// L3TTL is the expiry on L3 keys, bounding how long parked IDs survive a
	// process that never returns for them. Default 10m.
	L3TTL time.Duration
}

func (c *CacheConfig) applyDefaults() {
	if c.L1Capacity == 0 {
		c.L1Capacity = 1 << 20
	}
	if c.RefillBatch == 0 {
		c.RefillBatch = 4096
	}
	if c.RefillTimeout == 0 {
		c.RefillTimeout = 2 * time.Second
	}
	if c.L3TTL == 0 {
		c.L3TTL = 10 * time.Minute
	}
}

// DegradationConfig tunes the failover state machine.
type DegradationConfig struct {
	// FailureThreshold is the consecutive-failure count that degrades an
	// algorithm for a stream. Default 3.
	FailureThreshold int

	// RecoveryThreshold is the consecutive-success count that promotes a
	// degraded algorithm back. Default 5.
	RecoveryThreshold int

	// DisableAutoRecovery keeps degraded algorithms down until a manual
	// recover.
	DisableAutoRecovery bool

	// Chain is the priority order. Default Segment, Snowflake, UUIDv7,
	// UUIDv4. The last entry must be a tier that cannot fail.
	Chain []AlgorithmType

	// ProbeInterval paces the background health probe. Default 10s.
	ProbeInterval time.Duration
}

func (c *DegradationConfig) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryThreshold == 0 {
		c.RecoveryThreshold = 5
	}
	if len(c.Chain) == 0 {
		c.Chain = []AlgorithmType{AlgorithmSegment, AlgorithmSnowflake, AlgorithmUuidV7, AlgorithmUuidV4}
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 10 * time.Second
	}
}

// WorkerLeaseConfig tunes dynamic worker-ID allocation.
type WorkerLeaseConfig struct {
	// TTL is the lease lifetime; renewal runs at TTL/3. Default 30s.
	TTL time.Duration

	// MaxWorkers is the number of slots per datacenter. Default 256,
	// matching the default layout's worker field.
	MaxWorkers int64

	// KeyPrefix namespaces the slot keys in the coordination backend.
	// Default "nebula/workers".
	KeyPrefix string
}

func (c *WorkerLeaseConfig) applyDefaults() {
	if c.TTL == 0 {
		c.TTL = 30 * time.Second
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = 256
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "nebula/workers"
	}
}

// DefaultConfig returns a fully defaulted configuration for datacenter 0,
// worker 0.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	c.Segment.applyDefaults()
	c.Snowflake.applyDefaults()
	c.Cache.applyDefaults()
	c.Degradation.applyDefaults()
	c.WorkerLease.applyDefaults()
}

// Validate applies defaults and checks cross-field constraints.
func (c *Config) Validate() error {
	c.applyDefaults()

	if err := c.Snowflake.Layout.Validate(); err != nil {
		return err
	}
	if c.DatacenterID < 0 || c.DatacenterID > c.Snowflake.Layout.MaxDatacenterID() {
		return newConfigError("DatacenterID", fmt.Sprintf("%d", c.DatacenterID),
			"out of valid range for layout",
			fmt.Sprintf("0 to %d", c.Snowflake.Layout.MaxDatacenterID()))
	}
	if c.WorkerID > c.Snowflake.Layout.MaxWorkerID() {
		return newConfigError("WorkerID", fmt.Sprintf("%d", c.WorkerID),
			"out of valid range for layout",
			fmt.Sprintf("-1 (dynamic) or 0 to %d", c.Snowflake.Layout.MaxWorkerID()))
	}
	if c.Segment.MinStep > c.Segment.MaxStep {
		return newConfigError("Segment.MinStep", fmt.Sprintf("%d", c.Segment.MinStep),
			"exceeds MaxStep", fmt.Sprintf("<= %d", c.Segment.MaxStep))
	}
	if c.Segment.SwitchThreshold <= 0 || c.Segment.SwitchThreshold >= 1 {
		return newConfigError("Segment.SwitchThreshold", fmt.Sprintf("%g", c.Segment.SwitchThreshold),
			"out of range", "0 < threshold < 1")
	}
	if last := c.Degradation.Chain[len(c.Degradation.Chain)-1]; last != AlgorithmUuidV4 {
		return newConfigError("Degradation.Chain", last.String(),
			"chain must end in a tier that cannot fail", "uuid_v4 as the last entry")
	}
	if c.WorkerLease.MaxWorkers < 1 {
		return newConfigError("WorkerLease.MaxWorkers", fmt.Sprintf("%d", c.WorkerLease.MaxWorkers),
			"must be positive", ">= 1")
	}
	return nil
}
