// Package nebulaid - algorithm.go defines the capability interface every ID
// algorithm implements and the request context that identifies a stream.

package nebulaid

import (
	"context"
	"strings"
)

// AlgorithmType identifies one entry of the fallback chain.
type AlgorithmType uint8

// Algorithm identifiers, in default priority order.
const (
	AlgorithmSegment AlgorithmType = iota
	AlgorithmSnowflake
	AlgorithmUuidV7
	AlgorithmUuidV4
)

// String returns the algorithm name.
func (t AlgorithmType) String() string {
	switch t {
	case AlgorithmSegment:
		return "segment"
	case AlgorithmSnowflake:
		return "snowflake"
	case AlgorithmUuidV7:
		return "uuid_v7"
	case AlgorithmUuidV4:
		return "uuid_v4"
	default:
		return "unknown"
	}
}

// HealthState classifies an algorithm's self-reported health.
type HealthState uint8

// Health states.
const (
	StateHealthy HealthState = iota
	StateDegradedHealth
	StateUnhealthy
)

// HealthStatus is an algorithm's self-reported health with an optional
// human-readable reason.
type HealthStatus struct {
	State  HealthState
	Reason string
}

// Healthy reports whether the status is fully healthy.
func (s HealthStatus) Healthy() bool {
	return s.State == StateHealthy
}

// HealthyStatus returns a fully healthy status.
func HealthyStatus() HealthStatus {
	return HealthStatus{State: StateHealthy}
}

// DegradedStatus returns a degraded status with a reason.
func DegradedStatus(reason string) HealthStatus {
	return HealthStatus{State: StateDegradedHealth, Reason: reason}
}

// UnhealthyStatus returns an unhealthy status with a reason.
func UnhealthyStatus(reason string) HealthStatus {
	return HealthStatus{State: StateUnhealthy, Reason: reason}
}

// GenerateContext identifies the logical ID stream a request targets and the
// parameters the selected algorithm needs. It is created per request and
// never persisted.
type GenerateContext struct {
	// Workspace, Group and BizTag identify the tenant stream.
	Workspace string
	Group     string
	BizTag    string

	// DatacenterID and WorkerID select the Snowflake partition and the
	// per-datacenter segment block.
	DatacenterID int64
	WorkerID     int64

	// FormatTemplate, when non-empty, renders the issued ID through a
	// template. The "{id}" placeholder is replaced with the raw ID.
	FormatTemplate string
}

// StreamKey returns the cache/buffer key for this stream.
func (g *GenerateContext) StreamKey() string {
	return g.Workspace + ":" + g.Group + ":" + g.BizTag
}

// Render applies the format template to an issued ID. Without a template the
// ID passes through unchanged.
func (g *GenerateContext) Render(id Id) Id {
	if g.FormatTemplate == "" {
		return id
	}
	return FormattedId(strings.ReplaceAll(g.FormatTemplate, "{id}", id.String()))
}

// IdAlgorithm is the capability interface the DegradationManager dispatches
// through. Implementations: SegmentAlgorithm, SnowflakeAlgorithm,
// UuidV7Algorithm, UuidV4Algorithm.
type IdAlgorithm interface {
	// Generate issues one ID for the stream described by gctx.
	Generate(ctx context.Context, gctx *GenerateContext) (Id, error)

	// BatchGenerate issues exactly size IDs or returns an error. Segment and
	// Snowflake batches are strictly increasing.
	BatchGenerate(ctx context.Context, gctx *GenerateContext, size int) ([]Id, error)

	// HealthCheck reports the algorithm's own health. It performs no I/O.
	HealthCheck() HealthStatus

	// Metrics returns a consistent snapshot of the algorithm's counters.
	Metrics() MetricsSnapshot

	// Type returns the chain identifier of this algorithm.
	Type() AlgorithmType

	// Initialize applies configuration and starts background tasks.
	Initialize(cfg *Config) error

	// Shutdown stops background tasks, bounded by ctx.
	Shutdown(ctx context.Context) error
}
