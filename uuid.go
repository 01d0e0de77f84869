// Package nebulaid - uuid.go provides the UUID fallback tiers of the
// degradation chain.
//
// UUIDv7 keeps rough time-ordering (millisecond timestamp prefix) when the
// coordinated algorithms are down; UUIDv4 is the tier of last resort and
// needs nothing but entropy. Neither coordinates with anything, so both stay
// available through any backend outage.

package nebulaid

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UuidV7Algorithm generates time-ordered UUIDs.
type UuidV7Algorithm struct {
	metrics *metricsRecorder
}

// NewUuidV7Algorithm creates the UUIDv7 generator.
func NewUuidV7Algorithm() *UuidV7Algorithm {
	return &UuidV7Algorithm{metrics: newMetricsRecorder()}
}

// Generate issues one UUIDv7. Falls back to v4 if the v7 clock sequence
// cannot be obtained, so this tier never fails.
func (a *UuidV7Algorithm) Generate(ctx context.Context, gctx *GenerateContext) (Id, error) {
	start := time.Now()
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	a.metrics.recordSuccess(time.Since(start))
	return gctx.Render(UuidId([16]byte(u))), nil
}

// BatchGenerate issues size UUIDv7 values.
func (a *UuidV7Algorithm) BatchGenerate(ctx context.Context, gctx *GenerateContext, size int) ([]Id, error) {
	ids := make([]Id, 0, size)
	for i := 0; i < size; i++ {
		id, err := a.Generate(ctx, gctx)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// HealthCheck implements IdAlgorithm. Entropy is always available.
func (a *UuidV7Algorithm) HealthCheck() HealthStatus {
	return HealthyStatus()
}

// Metrics returns a snapshot of the generator's counters.
func (a *UuidV7Algorithm) Metrics() MetricsSnapshot {
	return a.metrics.snapshot()
}

// Type implements IdAlgorithm.
func (a *UuidV7Algorithm) Type() AlgorithmType {
	return AlgorithmUuidV7
}

// Initialize implements IdAlgorithm.
func (a *UuidV7Algorithm) Initialize(cfg *Config) error { return nil }

// Shutdown implements IdAlgorithm.
func (a *UuidV7Algorithm) Shutdown(ctx context.Context) error { return nil }

// UuidV4Algorithm generates random UUIDs. The last tier of the chain.
type UuidV4Algorithm struct {
	metrics *metricsRecorder
}

// NewUuidV4Algorithm creates the UUIDv4 generator.
func NewUuidV4Algorithm() *UuidV4Algorithm {
	return &UuidV4Algorithm{metrics: newMetricsRecorder()}
}

// Generate issues one UUIDv4.
func (a *UuidV4Algorithm) Generate(ctx context.Context, gctx *GenerateContext) (Id, error) {
	start := time.Now()
	u := uuid.New()
	a.metrics.recordSuccess(time.Since(start))
	return gctx.Render(UuidId([16]byte(u))), nil
}

// BatchGenerate issues size UUIDv4 values.
func (a *UuidV4Algorithm) BatchGenerate(ctx context.Context, gctx *GenerateContext, size int) ([]Id, error) {
	ids := make([]Id, 0, size)
	for i := 0; i < size; i++ {
		id, err := a.Generate(ctx, gctx)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// HealthCheck implements IdAlgorithm.
func (a *UuidV4Algorithm) HealthCheck() HealthStatus {
	return HealthyStatus()
}

// Metrics returns a snapshot of the generator's counters.
func (a *UuidV4Algorithm) Metrics() MetricsSnapshot {
	return a.metrics.snapshot()
}

// Type implements IdAlgorithm.
func (a *UuidV4Algorithm) Type() AlgorithmType {
	return AlgorithmUuidV4
}

// Initialize implements IdAlgorithm.
func (a *UuidV4Algorithm) Initialize(cfg *Config) error { return nil }

// Shutdown implements IdAlgorithm.
func (a *UuidV4Algorithm) Shutdown(ctx context.Context) error { return nil }
