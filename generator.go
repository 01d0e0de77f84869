// Package nebulaid - generator.go is the tenant-facing entry point. It
// resolves the stream's effective algorithm from the DegradationManager,
// walks the remainder of the chain on failure, and feeds every outcome back
// into the failover state machine. Degraded tiers receive paced canary
// generations so they can earn their way back into rotation.

package nebulaid

import (
	"context"
	"fmt"
)

// Generator issues IDs for tenant streams through the degradation chain.
// Safe for concurrent use.
type Generator struct {
	mgr      *DegradationManager
	dcID     int64
	workerID int64
}

// NewGenerator creates a generator over a manager with registered
// algorithms.
func NewGenerator(mgr *DegradationManager, dcID, workerID int64) *Generator {
	return &Generator{mgr: mgr, dcID: dcID, workerID: workerID}
}

// Generate issues one ID for the (workspace, group, bizTag) stream.
func (g *Generator) Generate(ctx context.Context, workspace, group, bizTag string) (Id, error) {
	return g.GenerateContextual(ctx, &GenerateContext{
		Workspace:    workspace,
		Group:        group,
		BizTag:       bizTag,
		DatacenterID: g.dcID,
		WorkerID:     g.workerID,
	})
}

// GenerateFormatted is Generate with a format template applied to the issued
// ID ("{id}" is the placeholder).
func (g *Generator) GenerateFormatted(ctx context.Context, workspace, group, bizTag, template string) (Id, error) {
	return g.GenerateContextual(ctx, &GenerateContext{
		Workspace:      workspace,
		Group:          group,
		BizTag:         bizTag,
		DatacenterID:   g.dcID,
		WorkerID:       g.workerID,
		FormatTemplate: template,
	})
}

// maybeProbe issues one canary generation against a degraded tier that is
// due for a recovery attempt, feeding the outcome back into the state
// machine. A successful canary's ID is returned so it is not wasted.
func (g *Generator) maybeProbe(ctx context.Context, gctx *GenerateContext) (Id, bool) {
	t, ok := g.mgr.ProbeCandidate(gctx.BizTag)
	if !ok {
		return Id{}, false
	}
	alg, ok := g.mgr.AlgorithmFor(t)
	if !ok {
		return Id{}, false
	}
	id, err := alg.Generate(ctx, gctx)
	g.mgr.RecordResult(gctx.BizTag, t, err == nil)
	return id, err == nil
}

// GenerateContextual issues one ID for a fully specified stream context,
// starting at the stream's effective tier and falling through the chain.
func (g *Generator) GenerateContextual(ctx context.Context, gctx *GenerateContext) (Id, error) {
	if id, ok := g.maybeProbe(ctx, gctx); ok {
		return id, nil
	}

	chain := g.mgr.Chain()
	start := g.mgr.chainIndex(g.mgr.EffectiveAlgorithm(gctx.BizTag))
	if start < 0 {
		start = 0
	}

	var lastErr error
	for _, t := range chain[start:] {
		alg, ok := g.mgr.AlgorithmFor(t)
		if !ok {
			continue
		}
		id, err := alg.Generate(ctx, gctx)
		g.mgr.RecordResult(gctx.BizTag, t, err == nil)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Id{}, ErrContextCanceled
		}
	}

	if lastErr == nil {
		return Id{}, fmt.Errorf("%w: no algorithms registered", ErrAllAlgorithmsFailed)
	}
	return Id{}, fmt.Errorf("%w: last error: %v", ErrAllAlgorithmsFailed, lastErr)
}

// BatchGenerate issues size IDs for the stream, all from the same tier. A
// tier that fails mid-batch forfeits its partial output and the next tier
// produces the whole batch, so callers never see mixed shapes.
func (g *Generator) BatchGenerate(ctx context.Context, workspace, group, bizTag string, size int) ([]Id, error) {
	if size <= 0 {
		return []Id{}, nil
	}
	gctx := &GenerateContext{
		Workspace:    workspace,
		Group:        group,
		BizTag:       bizTag,
		DatacenterID: g.dcID,
		WorkerID:     g.workerID,
	}

	// The canary's single ID leaves a gap, which the numeric algorithms
	// already tolerate.
	g.maybeProbe(ctx, gctx)

	chain := g.mgr.Chain()
	start := g.mgr.chainIndex(g.mgr.EffectiveAlgorithm(bizTag))
	if start < 0 {
		start = 0
	}

	var lastErr error
	for _, t := range chain[start:] {
		alg, ok := g.mgr.AlgorithmFor(t)
		if !ok {
			continue
		}
		ids, err := alg.BatchGenerate(ctx, gctx, size)
		// A short batch forfeits the tier's turn just like an error does.
		g.mgr.RecordResult(bizTag, t, err == nil && len(ids) == size)
		if err == nil && len(ids) == size {
			return ids, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ErrContextCanceled
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("%w: no algorithms registered", ErrAllAlgorithmsFailed)
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrAllAlgorithmsFailed, lastErr)
}

// AlgorithmName returns the name of the tier currently serving the stream.
func (g *Generator) AlgorithmName(bizTag string) string {
	return g.mgr.EffectiveAlgorithm(bizTag).String()
}

// State returns the stream's degradation state.
func (g *Generator) State(bizTag string) DegradationState {
	return g.mgr.StateFor(bizTag)
}

// HealthCheck returns every registered tier's self-reported health.
func (g *Generator) HealthCheck() map[AlgorithmType]HealthStatus {
	out := make(map[AlgorithmType]HealthStatus)
	for _, t := range g.mgr.Chain() {
		if alg, ok := g.mgr.AlgorithmFor(t); ok {
			out[t] = alg.HealthCheck()
		}
	}
	return out
}

// Metrics returns every registered tier's counter snapshot.
func (g *Generator) Metrics() map[AlgorithmType]MetricsSnapshot {
	out := make(map[AlgorithmType]MetricsSnapshot)
	for _, t := range g.mgr.Chain() {
		if alg, ok := g.mgr.AlgorithmFor(t); ok {
			out[t] = alg.Metrics()
		}
	}
	return out
}

// Shutdown stops the manager and every registered algorithm.
func (g *Generator) Shutdown(ctx context.Context) error {
	return g.mgr.Shutdown(ctx)
}
