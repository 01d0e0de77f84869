// Package nebulaid - store.go defines the durable range store contract used
// by the segment algorithm.

package nebulaid

import "context"

// SegmentRange is one stream's allocation record in the durable store.
// Current is the next unissued ID; every successful save advances it by the
// step and bumps the version.
type SegmentRange struct {
	Workspace    string
	BizTag       string
	DatacenterID int64

	// Current is the exclusive upper bound of all ranges handed out so far.
	Current uint64

	// Step is the width of the most recently handed-out range.
	Step uint64

	// Version is the optimistic concurrency marker. Saves must pass the
	// version they read; a mismatch means another node won the range.
	Version uint64
}

// RangeStore persists segment allocation state. Implementations must make
// SaveRange atomic with respect to the version check: two concurrent saves
// against the same version must not both succeed.
type RangeStore interface {
	// LoadRange reads the stream's record, creating it at the datacenter's
	// block start if it does not exist yet.
	LoadRange(ctx context.Context, workspace, bizTag string, dcID int64) (SegmentRange, error)

	// SaveRange writes rng if the stored version still equals expectedVersion,
	// bumping the version. Returns a VersionConflictError (matching
	// ErrVersionConflict) when the check fails.
	SaveRange(ctx context.Context, rng SegmentRange, expectedVersion uint64) error
}

// datacenterBlockBits sizes the disjoint per-datacenter ID blocks: each
// datacenter starts its streams at dcID << 40, so segment IDs from different
// datacenters can never collide even without coordination.
const datacenterBlockBits = 40

// DatacenterBlock returns the first ID of the datacenter's block.
func DatacenterBlock(dcID int64) uint64 {
	return uint64(dcID) << datacenterBlockBits
}
