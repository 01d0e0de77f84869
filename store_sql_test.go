package nebulaid

import (
	"context"
	"errors"
	"testing"
)

func newTestSQLStore(t *testing.T) *SQLRangeStore {
	t.Helper()
	store, err := OpenSQLiteRangeStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteRangeStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestSQLLoadSeedsBlockStart tests first-sight seeding at the datacenter
// block.
func TestSQLLoadSeedsBlockStart(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	rng, err := store.LoadRange(ctx, "ws", "orders", 2)
	if err != nil {
		t.Fatalf("LoadRange() error = %v", err)
	}
	if rng.Current != DatacenterBlock(2) {
		t.Errorf("Current = %d, want block start %d", rng.Current, DatacenterBlock(2))
	}
	if rng.Version != 0 {
		t.Errorf("Version = %d, want 0", rng.Version)
	}
}

// TestSQLSaveLoadRoundTrip tests reservation persistence and version bumps.
func TestSQLSaveLoadRoundTrip(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	rng, err := store.LoadRange(ctx, "ws", "orders", 0)
	if err != nil {
		t.Fatalf("LoadRange() error = %v", err)
	}

	rng.Current += 1000
	rng.Step = 1000
	if err := store.SaveRange(ctx, rng, 0); err != nil {
		t.Fatalf("SaveRange() error = %v", err)
	}

	back, err := store.LoadRange(ctx, "ws", "orders", 0)
	if err != nil {
		t.Fatalf("LoadRange() error = %v", err)
	}
	if back.Current != 1000 || back.Step != 1000 {
		t.Errorf("reloaded range = current %d step %d, want 1000/1000", back.Current, back.Step)
	}
	if back.Version != 1 {
		t.Errorf("Version = %d, want 1 after one save", back.Version)
	}
}

// TestSQLVersionConflict tests that a stale version loses the save.
func TestSQLVersionConflict(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	rng, err := store.LoadRange(ctx, "ws", "orders", 0)
	if err != nil {
		t.Fatalf("LoadRange() error = %v", err)
	}

	// First writer wins.
	first := rng
	first.Current += 100
	if err := store.SaveRange(ctx, first, rng.Version); err != nil {
		t.Fatalf("SaveRange() error = %v", err)
	}

	// Second writer holds the stale version.
	second := rng
	second.Current += 200
	err = store.SaveRange(ctx, second, rng.Version)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("error = %v, want ErrVersionConflict", err)
	}

	var vc *VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatal("error is not a *VersionConflictError")
	}
	if vc.BizTag != "orders" {
		t.Errorf("BizTag = %q, want orders", vc.BizTag)
	}
}

// TestSQLStreamsIndependent tests per-stream and per-datacenter rows.
func TestSQLStreamsIndependent(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	a, err := store.LoadRange(ctx, "ws", "orders", 0)
	if err != nil {
		t.Fatalf("LoadRange() error = %v", err)
	}
	a.Current += 500
	if err := store.SaveRange(ctx, a, 0); err != nil {
		t.Fatalf("SaveRange() error = %v", err)
	}

	b, err := store.LoadRange(ctx, "ws", "users", 0)
	if err != nil {
		t.Fatalf("LoadRange() error = %v", err)
	}
	if b.Current != 0 {
		t.Errorf("users stream Current = %d, want untouched 0", b.Current)
	}

	c, err := store.LoadRange(ctx, "ws", "orders", 1)
	if err != nil {
		t.Fatalf("LoadRange() error = %v", err)
	}
	if c.Current != DatacenterBlock(1) {
		t.Errorf("dc1 Current = %d, want its own block %d", c.Current, DatacenterBlock(1))
	}
}
