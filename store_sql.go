// Package nebulaid - store_sql.go implements RangeStore over database/sql.
//
// Optimistic concurrency rides on a plain conditional UPDATE: the save only
// succeeds when the stored version still matches the one the caller read, so
// two nodes reserving the same range can never both win. This works on any
// SQL engine with atomic single-row updates; the bundled driver is SQLite.

package nebulaid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const rangeTableSchema = `
CREATE TABLE IF NOT EXISTS nebula_segments (
    workspace  TEXT    NOT NULL,
    biz_tag    TEXT    NOT NULL,
    dc_id      INTEGER NOT NULL,
    current_id INTEGER NOT NULL,
    step       INTEGER NOT NULL,
    version    INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (workspace, biz_tag, dc_id)
)`

// SQLRangeStore persists segment ranges in a SQL database.
type SQLRangeStore struct {
	db *sql.DB
}

// NewSQLRangeStore wraps an existing database handle and ensures the schema
// exists.
func NewSQLRangeStore(ctx context.Context, db *sql.DB) (*SQLRangeStore, error) {
	if _, err := db.ExecContext(ctx, rangeTableSchema); err != nil {
		return nil, fmt.Errorf("%w: create schema: %v", ErrRangeStoreUnavailable, err)
	}
	return &SQLRangeStore{db: db}, nil
}

// OpenSQLiteRangeStore opens (or creates) a SQLite-backed range store at the
// given path. Use ":memory:" for tests.
func OpenSQLiteRangeStore(ctx context.Context, path string) (*SQLRangeStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrRangeStoreUnavailable, path, err)
	}
	store, err := NewSQLRangeStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// LoadRange implements RangeStore. A missing stream is created at its
// datacenter block start, so two datacenters sharing one database still issue
// from disjoint ID spaces.
func (s *SQLRangeStore) LoadRange(ctx context.Context, workspace, bizTag string, dcID int64) (SegmentRange, error) {
	rng := SegmentRange{Workspace: workspace, BizTag: bizTag, DatacenterID: dcID}

	for attempt := 0; attempt < 2; attempt++ {
		err := s.db.QueryRowContext(ctx,
			`SELECT current_id, step, version FROM nebula_segments
			 WHERE workspace = ? AND biz_tag = ? AND dc_id = ?`,
			workspace, bizTag, dcID,
		).Scan(&rng.Current, &rng.Step, &rng.Version)
		if err == nil {
			return rng, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return SegmentRange{}, fmt.Errorf("%w: load %s/%s/%d: %v",
				ErrRangeStoreUnavailable, workspace, bizTag, dcID, err)
		}

		// First sight of this stream: seed it. A concurrent seeder losing
		// here just falls back to the select on the next pass.
		_, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO nebula_segments
			 (workspace, biz_tag, dc_id, current_id, step, version)
			 VALUES (?, ?, ?, ?, 0, 0)`,
			workspace, bizTag, dcID, DatacenterBlock(dcID))
		if err != nil {
			return SegmentRange{}, fmt.Errorf("%w: seed %s/%s/%d: %v",
				ErrRangeStoreUnavailable, workspace, bizTag, dcID, err)
		}
	}

	return SegmentRange{}, fmt.Errorf("%w: load %s/%s/%d: row vanished after seed",
		ErrRangeStoreUnavailable, workspace, bizTag, dcID)
}

// SaveRange implements RangeStore with a version-guarded UPDATE.
func (s *SQLRangeStore) SaveRange(ctx context.Context, rng SegmentRange, expectedVersion uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nebula_segments
		 SET current_id = ?, step = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE workspace = ? AND biz_tag = ? AND dc_id = ? AND version = ?`,
		rng.Current, rng.Step,
		rng.Workspace, rng.BizTag, rng.DatacenterID, expectedVersion)
	if err != nil {
		return fmt.Errorf("%w: save %s/%s/%d: %v",
			ErrRangeStoreUnavailable, rng.Workspace, rng.BizTag, rng.DatacenterID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: save %s/%s/%d: %v",
			ErrRangeStoreUnavailable, rng.Workspace, rng.BizTag, rng.DatacenterID, err)
	}
	if n == 0 {
		return &VersionConflictError{
			Workspace:       rng.Workspace,
			BizTag:          rng.BizTag,
			DatacenterID:    rng.DatacenterID,
			ExpectedVersion: expectedVersion,
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLRangeStore) Close() error {
	return s.db.Close()
}
