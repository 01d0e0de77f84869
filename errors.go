// Package nebulaid - errors.go provides the error taxonomy with rich context.
//
// Sentinel errors support errors.Is checks across the failover machinery;
// the structured error types carry the details needed for debugging and
// monitoring (drift amounts, stream identity, version markers).

package nebulaid

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by the ID generation engine.
var (
	// ErrClockMovedBack is returned when wall-clock regression exceeds the
	// severe drift threshold. Smaller regressions are recovered internally
	// by waiting or by logical-clock substitution.
	ErrClockMovedBack = errors.New("clock moved backwards")

	// ErrSequenceOverflow is returned when more IDs are requested within one
	// time unit than the sequence field can hold and the generator is
	// configured to fail instead of waiting for the next tick.
	ErrSequenceOverflow = errors.New("sequence overflow")

	// ErrSegmentExhausted is returned when both the current and the preloaded
	// segment are exhausted and no replacement range could be obtained.
	ErrSegmentExhausted = errors.New("segment exhausted")

	// ErrRangeStoreUnavailable is returned when the durable range store
	// cannot serve a load or save after retries.
	ErrRangeStoreUnavailable = errors.New("range store unavailable")

	// ErrVersionConflict is returned when an optimistic range save lost the
	// race against a concurrent writer. Callers retry with a fresh read.
	ErrVersionConflict = errors.New("range version conflict")

	// ErrCoordinatorUnavailable is returned when the lease coordination
	// backend cannot be reached.
	ErrCoordinatorUnavailable = errors.New("coordination backend unavailable")

	// ErrNoAvailableWorkerID is returned when every worker slot in the
	// datacenter is already leased by another process.
	ErrNoAvailableWorkerID = errors.New("no available worker ID")

	// ErrCacheUnavailable is returned when the external cache backend fails.
	ErrCacheUnavailable = errors.New("cache backend unavailable")

	// ErrAllAlgorithmsFailed is returned when the entire fallback chain has
	// been exhausted. In practice UUIDv4 never fails, so seeing this error
	// indicates a misconfigured chain.
	ErrAllAlgorithmsFailed = errors.New("all algorithms failed")

	// ErrContextCanceled is returned when the context is canceled during ID
	// generation (e.g. while parked on a clock catch-up wait).
	ErrContextCanceled = errors.New("context canceled")

	// ErrInvalidConfig is returned when Config validation fails.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ClockError captures the exact timing details when a severe clock regression
// is detected, making it easier to debug NTP issues or VM migrations.
//
// Example usage:
//
//	if _, err := gen.Generate(ctx, gctx); err != nil {
//	    var clockErr *nebulaid.ClockError
//	    if errors.As(err, &clockErr) {
//	        log.Printf("clock drift %dms on dc=%d worker=%d",
//	            clockErr.DriftMilliseconds, clockErr.DatacenterID, clockErr.WorkerID)
//	    }
//	}
type ClockError struct {
	// CurrentTimestamp is the wall-clock timestamp observed, in milliseconds.
	CurrentTimestamp int64

	// LastTimestamp is the last timestamp an ID was issued for.
	LastTimestamp int64

	// DriftMilliseconds is the amount of backward drift (always positive).
	DriftMilliseconds int64

	// DriftToleranceMilliseconds is the maximum drift the logical clock absorbs.
	DriftToleranceMilliseconds int64

	// DatacenterID and WorkerID identify the generator that hit the error.
	DatacenterID int64
	WorkerID     int64
}

// Error implements the error interface.
func (e *ClockError) Error() string {
	return fmt.Sprintf("clock moved backwards: drift=%dms tolerance=%dms current=%d last=%d dc=%d worker=%d",
		e.DriftMilliseconds, e.DriftToleranceMilliseconds,
		e.CurrentTimestamp, e.LastTimestamp, e.DatacenterID, e.WorkerID)
}

// Unwrap returns the underlying sentinel for errors.Is compatibility.
func (e *ClockError) Unwrap() error {
	return ErrClockMovedBack
}

// DriftDuration returns the drift amount as a time.Duration.
func (e *ClockError) DriftDuration() time.Duration {
	return time.Duration(e.DriftMilliseconds) * time.Millisecond
}

func newClockError(current, last, toleranceMs, dcID, workerID int64) *ClockError {
	return &ClockError{
		CurrentTimestamp:           current,
		LastTimestamp:              last,
		DriftMilliseconds:          last - current,
		DriftToleranceMilliseconds: toleranceMs,
		DatacenterID:               dcID,
		WorkerID:                   workerID,
	}
}

// VersionConflictError reports an optimistic-concurrency failure while saving
// a segment range. It is retryable: reload the range and try again.
type VersionConflictError struct {
	Workspace       string
	BizTag          string
	DatacenterID    int64
	ExpectedVersion uint64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("range version conflict: workspace=%s biz_tag=%s dc=%d expected_version=%d",
		e.Workspace, e.BizTag, e.DatacenterID, e.ExpectedVersion)
}

// Unwrap returns the underlying sentinel for errors.Is compatibility.
func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}

// SegmentError reports segment exhaustion with the stream identity and the
// highest value the exhausted range could have issued.
type SegmentError struct {
	Workspace string
	BizTag    string
	MaxID     uint64
}

// Error implements the error interface.
func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment exhausted: workspace=%s biz_tag=%s max_id=%d",
		e.Workspace, e.BizTag, e.MaxID)
}

// Unwrap returns the underlying sentinel for errors.Is compatibility.
func (e *SegmentError) Unwrap() error {
	return ErrSegmentExhausted
}

// ConfigError provides details about which configuration field failed
// validation and why.
type ConfigError struct {
	// Field is the name of the configuration field that failed validation.
	Field string

	// Value is the invalid value (as string for logging).
	Value string

	// Reason is a human-readable explanation of why the value is invalid.
	Reason string

	// Expected describes the valid range or format.
	Expected string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: field=%s value=%s reason=%s (expected: %s)",
		e.Field, e.Value, e.Reason, e.Expected)
}

// Unwrap returns the underlying sentinel for errors.Is compatibility.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

func newConfigError(field, value, reason, expected string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason, Expected: expected}
}
