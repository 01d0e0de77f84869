package nebulaid

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// TestClockErrorDetails tests the structured clock error.
func TestClockErrorDetails(t *testing.T) {
	err := newClockError(1000, 3500, 1000, 2, 42)

	if !errors.Is(err, ErrClockMovedBack) {
		t.Error("ClockError does not match ErrClockMovedBack")
	}
	if err.DriftMilliseconds != 2500 {
		t.Errorf("DriftMilliseconds = %d, want 2500", err.DriftMilliseconds)
	}
	if err.DriftDuration() != 2500*time.Millisecond {
		t.Errorf("DriftDuration() = %v, want 2.5s", err.DriftDuration())
	}
	for _, want := range []string{"drift=2500ms", "dc=2", "worker=42"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error() = %q, missing %q", err.Error(), want)
		}
	}
}

// TestErrorSentinelMatching tests errors.Is through wrapping.
func TestErrorSentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"version conflict", &VersionConflictError{BizTag: "orders"}, ErrVersionConflict},
		{"segment exhausted", &SegmentError{BizTag: "orders"}, ErrSegmentExhausted},
		{"config", newConfigError("Field", "v", "bad", "good"), ErrInvalidConfig},
		{"wrapped store", fmt.Errorf("%w: dial tcp", ErrRangeStoreUnavailable), ErrRangeStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, sentinel) = false", tt.err)
			}
			// Double wrapping must still match.
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(wrapped %v, sentinel) = false", wrapped)
			}
		})
	}
}

// TestErrorsAs tests extraction of the structured types.
func TestErrorsAs(t *testing.T) {
	var vc *VersionConflictError
	err := fmt.Errorf("save failed: %w", &VersionConflictError{
		Workspace: "ws", BizTag: "orders", ExpectedVersion: 7,
	})
	if !errors.As(err, &vc) {
		t.Fatal("errors.As failed for VersionConflictError")
	}
	if vc.ExpectedVersion != 7 {
		t.Errorf("ExpectedVersion = %d, want 7", vc.ExpectedVersion)
	}

	var ce *ConfigError
	if !errors.As(newConfigError("Epoch", "0", "must be positive", "> 0"), &ce) {
		t.Fatal("errors.As failed for ConfigError")
	}
	if ce.Field != "Epoch" {
		t.Errorf("Field = %q, want Epoch", ce.Field)
	}
}
