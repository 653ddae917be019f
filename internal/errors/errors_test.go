// Package errors tests for error code definitions.
package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

// TestNew verifies AppError creation and formatting.
func TestNew(t *testing.T) {
	err := New(ErrVersionConflict, "version race on append")

	if err.Code != ErrVersionConflict {
		t.Errorf("Code = %s, want %s", err.Code, ErrVersionConflict)
	}
	want := "[VERSION_CONFLICT] version race on append"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

// TestWrap verifies wrapped errors keep the cause in the chain.
func TestWrap(t *testing.T) {
	cause := stderrors.New("database is locked")
	err := Wrap(ErrTransientStore, "append failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected wrapped cause to be found via errors.Is")
	}
	want := "[TRANSIENT_STORE_ERROR] append failed: database is locked"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

// TestIs verifies code matching through wrap chains.
func TestIs(t *testing.T) {
	inner := New(ErrNotFound, "device not found")
	outer := fmt.Errorf("pull failed: %w", inner)

	if !Is(outer, ErrNotFound) {
		t.Error("Is() = false for wrapped NOT_FOUND, want true")
	}
	if Is(outer, ErrSyncConflict) {
		t.Error("Is() = true for wrong code, want false")
	}
	if Is(nil, ErrNotFound) {
		t.Error("Is(nil) = true, want false")
	}
	if Is(stderrors.New("plain"), ErrNotFound) {
		t.Error("Is(plain error) = true, want false")
	}
}

// TestCodeOf verifies code extraction with an internal fallback.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrDeliveryExhausted, "retry ceiling reached")); got != ErrDeliveryExhausted {
		t.Errorf("CodeOf() = %s, want %s", got, ErrDeliveryExhausted)
	}
	wrapped := fmt.Errorf("outer: %w", New(ErrSyncConflict, "stale base"))
	if got := CodeOf(wrapped); got != ErrSyncConflict {
		t.Errorf("CodeOf(wrapped) = %s, want %s", got, ErrSyncConflict)
	}
	if got := CodeOf(stderrors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %s, want %s", got, ErrInternal)
	}
}

// TestNewf verifies formatted message construction.
func TestNewf(t *testing.T) {
	err := Newf(ErrInvalid, "unknown operation %q", "upsert")
	want := `[INVALID_INPUT] unknown operation "upsert"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
