package errors

import (
	stderrors "errors"
	"testing"
)

// TestError_Message tests error string formatting
func TestError_Message(t *testing.T) {
	err := New(ErrCodeQueueFull, "queue is at capacity")
	want := "QUEUE_FULL: queue is at capacity"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(stderrors.New("disk full"), ErrCodeStorageWrite, "blob write failed").
		WithComponent("cache")
	want = "[cache] STORAGE_WRITE: blob write failed: disk full"
	if wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

// TestError_CategoryDerivation tests that categories follow codes
func TestError_CategoryDerivation(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		category ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeStorageWrite, CategoryStorage},
		{ErrCodeChecksum, CategoryStorage},
		{ErrCodeQueueFull, CategoryCapacity},
		{ErrCodeTaskTimeout, CategoryTask},
		{ErrCodeInternalError, CategoryInternal},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").Category; got != tt.category {
			t.Errorf("category for %s = %s, want %s", tt.code, got, tt.category)
		}
	}
}

// TestError_Unwrap tests the cause chain
func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(cause, ErrCodeStorageRead, "read failed")

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is must reach the wrapped cause")
	}
	if stderrors.Unwrap(err) != cause {
		t.Error("Unwrap must return the cause")
	}
}

// TestError_IsMatchesByCode tests that two errors with the same code match
func TestError_IsMatchesByCode(t *testing.T) {
	if !stderrors.Is(New(ErrCodeTaskNotFound, "gone"), ErrTaskNotFound) {
		t.Error("same-code errors must satisfy errors.Is")
	}
	if stderrors.Is(New(ErrCodeTaskNotFound, "gone"), ErrQueueFull) {
		t.Error("different-code errors must not match")
	}
}

// TestIsCode tests code extraction through wrapping
func TestIsCode(t *testing.T) {
	inner := New(ErrCodeChecksum, "checksum mismatch")
	outer := Wrap(inner, ErrCodeStorageRead, "get failed")

	if !IsCode(outer, ErrCodeStorageRead) {
		t.Error("outer code must match")
	}
	if !IsCode(outer, ErrCodeChecksum) {
		t.Error("inner code must match through the chain")
	}
	if IsCode(outer, ErrCodeQueueFull) {
		t.Error("absent code must not match")
	}
	if IsCode(nil, ErrCodeQueueFull) {
		t.Error("nil error must not match any code")
	}
}

// TestError_Context tests component and context annotation
func TestError_Context(t *testing.T) {
	err := New(ErrCodeStorageWrite, "write failed").
		WithComponent("cache").
		WithContext("key", "obj-1")

	if err.Component != "cache" {
		t.Errorf("Component = %q, want cache", err.Component)
	}
	if err.Context["key"] != "obj-1" {
		t.Errorf("Context[key] = %q, want obj-1", err.Context["key"])
	}
}

// TestError_RetryableDefaults tests the retryable classification
func TestError_RetryableDefaults(t *testing.T) {
	if !New(ErrCodeQueueFull, "x").Retryable {
		t.Error("queue full should default retryable")
	}
	if New(ErrCodeChecksum, "x").Retryable {
		t.Error("checksum mismatch should not be retryable")
	}
}
