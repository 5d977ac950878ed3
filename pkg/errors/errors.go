// Package errors provides the structured error system for tierq with error
// codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for tierq operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Cache storage errors
	ErrCodeStorageWrite  ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageRead   ErrorCode = "STORAGE_READ"
	ErrCodeChecksum      ErrorCode = "CHECKSUM_MISMATCH"
	ErrCodeSerialization ErrorCode = "SERIALIZATION"
	ErrCodeCompression   ErrorCode = "COMPRESSION"

	// Capacity errors
	ErrCodeQueueFull  ErrorCode = "QUEUE_FULL"
	ErrCodeWorkerBusy ErrorCode = "WORKER_BUSY"
	ErrCodeCacheFull  ErrorCode = "CACHE_FULL"

	// Task errors
	ErrCodeTaskNotFound  ErrorCode = "TASK_NOT_FOUND"
	ErrCodeTaskFailed    ErrorCode = "TASK_FAILED"
	ErrCodeTaskCancelled ErrorCode = "TASK_CANCELLED"
	ErrCodeTaskTimeout   ErrorCode = "TASK_TIMEOUT"
	ErrCodeAwaitTimeout  ErrorCode = "AWAIT_TIMEOUT"
	ErrCodeDependency    ErrorCode = "DEPENDENCY_FAILED"

	// Internal errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
	ErrCodeShutdown       ErrorCode = "SHUTDOWN_IN_PROGRESS"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryCapacity      ErrorCategory = "capacity"
	CategoryTask          ErrorCategory = "task"
	CategoryInternal      ErrorCategory = "internal"
)

// Error represents a structured tierq error with context and metadata.
type Error struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Component string            `json:"component,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		msg = fmt.Sprintf("[%s] %s", e.Component, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on error code so sentinel comparisons work across wrapping.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// New creates a structured error with category and retryability derived
// from the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a structured error around a cause.
func Wrap(cause error, code ErrorCode, message string) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithComponent tags the error with the component that produced it.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithContext attaches a key/value pair to the error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if te, ok := err.(*Error); ok && te.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func categoryOf(code ErrorCode) ErrorCategory {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "INVALID_CONFIG") || strings.HasPrefix(s, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(s, "STORAGE_") || s == "CHECKSUM_MISMATCH" ||
		s == "SERIALIZATION" || s == "COMPRESSION":
		return CategoryStorage
	case s == "QUEUE_FULL" || s == "WORKER_BUSY" || s == "CACHE_FULL":
		return CategoryCapacity
	case strings.HasPrefix(s, "TASK_") || s == "AWAIT_TIMEOUT" || s == "DEPENDENCY_FAILED":
		return CategoryTask
	default:
		return CategoryInternal
	}
}

func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeQueueFull, ErrCodeWorkerBusy, ErrCodeTaskTimeout, ErrCodeStorageWrite:
		return true
	default:
		return false
	}
}

// Sentinels for the outcomes that cross the engine boundary. Callers compare
// with errors.Is.
var (
	ErrQueueFull     = New(ErrCodeQueueFull, "task queue is full")
	ErrTaskNotFound  = New(ErrCodeTaskNotFound, "task not found")
	ErrTaskFailed    = New(ErrCodeTaskFailed, "task failed")
	ErrTaskCancelled = New(ErrCodeTaskCancelled, "task cancelled")
	ErrTaskTimeout   = New(ErrCodeTaskTimeout, "task execution timed out")
	ErrAwaitTimeout  = New(ErrCodeAwaitTimeout, "timed out waiting for task result")
)
