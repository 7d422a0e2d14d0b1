// Package errors provides custom error types for the duress engine.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure      ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure      ErrorCode = "STORAGE_FAILURE"
	ErrCodePreconditionFailure ErrorCode = "PRECONDITION_FAILURE"
	ErrCodeValidationFailure   ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the type of engine operation
type Operation string

const (
	OpRaise  Operation = "raise"
	OpCancel Operation = "cancel"
	OpSync   Operation = "sync"
	OpStore  Operation = "store"
	OpLoad   Operation = "load"
	OpRemove Operation = "remove"
	OpFetch  Operation = "fetch"
	OpProbe  Operation = "probe"
	OpClose  Operation = "close"
)

// Precondition sentinels. These are raised before any side effect happens and
// are surfaced directly to the caller, never retried.
var (
	// ErrNoUserLocation is returned when an incident is raised offline but the
	// user's location assignment is unknown.
	ErrNoUserLocation = errors.New("user location not available")

	// ErrNoOpenIncident is returned when a cancel finds no open incident.
	ErrNoOpenIncident = errors.New("no open incident found")

	// ErrNoAccessToken is returned when an online operation has no bearer
	// token to authorize with.
	ErrNoAccessToken = errors.New("no access token available")

	// ErrEmptyReason is returned when a cancellation carries no reason.
	ErrEmptyReason = errors.New("cancellation reason is required")
)

// Error represents an error that occurred in the duress engine.
type Error struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "pending", "transport")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *Error) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage-related Error
func NewStorageError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "storage",
		Err:       cause,
		Retryable: true,
	}
}

// NewNetworkError creates a new network-related Error
func NewNetworkError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewPreconditionError wraps a precondition sentinel with operation context.
func NewPreconditionError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodePreconditionFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewValidationError creates a new validation-related Error
func NewValidationError(op Operation, cause error) *Error {
	return &Error{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new Error
func New(op Operation, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new Error with component information
func NewWithComponent(op Operation, component string, err error) *Error {
	return &Error{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable Error
func NewRetryable(op Operation, err error) *Error {
	return &Error{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable Error
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsPrecondition reports whether err is (or wraps) a precondition failure.
func IsPrecondition(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.Code == ErrCodePreconditionFailure {
		return true
	}
	return errors.Is(err, ErrNoUserLocation) ||
		errors.Is(err, ErrNoOpenIncident) ||
		errors.Is(err, ErrNoAccessToken) ||
		errors.Is(err, ErrEmptyReason)
}
