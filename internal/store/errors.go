package store

import (
	"errors"
	"fmt"
)

// StoreError represents a backend failure: a wrapped SQL error, a malformed
// persisted ID, or a validation failure blocking a save. Raw driver errors
// are never returned to callers; they are wrapped here with the operation
// that failed.
type StoreError struct {
	// Op names the failing operation ("save transcript", "build schema").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, when there is one.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error { return e.Err }

// storeErr wraps an underlying error as a StoreError.
func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// storeErrf builds a StoreError with a formatted message and no cause.
func storeErrf(op, format string, args ...any) error {
	return &StoreError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// PermissionError indicates the caller lacks a role the operation requires.
type PermissionError struct {
	// User is the caller's identity.
	User string

	// Operation names what was attempted.
	Operation string
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %q may not %s", e.User, e.Operation)
}

// GraphNotFoundError indicates the requested transcript (or the annotation
// defining a fragment) does not exist. Distinct from StoreError so API
// layers can map it to not-found semantics.
type GraphNotFoundError struct {
	// ID is the identifier that failed to resolve.
	ID string
}

// Error implements the error interface.
func (e *GraphNotFoundError) Error() string {
	return fmt.Sprintf("transcript %q not found", e.ID)
}

// IsStoreError returns true if the error is a backend failure.
// Uses errors.As to handle wrapped errors.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsPermissionError returns true if the error is a permission denial.
// Uses errors.As to handle wrapped errors.
func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsGraphNotFound returns true if the error is a missing-transcript error.
// Uses errors.As to handle wrapped errors.
func IsGraphNotFound(err error) bool {
	var nf *GraphNotFoundError
	return errors.As(err, &nf)
}
