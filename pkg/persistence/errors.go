// Package persistence provides standardized error types for saga store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrManifestNotFound indicates no saga instance exists for the given correlation id.
	ErrManifestNotFound = errors.New("manifest not found")

	// ErrVersionConflict indicates a compare-and-swap lost to a concurrent
	// writer; the caller must reload and retry the transition.
	ErrVersionConflict = errors.New("version conflict")
)

// StoreError wraps store errors with the operation and correlation id.
type StoreError struct {
	Op            string // Operation being performed (e.g., "GetByCorrelationID", "CompareAndSwap")
	CorrelationID string
	Err           error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s failed for manifest %s: %v", e.Op, e.CorrelationID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, correlationID string, err error) *StoreError {
	return &StoreError{
		Op:            op,
		CorrelationID: correlationID,
		Err:           err,
	}
}

// IsManifestNotFound checks if an error indicates a missing saga instance.
func IsManifestNotFound(err error) bool {
	return errors.Is(err, ErrManifestNotFound)
}

// IsVersionConflict checks if an error indicates a lost compare-and-swap.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
