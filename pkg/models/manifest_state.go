// Package models defines the durable saga instance tracked per submitted manifest.
package models

import "time"

// ManifestStatus represents the saga's current position in the approval workflow.
type ManifestStatus string

const (
	ManifestStatusValidating ManifestStatus = "validating" // Waiting for the validation worker
	ManifestStatusValidated  ManifestStatus = "validated"  // Terminal: passed compliance
	ManifestStatusRejected   ManifestStatus = "rejected"   // Terminal: failed compliance
)

// IsTerminal reports whether no further transition may leave this status.
func (s ManifestStatus) IsTerminal() bool {
	return s == ManifestStatusValidated || s == ManifestStatusRejected
}

// ManifestState is the saga instance: one row per correlation id, mutated
// only by the engine and only through compare-and-swap.
//
// Version is the optimistic concurrency token. It starts at 1 on creation
// and is incremented by the store on every successful CompareAndSwap;
// stale writers lose.
type ManifestState struct {
	CorrelationID   string         `json:"correlation_id"`
	CurrentState    ManifestStatus `json:"current_state"`
	ReferenceNumber string         `json:"reference_number"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Version         int64          `json:"version"`
}

// NewManifestState builds the initial saga instance for a first-seen submission.
func NewManifestState(correlationID, referenceNumber string) *ManifestState {
	now := time.Now().UTC()

	return &ManifestState{
		CorrelationID:   correlationID,
		CurrentState:    ManifestStatusValidating,
		ReferenceNumber: referenceNumber,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
}

// Clone returns a deep copy so stores and callers never share mutable state.
func (m *ManifestState) Clone() *ManifestState {
	clone := *m

	return &clone
}
