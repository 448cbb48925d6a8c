// Package web provides the HTTP ingress: manifest submission and status queries.
package web

import (
	"time"

	"github.com/complianceflow/complianceflow/pkg/models"
)

// SubmitManifestRequest is the submission payload. The correlation id is
// generated server-side; callers never supply one.
type SubmitManifestRequest struct {
	ReferenceNumber string   `json:"reference_number" validate:"required"`
	HtsCodes        []string `json:"hts_codes"        validate:"required,min=1,dive,required"`
}

// SubmitManifestResponse acknowledges that the workflow has been started,
// not that it has finished.
type SubmitManifestResponse struct {
	ManifestID string `json:"manifest_id"`
}

// ManifestStatusResponse is the queryable saga record.
type ManifestStatusResponse struct {
	CorrelationID   string                `json:"correlation_id"`
	CurrentState    models.ManifestStatus `json:"current_state"`
	ReferenceNumber string                `json:"reference_number"`
	RejectionReason string                `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func newManifestStatusResponse(state *models.ManifestState) ManifestStatusResponse {
	return ManifestStatusResponse{
		CorrelationID:   state.CorrelationID,
		CurrentState:    state.CurrentState,
		ReferenceNumber: state.ReferenceNumber,
		RejectionReason: state.RejectionReason,
		CreatedAt:       state.CreatedAt,
		UpdatedAt:       state.UpdatedAt,
	}
}
