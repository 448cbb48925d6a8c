package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/complianceflow/complianceflow/pkg/models"
	"github.com/complianceflow/complianceflow/pkg/persistence"
)

// ManifestStateRepository handles saga instance rows.
type ManifestStateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewManifestStateRepository creates a new manifest state repository.
func NewManifestStateRepository(db *sql.DB, logger *slog.Logger) *ManifestStateRepository {
	return &ManifestStateRepository{db: db, logger: logger}
}

func (r *ManifestStateRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.ManifestState, error) {
	query := `
		SELECT
			correlation_id
		  , current_state
		  , reference_number
		  , rejection_reason
		  , created_at
		  , updated_at
		  , version
		FROM manifest_states
		WHERE correlation_id = $1
	`

	row := r.db.QueryRowContext(ctx, query, correlationID)

	state, err := scanManifestState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByCorrelationID", correlationID, persistence.ErrManifestNotFound)
		}

		return nil, fmt.Errorf("failed to scan manifest state: %w", err)
	}

	return state, nil
}

// CreateOrLoad inserts the instance if absent; when the row already exists
// the insert is a no-op and the stored row is returned with its version.
func (r *ManifestStateRepository) CreateOrLoad(ctx context.Context, state *models.ManifestState) (*models.ManifestState, bool, error) {
	query := `
		INSERT INTO manifest_states (
			correlation_id
		  , current_state
		  , reference_number
		  , rejection_reason
		  , created_at
		  , updated_at
		  , version
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (correlation_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		state.CorrelationID,
		state.CurrentState,
		state.ReferenceNumber,
		state.RejectionReason,
		state.CreatedAt,
		state.UpdatedAt,
		state.Version,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert manifest state: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if inserted == 0 {
		existing, err := r.GetByCorrelationID(ctx, state.CorrelationID)
		if err != nil {
			return nil, false, err
		}

		return existing, false, nil
	}

	return state.Clone(), true, nil
}

// CompareAndSwap writes the instance only when the stored version is still
// expectedVersion. A zero-row update means either a concurrent writer won
// or the row is missing; the two are told apart with a follow-up read.
func (r *ManifestStateRepository) CompareAndSwap(ctx context.Context, state *models.ManifestState, expectedVersion int64) error {
	query := `
		UPDATE manifest_states
		SET current_state = $1
		  , rejection_reason = $2
		  , updated_at = $3
		  , version = version + 1
		WHERE correlation_id = $4 AND version = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		state.CurrentState,
		state.RejectionReason,
		state.UpdatedAt,
		state.CorrelationID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update manifest state: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if updated == 0 {
		_, err := r.GetByCorrelationID(ctx, state.CorrelationID)
		if err != nil {
			return err
		}

		return persistence.NewStoreError("CompareAndSwap", state.CorrelationID, persistence.ErrVersionConflict)
	}

	state.Version = expectedVersion + 1

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifestState(row rowScanner) (*models.ManifestState, error) {
	var state models.ManifestState

	err := row.Scan(
		&state.CorrelationID,
		&state.CurrentState,
		&state.ReferenceNumber,
		&state.RejectionReason,
		&state.CreatedAt,
		&state.UpdatedAt,
		&state.Version,
	)
	if err != nil {
		return nil, err
	}

	return &state, nil
}
