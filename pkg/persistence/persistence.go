// Package persistence defines the saga store contract shared by all backends.
package persistence

import (
	"context"

	"github.com/complianceflow/complianceflow/pkg/models"
)

// ManifestStateRepository is the saga store. CompareAndSwap is the sole
// mutation path after creation; GetByCorrelationID may serve stale reads
// for status queries, but the engine always re-reads immediately before
// writing.
type ManifestStateRepository interface {
	// GetByCorrelationID returns the saga instance for the given
	// correlation id, or ErrManifestNotFound.
	GetByCorrelationID(ctx context.Context, correlationID string) (*models.ManifestState, error)

	// CreateOrLoad atomically creates the instance if absent, otherwise
	// returns the existing one with its current version. The boolean
	// reports whether a new instance was created. Used only when
	// processing ManifestSubmitted.
	CreateOrLoad(ctx context.Context, state *models.ManifestState) (*models.ManifestState, bool, error)

	// CompareAndSwap persists the instance only if the stored version
	// still equals expectedVersion, then increments the version. Returns
	// ErrVersionConflict when a concurrent writer got there first;
	// callers must reload and retry.
	CompareAndSwap(ctx context.Context, state *models.ManifestState, expectedVersion int64) error
}

type Persistence interface {
	ManifestStates() ManifestStateRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
