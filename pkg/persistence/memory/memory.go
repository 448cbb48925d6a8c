// Package memory provides an in-memory saga store for tests and local development.
package memory

import (
	"context"
	"sync"

	"github.com/complianceflow/complianceflow/pkg/models"
	"github.com/complianceflow/complianceflow/pkg/persistence"
)

// Persistence implements persistence.Persistence with a mutex-guarded map.
// It honours the same compare-and-swap semantics as the durable backends,
// which makes it suitable for exercising the engine's concurrency rules.
type Persistence struct {
	repo *ManifestStateRepository
}

func NewPersistence() *Persistence {
	return &Persistence{
		repo: &ManifestStateRepository{
			states: make(map[string]*models.ManifestState),
		},
	}
}

func (p *Persistence) ManifestStates() persistence.ManifestStateRepository {
	return p.repo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type ManifestStateRepository struct {
	mu     sync.RWMutex
	states map[string]*models.ManifestState
}

func (r *ManifestStateRepository) GetByCorrelationID(_ context.Context, correlationID string) (*models.ManifestState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[correlationID]
	if !ok {
		return nil, persistence.NewStoreError("GetByCorrelationID", correlationID, persistence.ErrManifestNotFound)
	}

	return state.Clone(), nil
}

func (r *ManifestStateRepository) CreateOrLoad(_ context.Context, state *models.ManifestState) (*models.ManifestState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.states[state.CorrelationID]
	if ok {
		return existing.Clone(), false, nil
	}

	r.states[state.CorrelationID] = state.Clone()

	return state.Clone(), true, nil
}

func (r *ManifestStateRepository) CompareAndSwap(_ context.Context, state *models.ManifestState, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.states[state.CorrelationID]
	if !ok {
		return persistence.NewStoreError("CompareAndSwap", state.CorrelationID, persistence.ErrManifestNotFound)
	}

	if existing.Version != expectedVersion {
		return persistence.NewStoreError("CompareAndSwap", state.CorrelationID, persistence.ErrVersionConflict)
	}

	updated := state.Clone()
	updated.Version = expectedVersion + 1
	r.states[state.CorrelationID] = updated

	state.Version = updated.Version

	return nil
}
