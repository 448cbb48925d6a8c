package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/complianceflow/complianceflow/pkg/models"
	"github.com/complianceflow/complianceflow/pkg/persistence"
)

// MockPersistence is a mock implementation of persistence.Persistence.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) ManifestStates() persistence.ManifestStateRepository {
	args := m.Called()

	repo, _ := args.Get(0).(persistence.ManifestStateRepository)

	return repo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockManifestStateRepository is a mock saga store.
type MockManifestStateRepository struct {
	mock.Mock
}

func (m *MockManifestStateRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.ManifestState, error) {
	args := m.Called(ctx, correlationID)

	state, _ := args.Get(0).(*models.ManifestState)

	return state, args.Error(1)
}

func (m *MockManifestStateRepository) CreateOrLoad(ctx context.Context, state *models.ManifestState) (*models.ManifestState, bool, error) {
	args := m.Called(ctx, state)

	loaded, _ := args.Get(0).(*models.ManifestState)

	return loaded, args.Bool(1), args.Error(2)
}

func (m *MockManifestStateRepository) CompareAndSwap(ctx context.Context, state *models.ManifestState, expectedVersion int64) error {
	args := m.Called(ctx, state, expectedVersion)

	return args.Error(0)
}
