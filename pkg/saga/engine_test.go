package saga_test

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/complianceflow/complianceflow/pkg/eventbus"
	"github.com/complianceflow/complianceflow/pkg/events"
	"github.com/complianceflow/complianceflow/pkg/mocks"
	"github.com/complianceflow/complianceflow/pkg/models"
	"github.com/complianceflow/complianceflow/pkg/persistence"
	"github.com/complianceflow/complianceflow/pkg/persistence/memory"
	"github.com/complianceflow/complianceflow/pkg/saga"
)

func newTestEngine(t *testing.T) (*saga.Engine, *memory.Persistence, *mocks.MockEventBus) {
	t.Helper()

	store := memory.NewPersistence()
	bus := &mocks.MockEventBus{}
	engine := saga.NewEngine(store, bus, slog.Default())

	return engine, store, bus
}

func submittedEvent(correlationID, referenceNumber string, htsCodes ...string) *events.ManifestSubmitted {
	return &events.ManifestSubmitted{
		BaseEvent:       events.NewBaseEvent(events.ManifestSubmittedEvent, correlationID),
		ReferenceNumber: referenceNumber,
		HtsCodes:        htsCodes,
	}
}

func validEvent(correlationID string) *events.ManifestValid {
	return &events.ManifestValid{
		BaseEvent: events.NewBaseEvent(events.ManifestValidEvent, correlationID),
	}
}

func invalidEvent(correlationID, reason string) *events.ManifestInvalid {
	return &events.ManifestInvalid{
		BaseEvent: events.NewBaseEvent(events.ManifestInvalidEvent, correlationID),
		Reason:    reason,
	}
}

func TestEngine_ManifestSubmitted_CreatesInstance(t *testing.T) {
	t.Parallel()

	engine, store, bus := newTestEngine(t)
	correlationID := uuid.New().String()

	bus.On("Publish", mock.Anything, correlationID, mock.AnythingOfType("events.ValidateManifest")).Return(nil)

	err := engine.HandleManifestSubmitted(t.Context(), submittedEvent(correlationID, "SHIP-001", "8542.31"))
	require.NoError(t, err)

	state, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)
	assert.Equal(t, models.ManifestStatusValidating, state.CurrentState)
	assert.Equal(t, "SHIP-001", state.ReferenceNumber)
	assert.Equal(t, int64(1), state.Version)
	assert.False(t, state.CreatedAt.IsZero())
	assert.False(t, state.UpdatedAt.Before(state.CreatedAt))

	bus.AssertNumberOfCalls(t, "Publish", 1)

	command, ok := bus.Calls[0].Arguments.Get(2).(events.ValidateManifest)
	require.True(t, ok)
	assert.Equal(t, correlationID, command.CorrelationID)
	assert.Equal(t, []string{"8542.31"}, command.HtsCodes)
}

func TestEngine_ManifestSubmitted_DuplicateCreatesNothing(t *testing.T) {
	t.Parallel()

	engine, store, bus := newTestEngine(t)
	correlationID := uuid.New().String()

	bus.On("Publish", mock.Anything, correlationID, mock.AnythingOfType("events.ValidateManifest")).Return(nil)

	event := submittedEvent(correlationID, "SHIP-001", "8542.31")

	require.NoError(t, engine.HandleManifestSubmitted(t.Context(), event))

	first, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)

	require.NoError(t, engine.HandleManifestSubmitted(t.Context(), event))

	second, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)

	// Duplicate delivery re-issues the command but never touches the instance.
	assert.Equal(t, first, second)
	bus.AssertNumberOfCalls(t, "Publish", 2)
}

func TestEngine_ManifestValid_TransitionsToValidated(t *testing.T) {
	t.Parallel()

	engine, store, bus := newTestEngine(t)
	correlationID := uuid.New().String()

	bus.On("Publish", mock.Anything, correlationID, mock.Anything).Return(nil)

	require.NoError(t, engine.HandleManifestSubmitted(t.Context(), submittedEvent(correlationID, "SHIP-002", "8542.31")))
	require.NoError(t, engine.HandleManifestValid(t.Context(), validEvent(correlationID)))

	state, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)
	assert.Equal(t, models.ManifestStatusValidated, state.CurrentState)
	assert.Equal(t, int64(2), state.Version)
	assert.False(t, state.UpdatedAt.Before(state.CreatedAt))
}

func TestEngine_ManifestInvalid_TransitionsToRejectedWithReason(t *testing.T) {
	t.Parallel()

	engine, store, bus := newTestEngine(t)
	correlationID := uuid.New().String()

	bus.On("Publish", mock.Anything, correlationID, mock.Anything).Return(nil)

	require.NoError(t, engine.HandleManifestSubmitted(t.Context(), submittedEvent(correlationID, "SHIP-001", "9999.99")))
	require.NoError(t, engine.HandleManifestInvalid(t.Context(), invalidEvent(correlationID, "Contains Restricted HTS Code: 9999.99")))

	state, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)
	assert.Equal(t, models.ManifestStatusRejected, state.CurrentState)
	assert.Equal(t, "Contains Restricted HTS Code: 9999.99", state.RejectionReason)
}

func TestEngine_TerminalStateAbsorbsEverything(t *testing.T) {
	t.Parallel()

	engine, store, bus := newTestEngine(t)
	correlationID := uuid.New().String()

	bus.On("Publish", mock.Anything, correlationID, mock.Anything).Return(nil)

	require.NoError(t, engine.HandleManifestSubmitted(t.Context(), submittedEvent(correlationID, "SHIP-002", "8542.31")))
	require.NoError(t, engine.HandleManifestValid(t.Context(), validEvent(correlationID)))

	settled, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)

	publishes := len(bus.Calls)

	// Redeliveries of every event are discarded without touching the row.
	require.NoError(t, engine.HandleManifestValid(t.Context(), validEvent(correlationID)))
	require.NoError(t, engine.HandleManifestInvalid(t.Context(), invalidEvent(correlationID, "late rejection")))
	require.NoError(t, engine.HandleManifestSubmitted(t.Context(), submittedEvent(correlationID, "SHIP-002", "8542.31")))

	after, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)
	assert.Equal(t, settled, after)
	assert.Equal(t, settled.UpdatedAt, after.UpdatedAt)
	bus.AssertNumberOfCalls(t, "Publish", publishes)
}

func TestEngine_OutcomeForUnknownCorrelation_IsProtocolViolation(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	err := engine.HandleManifestValid(t.Context(), validEvent(uuid.New().String()))
	require.Error(t, err)
	assert.ErrorIs(t, err, saga.ErrUnknownCorrelation)
	assert.False(t, eventbus.IsPermanent(err), "protocol violations are retried before dead-lettering")
}

func TestEngine_UnexpectedPayload_IsPermanent(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	err := engine.HandleManifestValid(t.Context(), invalidEvent(uuid.New().String(), "wrong type"))
	require.Error(t, err)
	assert.True(t, eventbus.IsPermanent(err))

	err = engine.HandleManifestSubmitted(t.Context(), validEvent(uuid.New().String()))
	require.Error(t, err)
	assert.True(t, eventbus.IsPermanent(err))
}

func TestEngine_ConcurrentOutcomes_ExactlyOneTerminalState(t *testing.T) {
	t.Parallel()

	engine, store, bus := newTestEngine(t)
	correlationID := uuid.New().String()

	bus.On("Publish", mock.Anything, correlationID, mock.Anything).Return(nil)

	require.NoError(t, engine.HandleManifestSubmitted(t.Context(), submittedEvent(correlationID, "SHIP-003", "8542.31")))

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		_ = engine.HandleManifestValid(t.Context(), validEvent(correlationID))
	}()

	go func() {
		defer wg.Done()

		_ = engine.HandleManifestInvalid(t.Context(), invalidEvent(correlationID, "raced"))
	}()

	wg.Wait()

	state, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)
	assert.True(t, state.CurrentState.IsTerminal())
	assert.Equal(t, int64(2), state.Version, "exactly one transition must win")
}

func TestEngine_ReplayingSequenceTwiceMatchesOnce(t *testing.T) {
	t.Parallel()

	engine, store, bus := newTestEngine(t)
	correlationID := uuid.New().String()

	bus.On("Publish", mock.Anything, correlationID, mock.Anything).Return(nil)

	replay := func() {
		require.NoError(t, engine.HandleManifestSubmitted(t.Context(), submittedEvent(correlationID, "SHIP-001", "9999.99")))
		require.NoError(t, engine.HandleManifestInvalid(t.Context(), invalidEvent(correlationID, "Contains Restricted HTS Code: 9999.99")))
	}

	replay()

	once, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)

	replay()

	twice, err := store.ManifestStates().GetByCorrelationID(t.Context(), correlationID)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestEngine_VersionConflictReloadsAndDiscardsStaleEvent(t *testing.T) {
	t.Parallel()

	store := &mocks.MockPersistence{}
	repo := &mocks.MockManifestStateRepository{}
	bus := &mocks.MockEventBus{}
	engine := saga.NewEngine(store, bus, slog.Default())

	correlationID := uuid.New().String()

	store.On("ManifestStates").Return(repo)

	// First read sees validating; the write loses to a concurrent outcome.
	repo.On("GetByCorrelationID", mock.Anything, correlationID).
		Return(models.NewManifestState(correlationID, "SHIP-004"), nil).Once()
	repo.On("CompareAndSwap", mock.Anything, mock.Anything, int64(1)).
		Return(persistence.ErrVersionConflict).Once()

	// Reload sees the settled instance; the event is now stale.
	settled := models.NewManifestState(correlationID, "SHIP-004")
	settled.CurrentState = models.ManifestStatusRejected
	settled.Version = 2
	repo.On("GetByCorrelationID", mock.Anything, correlationID).
		Return(settled, nil).Once()

	err := engine.HandleManifestValid(t.Context(), validEvent(correlationID))
	require.NoError(t, err)

	repo.AssertExpectations(t)
}

func TestEngine_PersistentVersionConflictFailsTheMessage(t *testing.T) {
	t.Parallel()

	store := &mocks.MockPersistence{}
	repo := &mocks.MockManifestStateRepository{}
	bus := &mocks.MockEventBus{}
	engine := saga.NewEngine(store, bus, slog.Default())

	correlationID := uuid.New().String()

	store.On("ManifestStates").Return(repo)
	repo.On("GetByCorrelationID", mock.Anything, correlationID).
		Return(models.NewManifestState(correlationID, "SHIP-005"), nil)
	repo.On("CompareAndSwap", mock.Anything, mock.Anything, int64(1)).
		Return(persistence.ErrVersionConflict)

	err := engine.HandleManifestValid(t.Context(), validEvent(correlationID))
	require.Error(t, err)
	assert.NotErrorIs(t, err, saga.ErrUnknownCorrelation)
	repo.AssertNumberOfCalls(t, "CompareAndSwap", 3)
}

func TestEngine_StoreFailurePropagates(t *testing.T) {
	t.Parallel()

	store := &mocks.MockPersistence{}
	repo := &mocks.MockManifestStateRepository{}
	bus := &mocks.MockEventBus{}
	engine := saga.NewEngine(store, bus, slog.Default())

	correlationID := uuid.New().String()
	storeDown := errors.New("store unavailable")

	store.On("ManifestStates").Return(repo)
	repo.On("GetByCorrelationID", mock.Anything, correlationID).Return(nil, storeDown)

	err := engine.HandleManifestValid(t.Context(), validEvent(correlationID))
	require.Error(t, err)
	assert.ErrorIs(t, err, storeDown)
}
