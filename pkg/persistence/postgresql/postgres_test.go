package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/complianceflow/complianceflow/pkg/models"
	"github.com/complianceflow/complianceflow/pkg/persistence"
	"github.com/complianceflow/complianceflow/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"manifest_states", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("complianceflow_test"),
			postgres.WithUsername("complianceflow"),
			postgres.WithPassword("complianceflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'manifest_states')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "manifest_states table should exist")

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'schema_migrations')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "schema_migrations table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestManifestStates_CreateOrLoad(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	repo := p.ManifestStates()
	correlationID := uuid.New().String()

	created, isNew, err := repo.CreateOrLoad(ctx, models.NewManifestState(correlationID, "SHIP-001"))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, models.ManifestStatusValidating, created.CurrentState)
	assert.Equal(t, int64(1), created.Version)

	// A redelivered submission loads the existing row untouched.
	loaded, isNew, err := repo.CreateOrLoad(ctx, models.NewManifestState(correlationID, "SHIP-OTHER"))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "SHIP-001", loaded.ReferenceNumber)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestManifestStates_GetByCorrelationID(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	repo := p.ManifestStates()
	correlationID := uuid.New().String()

	_, _, err := repo.CreateOrLoad(ctx, models.NewManifestState(correlationID, "SHIP-001"))
	require.NoError(t, err)

	state, err := repo.GetByCorrelationID(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, correlationID, state.CorrelationID)
	assert.Equal(t, "SHIP-001", state.ReferenceNumber)
	assert.False(t, state.CreatedAt.IsZero())

	_, err = repo.GetByCorrelationID(ctx, uuid.New().String())
	require.Error(t, err)
	assert.True(t, persistence.IsManifestNotFound(err))
}

func TestManifestStates_CompareAndSwap(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	repo := p.ManifestStates()
	correlationID := uuid.New().String()

	state, _, err := repo.CreateOrLoad(ctx, models.NewManifestState(correlationID, "SHIP-001"))
	require.NoError(t, err)

	state.CurrentState = models.ManifestStatusRejected
	state.RejectionReason = "Contains Restricted HTS Code: 9999.99"
	state.UpdatedAt = time.Now().UTC()

	require.NoError(t, repo.CompareAndSwap(ctx, state, 1))

	stored, err := repo.GetByCorrelationID(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, models.ManifestStatusRejected, stored.CurrentState)
	assert.Equal(t, "Contains Restricted HTS Code: 9999.99", stored.RejectionReason)
	assert.Equal(t, int64(2), stored.Version)
}

func TestManifestStates_CompareAndSwap_StaleVersion(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	repo := p.ManifestStates()
	correlationID := uuid.New().String()

	state, _, err := repo.CreateOrLoad(ctx, models.NewManifestState(correlationID, "SHIP-001"))
	require.NoError(t, err)

	stale := state.Clone()

	state.CurrentState = models.ManifestStatusValidated
	require.NoError(t, repo.CompareAndSwap(ctx, state, 1))

	stale.CurrentState = models.ManifestStatusRejected
	err = repo.CompareAndSwap(ctx, stale, 1)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := repo.GetByCorrelationID(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, models.ManifestStatusValidated, stored.CurrentState)
	assert.Equal(t, int64(2), stored.Version)
}

func TestManifestStates_CompareAndSwap_MissingRow(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.ManifestStates().CompareAndSwap(ctx, models.NewManifestState(uuid.New().String(), "SHIP-001"), 1)
	require.Error(t, err)
	assert.True(t, persistence.IsManifestNotFound(err))
}
