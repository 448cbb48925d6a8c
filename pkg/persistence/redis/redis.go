// Package redis provides a Redis-backed saga store. Instances are stored
// as JSON values keyed by correlation id; compare-and-swap is implemented
// with WATCH so concurrent writers against the same key fail cleanly.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/complianceflow/complianceflow/pkg/models"
	"github.com/complianceflow/complianceflow/pkg/persistence"
)

const keyPrefix = "complianceflow:manifest:"

// Persistence implements persistence.Persistence on top of go-redis.
type Persistence struct {
	client *goredis.Client
	repo   *ManifestStateRepository
}

// NewPersistence connects to Redis using a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	options, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := goredis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return &Persistence{
		client: client,
		repo:   &ManifestStateRepository{client: client},
	}, nil
}

func (p *Persistence) ManifestStates() persistence.ManifestStateRepository {
	return p.repo
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

type ManifestStateRepository struct {
	client *goredis.Client
}

func stateKey(correlationID string) string {
	return keyPrefix + correlationID
}

func (r *ManifestStateRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.ManifestState, error) {
	payload, err := r.client.Get(ctx, stateKey(correlationID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewStoreError("GetByCorrelationID", correlationID, persistence.ErrManifestNotFound)
		}

		return nil, fmt.Errorf("failed to get manifest state: %w", err)
	}

	return unmarshalState(payload)
}

func (r *ManifestStateRepository) CreateOrLoad(ctx context.Context, state *models.ManifestState) (*models.ManifestState, bool, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal manifest state: %w", err)
	}

	created, err := r.client.SetNX(ctx, stateKey(state.CorrelationID), payload, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create manifest state: %w", err)
	}

	if created {
		return state.Clone(), true, nil
	}

	existing, err := r.GetByCorrelationID(ctx, state.CorrelationID)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

// CompareAndSwap runs a WATCH transaction: the key is read, the stored
// version compared, and the write committed only if the key was untouched
// in between. Both a version mismatch and a watch abort surface as
// ErrVersionConflict so the engine reloads and retries.
func (r *ManifestStateRepository) CompareAndSwap(ctx context.Context, state *models.ManifestState, expectedVersion int64) error {
	key := stateKey(state.CorrelationID)

	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return persistence.NewStoreError("CompareAndSwap", state.CorrelationID, persistence.ErrManifestNotFound)
			}

			return fmt.Errorf("failed to get manifest state: %w", err)
		}

		stored, err := unmarshalState(payload)
		if err != nil {
			return err
		}

		if stored.Version != expectedVersion {
			return persistence.NewStoreError("CompareAndSwap", state.CorrelationID, persistence.ErrVersionConflict)
		}

		updated := state.Clone()
		updated.Version = expectedVersion + 1

		updatedPayload, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal manifest state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updatedPayload, 0)

			return nil
		})

		return err
	}, key)
	if err != nil {
		if errors.Is(err, goredis.TxFailedErr) {
			return persistence.NewStoreError("CompareAndSwap", state.CorrelationID, persistence.ErrVersionConflict)
		}

		return err
	}

	state.Version = expectedVersion + 1

	return nil
}

func unmarshalState(payload []byte) (*models.ManifestState, error) {
	var state models.ManifestState

	err := json.Unmarshal(payload, &state)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest state: %w", err)
	}

	return &state, nil
}
