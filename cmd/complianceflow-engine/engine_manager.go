package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/complianceflow/complianceflow/pkg/eventbus"
	"github.com/complianceflow/complianceflow/pkg/persistence"
	"github.com/complianceflow/complianceflow/pkg/saga"
)

// EngineManager runs the saga engine against the event bus until the
// process is told to stop.
type EngineManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
}

func NewEngineManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *EngineManager {
	return &EngineManager{
		id:          id,
		logger:      logger.With("module", "complianceflow-engine", "engine_id", id),
		persistence: persistence,
		eventBus:    eventBus,
	}
}

func (m *EngineManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting saga engine", "engine_id", m.id)

	engine := saga.NewEngine(m.persistence, m.eventBus, m.logger)

	err := engine.RegisterHandlers()
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Saga engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	m.logger.InfoContext(ctx, "Shutting down saga engine...")

	return nil
}
