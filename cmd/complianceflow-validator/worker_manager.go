package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/complianceflow/complianceflow/pkg/eventbus"
	"github.com/complianceflow/complianceflow/pkg/validation"
)

// WorkerManager runs the validation worker until the process is told to stop.
type WorkerManager struct {
	id       string
	logger   *slog.Logger
	eventBus eventbus.EventBus
	rule     validation.Rule
}

func NewWorkerManager(
	id string,
	eventBus eventbus.EventBus,
	rule validation.Rule,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "complianceflow-validator", "worker_id", id),
		eventBus: eventBus,
		rule:     rule,
	}
}

func (m *WorkerManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting validation worker", "worker_id", m.id)

	worker := validation.NewWorker(m.eventBus, m.rule, m.logger)

	err := worker.RegisterHandlers()
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Validation worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	m.logger.InfoContext(ctx, "Shutting down validation worker...")

	return nil
}
