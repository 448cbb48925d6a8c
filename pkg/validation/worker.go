package validation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/complianceflow/complianceflow/pkg/eventbus"
	"github.com/complianceflow/complianceflow/pkg/events"
)

// Worker consumes ValidateManifest commands and publishes exactly one
// outcome event per received command. Duplicate commands produce
// duplicate outcomes, which the engine's transition table absorbs.
type Worker struct {
	eventBus eventbus.EventBus
	rule     Rule
	logger   *slog.Logger
}

func NewWorker(eventBus eventbus.EventBus, rule Rule, logger *slog.Logger) *Worker {
	return &Worker{
		eventBus: eventBus,
		rule:     rule,
		logger:   logger.With("module", "validation"),
	}
}

// RegisterHandlers subscribes the worker to the validation command.
func (w *Worker) RegisterHandlers() error {
	return w.eventBus.Handle(events.ValidateManifestCommand, w.HandleValidateManifest)
}

func (w *Worker) HandleValidateManifest(ctx context.Context, event any) error {
	command, ok := event.(*events.ValidateManifest)
	if !ok {
		return eventbus.Permanent(fmt.Errorf("unexpected event payload %T for %s", event, events.ValidateManifestCommand))
	}

	logger := w.logger.With(
		"correlation_id", command.CorrelationID,
		"reference_number", command.ReferenceNumber,
	)
	logger.InfoContext(ctx, "Validating manifest", "codes", len(command.HtsCodes))

	valid, reason := w.rule.Evaluate(ctx, command.HtsCodes)

	var outcome eventbus.Event
	if valid {
		logger.InfoContext(ctx, "Manifest validated")

		outcome = events.ManifestValid{
			BaseEvent: events.NewBaseEvent(events.ManifestValidEvent, command.CorrelationID),
		}
	} else {
		logger.WarnContext(ctx, "Manifest rejected", "reason", reason)

		outcome = events.ManifestInvalid{
			BaseEvent: events.NewBaseEvent(events.ManifestInvalidEvent, command.CorrelationID),
			Reason:    reason,
		}
	}

	err := w.eventBus.Publish(ctx, command.CorrelationID, outcome)
	if err != nil {
		return fmt.Errorf("failed to publish validation outcome: %w", err)
	}

	return nil
}
