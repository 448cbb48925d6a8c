// Package saga implements the manifest approval state machine: it
// correlates inbound events to durable saga instances and applies
// transitions through compare-and-swap so duplicate and reordered
// deliveries are absorbed.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/complianceflow/complianceflow/pkg/eventbus"
	"github.com/complianceflow/complianceflow/pkg/events"
	"github.com/complianceflow/complianceflow/pkg/models"
	"github.com/complianceflow/complianceflow/pkg/otelhelper"
	"github.com/complianceflow/complianceflow/pkg/persistence"
)

// ErrUnknownCorrelation is a protocol violation: an outcome event arrived
// for a correlation id with no saga instance. The message channel retries
// it with backoff (the submission may still be in flight) and finally
// routes it to the dead-letter topic.
var ErrUnknownCorrelation = errors.New("no saga instance for correlation id")

const defaultMaxTransitionRetries = 3

// Engine drives saga instances through the transition table. It holds no
// per-instance locks: serialization per correlation id comes entirely
// from the store's compare-and-swap, which keeps it correct across
// multiple engine processes sharing one store and channel.
type Engine struct {
	persistence          persistence.Persistence
	eventBus             eventbus.EventBus
	logger               *slog.Logger
	tracer               trace.Tracer
	maxTransitionRetries int
}

func NewEngine(persistence persistence.Persistence, eventBus eventbus.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		persistence:          persistence,
		eventBus:             eventBus,
		logger:               logger.With("module", "saga"),
		tracer:               otel.Tracer("complianceflow.saga"),
		maxTransitionRetries: defaultMaxTransitionRetries,
	}
}

// RegisterHandlers subscribes the engine to every event it consumes.
func (e *Engine) RegisterHandlers() error {
	err := e.eventBus.Handle(events.ManifestSubmittedEvent, e.HandleManifestSubmitted)
	if err != nil {
		return err
	}

	err = e.eventBus.Handle(events.ManifestValidEvent, e.HandleManifestValid)
	if err != nil {
		return err
	}

	return e.eventBus.Handle(events.ManifestInvalidEvent, e.HandleManifestInvalid)
}

// HandleManifestSubmitted creates the saga instance on first delivery and
// issues the validation command. Redeliveries while still validating
// re-issue the command: the first delivery may have persisted the
// instance and then failed to publish, and the worker tolerates
// duplicates.
func (e *Engine) HandleManifestSubmitted(ctx context.Context, event any) error {
	submitted, ok := event.(*events.ManifestSubmitted)
	if !ok {
		return eventbus.Permanent(fmt.Errorf("unexpected event payload %T for %s", event, events.ManifestSubmittedEvent))
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "saga.manifest_submitted",
		attribute.String(otelhelper.CorrelationIDKey, submitted.CorrelationID),
	)
	defer span.End()

	logger := e.logger.With(
		"correlation_id", submitted.CorrelationID,
		"reference_number", submitted.ReferenceNumber,
	)

	state, isNew, err := e.persistence.ManifestStates().CreateOrLoad(ctx,
		models.NewManifestState(submitted.CorrelationID, submitted.ReferenceNumber))
	if err != nil {
		return fmt.Errorf("failed to create saga instance: %w", err)
	}

	if !isNew {
		if state.CurrentState != models.ManifestStatusValidating {
			logger.DebugContext(ctx, "Discarding duplicate submission for settled manifest",
				"current_state", state.CurrentState)

			return nil
		}

		logger.DebugContext(ctx, "Duplicate submission, re-issuing validation command")
	} else {
		logger.InfoContext(ctx, "Saga instance created")
	}

	command := events.ValidateManifest{
		BaseEvent:       events.NewBaseEvent(events.ValidateManifestCommand, submitted.CorrelationID),
		ReferenceNumber: submitted.ReferenceNumber,
		HtsCodes:        submitted.HtsCodes,
	}

	err = e.eventBus.Publish(ctx, submitted.CorrelationID, command)
	if err != nil {
		return fmt.Errorf("failed to publish validation command: %w", err)
	}

	return nil
}

func (e *Engine) HandleManifestValid(ctx context.Context, event any) error {
	valid, ok := event.(*events.ManifestValid)
	if !ok {
		return eventbus.Permanent(fmt.Errorf("unexpected event payload %T for %s", event, events.ManifestValidEvent))
	}

	return e.applyTransition(ctx, valid.CorrelationID, events.ManifestValidEvent, "")
}

func (e *Engine) HandleManifestInvalid(ctx context.Context, event any) error {
	invalid, ok := event.(*events.ManifestInvalid)
	if !ok {
		return eventbus.Permanent(fmt.Errorf("unexpected event payload %T for %s", event, events.ManifestInvalidEvent))
	}

	return e.applyTransition(ctx, invalid.CorrelationID, events.ManifestInvalidEvent, invalid.Reason)
}

// applyTransition loads the instance, consults the transition table
// against the freshly read state and writes conditionally on the version
// it read. A lost compare-and-swap means another delivery advanced the
// instance in between; reload and re-decide, since the event may now be
// stale.
func (e *Engine) applyTransition(ctx context.Context, correlationID string, eventType events.EventType, reason string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "saga.transition",
		attribute.String(otelhelper.CorrelationIDKey, correlationID),
		attribute.String(otelhelper.EventTypeKey, string(eventType)),
	)
	defer span.End()

	logger := e.logger.With("correlation_id", correlationID, "event_type", eventType)

	repo := e.persistence.ManifestStates()

	for attempt := 1; attempt <= e.maxTransitionRetries; attempt++ {
		state, err := repo.GetByCorrelationID(ctx, correlationID)
		if err != nil {
			if persistence.IsManifestNotFound(err) {
				return fmt.Errorf("%w: %s for %s", ErrUnknownCorrelation, eventType, correlationID)
			}

			return fmt.Errorf("failed to load saga instance: %w", err)
		}

		next, ok := nextState(state.CurrentState, eventType)
		if !ok {
			logger.DebugContext(ctx, "Discarding stale event", "current_state", state.CurrentState)

			return nil
		}

		state.CurrentState = next
		state.UpdatedAt = time.Now().UTC()

		if reason != "" {
			state.RejectionReason = reason
		}

		err = repo.CompareAndSwap(ctx, state, state.Version)
		if err == nil {
			logger.InfoContext(ctx, "Saga transitioned", "next_state", next)

			return nil
		}

		if !persistence.IsVersionConflict(err) {
			return fmt.Errorf("failed to persist transition: %w", err)
		}

		logger.DebugContext(ctx, "Lost compare-and-swap, reloading", "attempt", attempt)
	}

	// Treated as a transient failure: the channel redelivers the message.
	return fmt.Errorf("transition %s for %s abandoned after %d version conflicts",
		eventType, correlationID, e.maxTransitionRetries)
}
