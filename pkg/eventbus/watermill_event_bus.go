package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/complianceflow/complianceflow/pkg/events"
)

const defaultMaxConcurrentHandlers = 16

type WatermillEventBus struct {
	publisher             message.Publisher
	subscriber            message.Subscriber
	subscriptions         map[events.EventType]EventHandler
	retryPolicy           RetryPolicy
	maxConcurrentHandlers int
	logger                *slog.Logger
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, retryPolicy RetryPolicy, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:             pub,
		subscriber:            sub,
		subscriptions:         make(map[events.EventType]EventHandler),
		retryPolicy:           retryPolicy,
		maxConcurrentHandlers: defaultMaxConcurrentHandlers,
		logger:                logger.With("module", "eventbus"),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

// Subscribe starts consuming the shared topic. Messages are processed on
// a bounded worker pool: serialization per correlation id comes from the
// store's compare-and-swap, and processing in-line would let one message's
// retry backoff stall every other saga.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		workers := make(chan struct{}, eb.maxConcurrentHandlers)

		for msg := range messages {
			workers <- struct{}{}

			go func(msg *message.Message) {
				defer func() { <-workers }()

				eb.process(ctx, msg)
			}(msg)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) process(ctx context.Context, msg *message.Message) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	handler, exists := eb.subscriptions[eventType]
	if !exists {
		msg.Ack()

		return
	}

	event, err := decodeEvent(eventType, msg.Payload)
	if err != nil {
		// Malformed input cannot succeed on redelivery.
		eb.deadLetter(ctx, msg, 0, err)

		return
	}

	attempts := 0

	for {
		attempts++

		err = handler(ctx, event)
		if err == nil {
			msg.Ack()

			return
		}

		if !eb.retryPolicy.Retryable(err) {
			eb.logger.ErrorContext(ctx, "Handler failed with non-retryable error",
				"event_type", eventType, "error", err)
			eb.deadLetter(ctx, msg, attempts, err)

			return
		}

		if attempts >= eb.retryPolicy.MaxAttempts {
			eb.logger.ErrorContext(ctx, "Handler exhausted retries",
				"event_type", eventType, "attempts", attempts, "error", err)
			eb.deadLetter(ctx, msg, attempts, err)

			return
		}

		interval := eb.retryPolicy.NextInterval(attempts)
		eb.logger.WarnContext(ctx, "Handler failed, retrying",
			"event_type", eventType, "attempt", attempts, "backoff", interval, "error", err)

		select {
		case <-ctx.Done():
			msg.Nack()

			return
		case <-time.After(interval):
		}
	}
}

// deadLetter parks the original payload on the dead-letter topic and acks
// the message so it is not redelivered.
func (eb *WatermillEventBus) deadLetter(ctx context.Context, msg *message.Message, attempts int, cause error) {
	parked := message.NewMessage("msg-"+eb.GenerateID(), msg.Payload)
	for k, v := range msg.Metadata {
		parked.Metadata.Set(k, v)
	}
	parked.Metadata.Set(events.DeadLetterReasonKey, cause.Error())
	parked.Metadata.Set(events.DeadLetterAttemptsKey, strconv.Itoa(attempts))

	err := eb.publisher.Publish(events.DeadLetterTopic, parked)
	if err != nil {
		// Could not park the message; leave it to the transport's redelivery.
		eb.logger.ErrorContext(ctx, "Failed to publish to dead-letter topic", "error", err)
		msg.Nack()

		return
	}

	msg.Ack()
}

func decodeEvent(eventType events.EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case events.ManifestSubmittedEvent:
		event = &events.ManifestSubmitted{}
	case events.ValidateManifestCommand:
		event = &events.ValidateManifest{}
	case events.ManifestValidEvent:
		event = &events.ManifestValid{}
	case events.ManifestInvalidEvent:
		event = &events.ManifestInvalid{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", eventType, err)
	}

	return event, nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
