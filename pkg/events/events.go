// Package events defines the message contracts exchanged between the
// ingress, the saga engine and the validation worker.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "complianceflow.manifests"                      // All manifest workflow messages
const DeadLetterTopic = "complianceflow.manifests.deadletter" // Messages that exhausted processing

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

// Dead-letter metadata keys set by the event bus when parking a message.
const (
	DeadLetterReasonKey   = "dead_letter_reason"
	DeadLetterAttemptsKey = "dead_letter_attempts"
)

const (
	// Manifest workflow events.
	ManifestSubmittedEvent EventType = "manifest.submitted"
	ManifestValidEvent     EventType = "manifest.valid"
	ManifestInvalidEvent   EventType = "manifest.invalid"

	// Commands issued by the saga engine.
	ValidateManifestCommand EventType = "manifest.validate"
)

// BaseEvent carries the fields common to every message. CorrelationID is
// the saga correlation identifier; every message must set it.
type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
}

// ManifestSubmitted is the initiating event, published by the ingress
// once per submission with a freshly generated correlation id.
type ManifestSubmitted struct {
	BaseEvent

	ReferenceNumber string   `json:"reference_number"`
	HtsCodes        []string `json:"hts_codes"`
}

func (m ManifestSubmitted) GetType() EventType {
	return ManifestSubmittedEvent
}

// ValidateManifest is the command the engine sends to the validation
// worker. It carries the codes so the worker never reads saga state.
type ValidateManifest struct {
	BaseEvent

	ReferenceNumber string   `json:"reference_number"`
	HtsCodes        []string `json:"hts_codes"`
}

func (v ValidateManifest) GetType() EventType {
	return ValidateManifestCommand
}

type ManifestValid struct {
	BaseEvent
}

func (m ManifestValid) GetType() EventType {
	return ManifestValidEvent
}

type ManifestInvalid struct {
	BaseEvent

	Reason string `json:"reason"`
}

func (m ManifestInvalid) GetType() EventType {
	return ManifestInvalidEvent
}

func NewBaseEvent(eventType EventType, correlationID string) BaseEvent {
	return BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}
