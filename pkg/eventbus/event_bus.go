// Package eventbus provides the durable publish/subscribe channel the
// saga engine and workers depend on.
package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/complianceflow/complianceflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// RetryPolicy bounds how often a failing handler is re-invoked before the
// message is parked on the dead-letter topic. NonRetryable errors (matched
// with errors.Is) skip the retry loop entirely, as does any error wrapped
// with Permanent.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	NonRetryable    []error
}

// DefaultRetryPolicy gives three attempts at increasing intervals.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     5 * time.Second,
	}
}

// NextInterval returns the backoff before the given retry attempt
// (attempt 1 is the first retry).
func (p RetryPolicy) NextInterval(attempt int) time.Duration {
	interval := p.InitialInterval
	for range attempt - 1 {
		interval = time.Duration(float64(interval) * p.Multiplier)
		if interval >= p.MaxInterval {
			return p.MaxInterval
		}
	}

	return interval
}

// Retryable reports whether the error may be retried under this policy.
func (p RetryPolicy) Retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}

	for _, excluded := range p.NonRetryable {
		if errors.Is(err, excluded) {
			return false
		}
	}

	return true
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return "permanent: " + e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks an error as non-retryable; the message goes straight to
// the dead-letter topic.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent checks whether the error was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError

	return errors.As(err, &perm)
}
