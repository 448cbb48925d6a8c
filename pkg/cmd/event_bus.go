// Package cmd provides shared wiring for the service binaries.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/complianceflow/complianceflow/pkg/channels/gochannel"
	"github.com/complianceflow/complianceflow/pkg/channels/kafka"
	"github.com/complianceflow/complianceflow/pkg/eventbus"
)

// NewEventBus builds the event bus for one service binary. serviceName
// must be distinct per binary: it becomes the Kafka consumer group, and
// the engine and validator each need the full event stream rather than a
// load-balanced share of one group.
func NewEventBus(provider, serviceName string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, eventbus.DefaultRetryPolicy(), logger)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, eventbus.DefaultRetryPolicy(), logger)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
