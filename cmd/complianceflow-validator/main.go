// Package main provides the validation worker binary: it consumes
// validation commands and publishes pass/fail outcome events.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/complianceflow/complianceflow/pkg/cmd"
	"github.com/complianceflow/complianceflow/pkg/log"
	"github.com/complianceflow/complianceflow/pkg/validation"
)

func main() {
	command := &cli.Command{
		Name:                  "complianceflow-validator",
		EnableShellCompletion: true,
		Usage:                 "Start the manifest validation worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "validator-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("complianceflow-validator").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing ComplianceFlow Validator")

			eventBus := cmd.NewEventBus(command.String("event-bus"), "complianceflow-validator", logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			manager := NewWorkerManager(workerID, eventBus, validation.DefaultRule(), logger)

			err := manager.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start validation worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
