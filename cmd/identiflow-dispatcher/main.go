package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/identiflow/pkg/cmd"
	"github.com/dukex/identiflow/pkg/executor"
	"github.com/dukex/identiflow/pkg/log"
	"github.com/dukex/identiflow/pkg/otelhelper"
	"github.com/dukex/identiflow/pkg/receivers/queue"
	"github.com/dukex/identiflow/pkg/receivers/schedule"
	"github.com/dukex/identiflow/pkg/trigger"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "identiflow-dispatcher",
		Usage:                 "Consume identity lifecycle events and trigger workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "simulation-mode",
				Usage:   "Use the built-in workflow simulator instead of a real backend",
				Sources: cli.EnvVars("SIMULATION_MODE"),
			},
			&cli.StringFlag{
				Name:    "backend-url",
				Usage:   "Base URL of the workflow automation backend",
				Sources: cli.EnvVars("BACKEND_URL"),
			},
			&cli.StringFlag{
				Name:    "backend-token",
				Usage:   "API token for the workflow automation backend",
				Sources: cli.EnvVars("BACKEND_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the queue receiver (disabled when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list to consume lifecycle events from",
				Sources: cli.EnvVars("REDIS_QUEUE"),
			},
			&cli.BoolFlag{
				Name:    "schedule-sources",
				Usage:   "Enable the cron-based event sweeps",
				Sources: cli.EnvVars("SCHEDULE_SOURCES"),
			},
			&cli.DurationFlag{
				Name:    "default-timeout",
				Usage:   "Default timeout for awaited workflow executions",
				Value:   executor.DefaultTimeout,
				Sources: cli.EnvVars("DEFAULT_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Interval between backend status polls",
				Value:   executor.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "wait-for-completion",
				Usage:   "Block event dispatch until triggered executions reach a terminal state",
				Sources: cli.EnvVars("WAIT_FOR_COMPLETION"),
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

			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("dispatcher").With("dispatcher_id", dispatcherID)

			logger.InfoContext(ctx, "Initializing Identiflow Dispatcher")

			tracer, err := otelhelper.NewTracer(ctx, "identiflow-dispatcher")
			if err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			}

			conn := cmd.NewConnector(
				command.Bool("simulation-mode"),
				command.String("backend-url"),
				command.String("backend-token"),
				logger,
			)

			defer func() {
				if err := conn.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close connector", "error", err)
				}
			}()

			exec := executor.NewExecutor(conn, executor.Config{
				DefaultTimeout: command.Duration("default-timeout"),
				PollInterval:   command.Duration("poll-interval"),
			}, logger)
			if tracer != nil {
				exec.SetTracer(tracer)
			}

			trg := trigger.NewTrigger(exec, conn, trigger.Config{
				WaitForCompletion: command.Bool("wait-for-completion"),
			}, logger)

			if err := trg.RegisterDefaultRules(ctx); err != nil {
				return fmt.Errorf("failed to register default rules: %w", err)
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var scheduleReceiver *schedule.Receiver

			if command.Bool("schedule-sources") {
				receiver, err := cmd.NewScheduleReceiver(eventBus, nil, logger)
				if err != nil {
					return err
				}

				scheduleReceiver = receiver
			}

			var queueReceiver *queue.Receiver

			if redisURL := command.String("redis-url"); redisURL != "" {
				queueReceiver, err = cmd.NewQueueReceiver(eventBus, redisURL, command.String("redis-queue"), logger)
				if err != nil {
					return err
				}
			}

			NewDispatcher(
				dispatcherID,
				trg,
				eventBus,
				scheduleReceiver,
				queueReceiver,
				logger,
			).Start(ctx)

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		slog.Error("Dispatcher terminated", "error", err)
		os.Exit(1)
	}
}
