package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/identiflow/pkg/cmd"
	"github.com/dukex/identiflow/pkg/connector"
	"github.com/dukex/identiflow/pkg/executor"
	"github.com/dukex/identiflow/pkg/log"
	"github.com/dukex/identiflow/pkg/trigger"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9093

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "identiflow-api",
		Usage:                 "Ingest identity lifecycle events and manage workflow executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
			&cli.IntFlag{
				Name:    "max-parallel",
				Usage:   "Maximum concurrent executions per batch (0 = unbounded)",
				Sources: cli.EnvVars("MAX_PARALLEL"),
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

			logger.InfoContext(ctx, "Initializing Identiflow API")

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
				MaxParallel:    command.Int("max-parallel"),
			}, logger)

			trg := trigger.NewTrigger(exec, conn, trigger.Config{
				WaitForCompletion: command.Bool("wait-for-completion"),
			}, logger)

			if err := registerDefaults(ctx, trg, conn); err != nil {
				return err
			}

			api := NewAPI(
				logger,
				trg,
				exec,
				conn,
			)

			err := api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

// registerDefaults installs the stock rule set. The backend may still be
// warming up, so a short bounded wait keeps startup resilient without
// masking a genuinely unreachable backend.
func registerDefaults(ctx context.Context, trg *trigger.Trigger, conn connector.Connector) error {
	var err error

	for attempt := range 3 {
		if attempt > 0 {
			time.Sleep(time.Second)
		}

		err = trg.RegisterDefaultRules(ctx)
		if err == nil || !connector.IsConnectionError(err) {
			return err
		}
	}

	return err
}
