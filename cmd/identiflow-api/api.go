// Package main provides the identiflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/identiflow/pkg/connector"
	"github.com/dukex/identiflow/pkg/executor"
	"github.com/dukex/identiflow/pkg/trigger"
	"github.com/dukex/identiflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger    *slog.Logger
	trigger   *trigger.Trigger
	executor  *executor.Executor
	connector connector.Connector
	validate  *validator.Validate
}

func NewAPI(
	log *slog.Logger,
	t *trigger.Trigger,
	exec *executor.Executor,
	conn connector.Connector,
) *API {
	return &API{
		logger:    log,
		trigger:   t,
		executor:  exec,
		connector: conn,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.trigger, a.executor, a.connector, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("identiflow API")
	})

	e := app.Group("/events")
	e.Post("/", handlers.ProcessEvent)
	e.Post("/simulate", handlers.SimulateEvent)
	e.Post("/batch", handlers.ProcessEventsBatch)
	e.Get("/", handlers.GetEventHistory)
	e.Get("/:id/executions", handlers.GetEventWorkflows)

	x := app.Group("/executions")
	x.Get("/", handlers.GetExecutions)
	x.Get("/:id", handlers.GetExecution)
	x.Post("/:id/cancel", handlers.CancelExecution)

	r := app.Group("/rules")
	r.Get("/", handlers.GetRules)
	r.Post("/", handlers.CreateRule)
	r.Delete("/:id", handlers.DeleteRule)

	f := app.Group("/flows")
	f.Get("/", handlers.GetFlows)
	f.Get("/:id/executions", handlers.GetFlowBackendHistory)

	app.Get("/stats/success-rate", handlers.GetSuccessRate)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
