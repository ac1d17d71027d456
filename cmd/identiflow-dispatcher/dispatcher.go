package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/identiflow/pkg/eventbus"
	"github.com/dukex/identiflow/pkg/events"
	"github.com/dukex/identiflow/pkg/receivers/queue"
	"github.com/dukex/identiflow/pkg/receivers/schedule"
	"github.com/dukex/identiflow/pkg/trigger"
)

// Dispatcher consumes lifecycle events from the bus and the receivers and
// feeds them to the trigger.
type Dispatcher struct {
	id               string
	eventBus         eventbus.EventBus
	trigger          *trigger.Trigger
	scheduleReceiver *schedule.Receiver
	queueReceiver    *queue.Receiver
	logger           *slog.Logger
	restartCount     int
}

func NewDispatcher(
	id string,
	trg *trigger.Trigger,
	eventBus eventbus.EventBus,
	scheduleReceiver *schedule.Receiver,
	queueReceiver *queue.Receiver,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		id:               id,
		eventBus:         eventBus,
		trigger:          trg,
		scheduleReceiver: scheduleReceiver,
		queueReceiver:    queueReceiver,
		logger:           logger.With("module", "dispatcher"),
	}
}

// Start begins the dispatcher service.
func (d *Dispatcher) Start(ctx context.Context) {
	dCtx, cancel := context.WithCancel(ctx)

	d.logger.Info("Starting dispatcher")

	d.handleSignals(dCtx, cancel)
	d.run(dCtx)
}

// handleSignals sets up signal handling for graceful shutdown and restart.
func (d *Dispatcher) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		d.logger.Info("Received signal", "signal", sig)

		switch sig {
		case syscall.SIGHUP:
			d.logger.Info("Reloading configuration...")
			d.restart(ctx, cancel)
		case syscall.SIGINT, syscall.SIGTERM:
			d.logger.Info("Shutting down gracefully...")
			d.stop(ctx, cancel)
			os.Exit(0)
		default:
			d.logger.Warn("Unhandled signal received", "signal", sig)
		}
	}()
}

// restart handles service restart with exponential backoff.
func (d *Dispatcher) restart(ctx context.Context, cancel context.CancelFunc) {
	d.restartCount++
	newCtx := context.WithoutCancel(ctx)

	d.stop(ctx, cancel)

	if d.restartCount > 5 {
		d.logger.Error("Restart limit reached, exiting...")
		os.Exit(1)
	}

	backoff := time.Duration(d.restartCount) * time.Second
	d.logger.Info("Restarting dispatcher...", "backoff", backoff)
	time.Sleep(backoff)

	d.Start(newCtx)
}

func (d *Dispatcher) stop(ctx context.Context, cancel context.CancelFunc) {
	if d.scheduleReceiver != nil {
		if err := d.scheduleReceiver.Stop(ctx); err != nil {
			d.logger.Error("Failed to stop schedule receiver", "error", err)
		}
	}

	if d.queueReceiver != nil {
		if err := d.queueReceiver.Stop(ctx); err != nil {
			d.logger.Error("Failed to stop queue receiver", "error", err)
		}
	}

	cancel()
}

// run subscribes the trigger to the event bus, starts the receivers and
// blocks until the context is cancelled.
func (d *Dispatcher) run(ctx context.Context) {
	d.eventBus.Handle(func(ctx context.Context, event events.LifecycleEvent) error {
		results := d.trigger.ProcessEvent(ctx, event)

		d.logger.InfoContext(ctx, "Dispatched lifecycle event",
			"event_id", event.EventID,
			"event_type", event.Type,
			"executions", len(results))

		return nil
	})

	if err := d.eventBus.Subscribe(ctx); err != nil {
		d.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return
	}

	if d.scheduleReceiver != nil {
		if err := d.scheduleReceiver.Start(ctx); err != nil {
			d.logger.ErrorContext(ctx, "Failed to start schedule receiver", "error", err)

			return
		}
	}

	if d.queueReceiver != nil {
		if err := d.queueReceiver.Start(ctx); err != nil {
			d.logger.ErrorContext(ctx, "Failed to start queue receiver", "error", err)

			return
		}
	}

	<-ctx.Done()
	d.logger.Info("Dispatcher context cancelled, stopping...")
}
