// Package schedule emits synthetic lifecycle events on cron schedules, for
// sweeps the identity provider does not push itself (password expiry checks
// and similar).
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/identiflow/pkg/eventbus"
	"github.com/dukex/identiflow/pkg/events"
	"github.com/robfig/cron/v3"
)

// Source describes one scheduled event emitter.
type Source struct {
	Name      string           `json:"name"`
	CronExpr  string           `json:"cron"`
	EventType events.EventType `json:"event_type"`
	SubjectID string           `json:"subject_id,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	Enabled   bool             `json:"enabled"`
}

type Receiver struct {
	sources  []Source
	eventBus eventbus.EventPublisher
	logger   *slog.Logger
	cron     *cron.Cron
	jobs     map[string]cron.EntryID
	mutex    sync.Mutex
}

func NewReceiver(bus eventbus.EventPublisher, logger *slog.Logger) *Receiver {
	return &Receiver{
		eventBus: bus,
		logger:   logger.With("module", "schedule_receiver"),
		jobs:     make(map[string]cron.EntryID),
	}
}

func (r *Receiver) Configure(sources []Source) error {
	r.sources = sources

	return r.Validate()
}

func (r *Receiver) Validate() error {
	if len(r.sources) == 0 {
		return errors.New("no schedule sources configured")
	}

	for _, source := range r.sources {
		if source.Name == "" {
			return errors.New("schedule source name is required")
		}

		if source.EventType == "" {
			return fmt.Errorf("event type required for schedule source %s", source.Name)
		}

		if _, err := cron.ParseStandard(source.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression '%s' for source %s: %w", source.CronExpr, source.Name, err)
		}
	}

	return nil
}

func (r *Receiver) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Starting schedule receiver", "sources_count", len(r.sources))

	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	for _, source := range r.sources {
		if err := r.startSource(ctx, source); err != nil {
			return err
		}
	}

	r.cron.Start()

	return nil
}

func (r *Receiver) startSource(ctx context.Context, source Source) error {
	logger := r.logger.With("source", source.Name)

	if !source.Enabled {
		logger.InfoContext(ctx, "Schedule source is disabled, skipping")

		return nil
	}

	entryID, err := r.cron.AddFunc(source.CronExpr, func() {
		r.publishEvent(source)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job for source %s: %w", source.Name, err)
	}

	r.mutex.Lock()
	r.jobs[source.Name] = entryID
	r.mutex.Unlock()

	logger.InfoContext(ctx, "Added cron job for schedule source", "cron", source.CronExpr, "event_type", source.EventType)

	return nil
}

func (r *Receiver) publishEvent(source Source) {
	logger := r.logger.With("source", source.Name)

	metadata := map[string]any{
		"source": source.Name,
		"cron":   source.CronExpr,
	}

	for k, v := range source.Metadata {
		metadata[k] = v
	}

	event := events.NewLifecycleEvent(source.EventType, source.SubjectID, "", metadata)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.eventBus.Publish(ctx, source.Name, event); err != nil {
		logger.Error("Failed to publish scheduled event", "error", err)

		return
	}

	logger.Debug("Published scheduled event", "event_id", event.EventID, "event_type", event.Type)
}

func (r *Receiver) Stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Stopping schedule receiver")

	if r.cron != nil {
		r.cron.Stop()
	}

	r.mutex.Lock()
	r.jobs = make(map[string]cron.EntryID)
	r.mutex.Unlock()

	return nil
}
