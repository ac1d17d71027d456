// Package queue consumes lifecycle events pushed by identity systems onto a
// redis list and republishes them on the event bus.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/identiflow/pkg/eventbus"
	"github.com/dukex/identiflow/pkg/events"
	redis "github.com/redis/go-redis/v9"
)

const defaultQueue = "identiflow:events"

type Receiver struct {
	Addr     string
	Password string
	DB       int
	Queue    string

	client   redis.UniversalClient
	eventBus eventbus.EventPublisher
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewReceiver(bus eventbus.EventPublisher, addr, password string, db int, queue string, logger *slog.Logger) *Receiver {
	if addr == "" {
		addr = "localhost:6379"
	}

	if queue == "" {
		queue = defaultQueue
	}

	return &Receiver{
		Addr:     addr,
		Password: password,
		DB:       db,
		Queue:    queue,
		eventBus: bus,
		stopCh:   make(chan struct{}),
		logger: logger.With(
			"module", "queue_receiver",
			"queue", queue,
		),
	}
}

func (r *Receiver) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Starting queue receiver")

	r.client = redis.NewClient(&redis.Options{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := r.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.InfoContext(ctx, "Connected to Redis", "addr", r.Addr, "db", r.DB)

	r.wg.Add(1)

	go r.consume(ctx)

	return nil
}

func (r *Receiver) Stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Stopping queue receiver")

	close(r.stopCh)
	r.wg.Wait()

	if r.client != nil {
		return r.client.Close()
	}

	return nil
}

func (r *Receiver) consume(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			r.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := r.processMessage(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (r *Receiver) processMessage(ctx context.Context) error {
	result, err := r.client.BLPop(ctx, 1*time.Second, r.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop from queue: %w", err)
	}

	// BLPop returns [queue, payload].
	if len(result) < 2 {
		return nil
	}

	var event events.LifecycleEvent

	err = json.Unmarshal([]byte(result[1]), &event)
	if err != nil {
		return fmt.Errorf("failed to decode lifecycle event: %w", err)
	}

	if event.EventID == "" || event.Type == "" {
		return errors.New("lifecycle event missing event_id or event_type")
	}

	err = r.eventBus.Publish(ctx, event.EventID, event)
	if err != nil {
		return fmt.Errorf("failed to republish event: %w", err)
	}

	r.logger.DebugContext(ctx, "Relayed lifecycle event", "event_id", event.EventID, "event_type", event.Type)

	return nil
}
