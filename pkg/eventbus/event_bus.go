// Package eventbus carries lifecycle events from producers to the dispatcher.
package eventbus

import (
	"context"

	"github.com/dukex/identiflow/pkg/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, event events.LifecycleEvent) error
}

type EventSubscriber interface {
	Handle(handler EventHandler)
	Subscribe(ctx context.Context) error
}

// EventHandler consumes one lifecycle event. A returned error nacks the
// message so the channel can redeliver it.
type EventHandler func(ctx context.Context, event events.LifecycleEvent) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
