package schedule

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/identiflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.LifecycleEvent
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event events.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) published() []events.LifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.LifecycleEvent, len(p.events))
	copy(out, p.events)

	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestReceiver_Validate(t *testing.T) {
	receiver := NewReceiver(&capturePublisher{}, testLogger())

	assert.Error(t, receiver.Configure(nil))

	assert.Error(t, receiver.Configure([]Source{
		{CronExpr: "0 2 * * *", EventType: events.PasswordExpiring, Enabled: true},
	}))

	assert.Error(t, receiver.Configure([]Source{
		{Name: "sweep", CronExpr: "0 2 * * *", Enabled: true},
	}))

	assert.Error(t, receiver.Configure([]Source{
		{Name: "sweep", CronExpr: "not a cron", EventType: events.PasswordExpiring, Enabled: true},
	}))

	assert.NoError(t, receiver.Configure([]Source{
		{Name: "sweep", CronExpr: "0 2 * * *", EventType: events.PasswordExpiring, Enabled: true},
	}))
}

func TestReceiver_PublishesScheduledEvents(t *testing.T) {
	publisher := &capturePublisher{}
	receiver := NewReceiver(publisher, testLogger())

	require.NoError(t, receiver.Configure([]Source{
		{
			Name:      "fast-sweep",
			CronExpr:  "@every 10ms",
			EventType: events.PasswordExpiring,
			SubjectID: "user-001",
			Metadata:  map[string]any{"expiry_date": "2026-09-15"},
			Enabled:   true,
		},
	}))

	ctx := context.Background()
	require.NoError(t, receiver.Start(ctx))

	assert.Eventually(t, func() bool {
		return len(publisher.published()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, receiver.Stop(ctx))

	published := publisher.published()
	require.NotEmpty(t, published)
	assert.Equal(t, events.PasswordExpiring, published[0].Type)
	assert.Equal(t, "user-001", published[0].SubjectID)
	assert.Equal(t, "2026-09-15", published[0].Metadata["expiry_date"])
	assert.Equal(t, "fast-sweep", published[0].Metadata["source"])
}

func TestReceiver_DisabledSourceDoesNotFire(t *testing.T) {
	publisher := &capturePublisher{}
	receiver := NewReceiver(publisher, testLogger())

	require.NoError(t, receiver.Configure([]Source{
		{
			Name:      "parked-sweep",
			CronExpr:  "@every 10ms",
			EventType: events.PasswordExpiring,
			Enabled:   false,
		},
	}))

	ctx := context.Background()
	require.NoError(t, receiver.Start(ctx))

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, receiver.Stop(ctx))
	assert.Empty(t, publisher.published())
}
