package cmd

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/identiflow/pkg/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewConnector_SimulationMode(t *testing.T) {
	conn := NewConnector(true, "", "", testLogger())

	assert.IsType(t, &connector.Simulator{}, conn)

	flows, err := conn.ListFlows(context.Background(), connector.ListFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, flows)
}

func TestNewConnector_HTTPMode(t *testing.T) {
	conn := NewConnector(false, "http://backend.internal:8080", "token", testLogger())

	assert.IsType(t, &connector.HTTPConnector{}, conn)
}

func TestNewConnector_MissingBackendURL(t *testing.T) {
	assert.Panics(t, func() {
		NewConnector(false, "", "", testLogger())
	})
}

func TestNewEventBus_GoChannel(t *testing.T) {
	bus := NewEventBus("gochannel", testLogger())

	require.NotNil(t, bus)
	assert.NotEmpty(t, bus.GenerateID())
	require.NoError(t, bus.Close())
}

func TestNewEventBus_DefaultsToGoChannel(t *testing.T) {
	bus := NewEventBus("", testLogger())

	require.NotNil(t, bus)
	require.NoError(t, bus.Close())
}

func TestNewEventBus_Unsupported(t *testing.T) {
	assert.Panics(t, func() {
		NewEventBus("rabbitmq", testLogger())
	})
}

func TestDefaultScheduleSources(t *testing.T) {
	sources := DefaultScheduleSources()

	require.NotEmpty(t, sources)
	assert.True(t, sources[0].Enabled)
	assert.NotEmpty(t, sources[0].CronExpr)
}

func TestNewQueueReceiver_ParsesRedisURL(t *testing.T) {
	bus := NewEventBus("gochannel", testLogger())
	defer bus.Close()

	receiver, err := NewQueueReceiver(bus, "redis://:secret@redis.internal:6380/2", "", testLogger())

	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", receiver.Addr)
	assert.Equal(t, "secret", receiver.Password)
	assert.Equal(t, 2, receiver.DB)

	_, err = NewQueueReceiver(bus, "not a url", "", testLogger())
	assert.Error(t, err)
}
