package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/device-gateway-service/config"
	"github.com/webitel/device-gateway-service/internal/domain/event"
)

func memoryDispatcher(t *testing.T) EventDispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider, err := NewProvider(&config.Config{PubSub: config.PubSub{Driver: "memory"}}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	return NewEventDispatcher(provider)
}

func TestPublishReachesRoutingKeyAndFirehose(t *testing.T) {
	d := memoryDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := event.NewCommandCompletedV1("mock0", event.CommandPayloadV1{
		CommandID: 7,
		Kind:      "set",
		Status:    "completed",
	})

	routed, err := d.Subscriber().Subscribe(ctx, ev.GetRoutingKey())
	require.NoError(t, err)
	firehose, err := d.Subscriber().Subscribe(ctx, TopicAllEvents)
	require.NoError(t, err)

	require.NoError(t, d.Publish(ctx, ev))

	select {
	case msg := <-routed:
		msg.Ack()
		var got event.CommandCompletedV1
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, uint64(7), got.Command.CommandID)
		assert.Equal(t, "mock0", msg.Metadata.Get("device"))
	case <-time.After(2 * time.Second):
		t.Fatal("routed subscriber got nothing")
	}

	select {
	case msg := <-firehose:
		msg.Ack()
		assert.Equal(t, ev.GetRoutingKey(), msg.Metadata.Get("routing_key"))
	case <-time.After(2 * time.Second):
		t.Fatal("firehose subscriber got nothing")
	}
}

func TestUnknownDriverRejected(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewProvider(&config.Config{PubSub: config.PubSub{Driver: "carrier-pigeon"}}, logger)
	require.Error(t, err)
}

func TestPublishNilEventFails(t *testing.T) {
	d := memoryDispatcher(t)
	require.Error(t, d.Publish(context.Background(), nil))
}
