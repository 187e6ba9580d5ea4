package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/device-gateway-service/internal/domain/event"
)

// TopicAllEvents is the firehose topic: every event goes here besides
// its own routing key, so stream consumers need a single subscription.
const TopicAllEvents = "device_gateway.events"

// EventDispatcher defines the high-level contract for outgoing events.
// This allows the service to stay agnostic of the transport
// implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev event.Eventer) error
	Subscriber() message.Subscriber
}

// eventDispatcher is the concrete implementation (private).
type eventDispatcher struct {
	provider *Provider
}

// NewEventDispatcher returns the interface instead of the pointer to
// the struct.
func NewEventDispatcher(p *Provider) EventDispatcher {
	return &eventDispatcher{provider: p}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev event.Eventer) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}
	topic := ev.GetRoutingKey()
	if topic == "" {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("device", ev.GetDevice())
	msg.Metadata.Set("event_id", ev.GetID().String())
	msg.Metadata.Set("routing_key", topic)

	if err := d.provider.Publisher().Publish(topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", topic, err)
	}

	firehose := message.NewMessage(watermill.NewUUID(), payload)
	firehose.SetContext(ctx)
	firehose.Metadata.Set("device", ev.GetDevice())
	firehose.Metadata.Set("event_id", ev.GetID().String())
	firehose.Metadata.Set("routing_key", topic)
	if err := d.provider.Publisher().Publish(TopicAllEvents, firehose); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to firehose: %w", err)
	}
	return nil
}

func (d *eventDispatcher) Subscriber() message.Subscriber {
	return d.provider.Subscriber()
}
