package pubsub

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/device-gateway-service/config"
)

// Provider owns the bus endpoints for the configured driver. The
// in-process gochannel is the default; AMQP fans events out to other
// consumers on the bench network.
type Provider struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	// shared marks the gochannel case where both endpoints are one
	// object and must be closed once.
	shared bool
}

func NewProvider(cfg *config.Config, logger *slog.Logger) (*Provider, error) {
	wlog := watermill.NewSlogLogger(logger)

	switch cfg.PubSub.Driver {
	case "", "memory":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wlog)
		return &Provider{publisher: ch, subscriber: ch, shared: true}, nil

	case "amqp":
		amqpCfg := amqp.NewDurablePubSubConfig(
			cfg.PubSub.URL,
			amqp.GenerateQueueNameTopicNameWithSuffix("device_gateway"),
		)
		pub, err := amqp.NewPublisher(amqpCfg, wlog)
		if err != nil {
			return nil, fmt.Errorf("pubsub: amqp publisher: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, wlog)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("pubsub: amqp subscriber: %w", err)
		}
		return &Provider{publisher: pub, subscriber: sub}, nil

	default:
		return nil, fmt.Errorf("pubsub: unknown driver %q", cfg.PubSub.Driver)
	}
}

func (p *Provider) Publisher() message.Publisher   { return p.publisher }
func (p *Provider) Subscriber() message.Subscriber { return p.subscriber }

func (p *Provider) Close() error {
	err := p.publisher.Close()
	if !p.shared {
		if serr := p.subscriber.Close(); err == nil {
			err = serr
		}
	}
	return err
}
