// Package broker selects the event transport configured by
// LEARNONLINE_EVENTING_BROKER.
package broker

import (
	"context"
	"fmt"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/kafka"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/pubsub"
)

// Publishing bundles the publisher with the topic events should go to and a
// readiness probe for the underlying connection.
type Publishing struct {
	Publisher outbox.Publisher
	Topic     string
	Ping      func(context.Context) error
	close     func() error
}

// Close releases the publisher and its connection.
func (p *Publishing) Close() error {
	if p == nil || p.close == nil {
		return nil
	}
	return p.close()
}

// NewPublishing builds the configured publisher.
func NewPublishing(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Publishing, error) {
	switch broker := cfg.Eventing.NormalizedBroker(); broker {
	case config.BrokerPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		pub, err := pubsub.NewPublisher(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Publishing{
			Publisher: pub,
			Topic:     cfg.PubSub.PaymentsTopic,
			Ping:      client.PingPublisher,
			close: func() error {
				_ = pub.Close()
				return client.Close()
			},
		}, nil
	case config.BrokerKafka:
		pub, err := kafka.NewPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return &Publishing{
			Publisher: pub,
			Topic:     cfg.Kafka.PaymentsTopic,
			Ping:      kafkaPing(cfg.Kafka),
			close:     pub.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported eventing broker %q", broker)
	}
}

// Subscription bundles a subscriber with its connection teardown.
type Subscription struct {
	Subscriber outbox.Subscriber
	Ping       func(context.Context) error
	close      func() error
}

// Close releases the subscriber and its connection.
func (s *Subscription) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// NewSubscription builds the configured subscriber for the certificate worker.
func NewSubscription(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Subscription, error) {
	switch broker := cfg.Eventing.NormalizedBroker(); broker {
	case config.BrokerPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		sub, err := pubsub.NewSubscriber(client, cfg.PubSub.CertificatesSubscription)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Subscription{Subscriber: sub, Ping: client.PingSubscriber, close: client.Close}, nil
	case config.BrokerKafka:
		sub, err := kafka.NewSubscriber(cfg.Kafka, cfg.Kafka.PaymentsTopic, logg)
		if err != nil {
			return nil, err
		}
		return &Subscription{
			Subscriber: sub,
			Ping:       kafkaPing(cfg.Kafka),
			close:      sub.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported eventing broker %q", broker)
	}
}

func kafkaPing(cfg config.KafkaConfig) func(context.Context) error {
	return func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Brokers, cfg.PaymentsTopic)
	}
}
