package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/learnonline/payments-backend/pkg/outbox"
)

// Publisher adapts Pub/Sub topic publishers to outbox.Publisher. Handles are
// created lazily per topic and stopped on Close.
type Publisher struct {
	client *Client
	mu     sync.Mutex
	topics map[string]*pubsub.Publisher
}

// NewPublisher builds an outbox publisher backed by client.
func NewPublisher(client *Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &Publisher{client: client, topics: map[string]*pubsub.Publisher{}}, nil
}

// Publish sends msg and blocks until the server returns a message id.
func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	handle, err := p.topic(msg.Topic)
	if err != nil {
		return err
	}
	result := handle.Publish(ctx, toPubSubMessage(msg))
	if result == nil {
		return fmt.Errorf("publisher returned nil for topic %s", msg.Topic)
	}
	_, err = result.Get(ctx)
	return err
}

func (p *Publisher) topic(name string) (*pubsub.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if handle, ok := p.topics[name]; ok {
		return handle, nil
	}
	handle := p.client.Publisher(name)
	if handle == nil {
		return nil, fmt.Errorf("publisher not configured for topic %s", name)
	}
	p.topics[name] = handle
	return handle, nil
}

// Close flushes and stops every topic handle opened by Publish.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, handle := range p.topics {
		handle.Stop()
		delete(p.topics, name)
	}
	return nil
}

func toPubSubMessage(msg outbox.Message) *pubsub.Message {
	attrs := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	return &pubsub.Message{
		Data:       msg.Data,
		Attributes: attrs,
	}
}

// Subscriber adapts a Pub/Sub subscription to outbox.Subscriber.
type Subscriber struct {
	sub *pubsub.Subscriber
}

// NewSubscriber wraps the named subscription.
func NewSubscriber(client *Client, subscription string) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	sub := client.Subscription(subscription)
	if sub == nil {
		return nil, fmt.Errorf("subscription %q not configured", subscription)
	}
	return &Subscriber{sub: sub}, nil
}

// Receive acks messages whose handler returns nil and nacks the rest.
func (s *Subscriber) Receive(ctx context.Context, handler func(context.Context, outbox.Delivery) error) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	return s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handler(ctx, fromPubSubMessage(msg)); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close is a no-op; the owning Client releases the connection.
func (s *Subscriber) Close() error {
	return nil
}

func fromPubSubMessage(msg *pubsub.Message) outbox.Delivery {
	return outbox.Delivery{
		ID:         msg.ID,
		Data:       msg.Data,
		Attributes: msg.Attributes,
	}
}
