package outbox

import "context"

// Message is a broker-neutral outbound event. Pub/Sub maps Attributes to
// message attributes and Kafka maps them to headers; Key becomes the ordering
// or partition key.
type Message struct {
	Topic      string
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Publisher delivers a message and returns once the broker acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Delivery is one inbound message handed to a consumer handler.
type Delivery struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Subscriber streams deliveries to handler until ctx is canceled. A nil
// handler error acknowledges the delivery; anything else requests redelivery.
type Subscriber interface {
	Receive(ctx context.Context, handler func(context.Context, Delivery) error) error
	Close() error
}
