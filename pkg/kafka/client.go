// Package kafka carries outbox events over Kafka when the eventing broker is
// set to kafka. Event attributes travel as record headers and the aggregate id
// is the record key, so events for one payment land on one partition.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/outbox"
)

const defaultHandlerAttempts = 3

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outbox messages with a shared kafka.Writer.
type Publisher struct {
	writer messageWriter
}

// NewPublisher builds a publisher for the configured brokers. The topic is
// taken from each message.
func NewPublisher(cfg config.KafkaConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Balancer: &kafka.LeastBytes{},
		},
	}, nil
}

// Publish writes a single record and waits for the broker ack.
func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	if msg.Topic == "" {
		return errors.New("kafka topic is required")
	}
	return p.writer.WriteMessages(ctx, toKafkaMessage(msg))
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func toKafkaMessage(msg outbox.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Data,
		Headers: headers,
		Time:    time.Now(),
	}
}

// Subscriber reads one topic within a consumer group and commits offsets
// only after the handler is done with a record.
type Subscriber struct {
	reader   messageReader
	logg     *logger.Logger
	attempts int
}

// NewSubscriber joins cfg.GroupID on topic.
func NewSubscriber(cfg config.KafkaConfig, topic string, logg *logger.Logger) (*Subscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   topic,
		GroupID: cfg.GroupID,
	})
	return &Subscriber{reader: reader, logg: logg, attempts: defaultHandlerAttempts}, nil
}

// Receive fetches records until ctx ends. Kafka has no per-record nack, so a
// failing handler is retried in place and the record is committed after the
// last attempt to keep the partition moving.
func (s *Subscriber) Receive(ctx context.Context, handler func(context.Context, outbox.Delivery) error) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch kafka message: %w", err)
		}

		delivery := fromKafkaMessage(msg)
		var handlerErr error
		for attempt := 1; attempt <= s.attempts; attempt++ {
			if handlerErr = handler(ctx, delivery); handlerErr == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		if handlerErr != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"delivery_id": delivery.ID,
				"event_type":  delivery.Attributes["event_type"],
			})
			s.logg.Error(logCtx, "kafka handler gave up on message", handlerErr)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit kafka message: %w", err)
		}
	}
}

func (s *Subscriber) Close() error {
	return s.reader.Close()
}

func fromKafkaMessage(msg kafka.Message) outbox.Delivery {
	attrs := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		attrs[h.Key] = string(h.Value)
	}
	return outbox.Delivery{
		ID:         fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Data:       msg.Value,
		Attributes: attrs,
	}
}

// Ping dials the first reachable broker and reads the partitions of topic.
func Ping(ctx context.Context, brokers []string, topic string) error {
	if len(brokers) == 0 {
		return errors.New("kafka brokers are required")
	}
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			return fmt.Errorf("read partitions of %s: %w", topic, err)
		}
		return nil
	}
	return fmt.Errorf("dial kafka: %w", lastErr)
}

var (
	_ outbox.Publisher  = (*Publisher)(nil)
	_ outbox.Subscriber = (*Subscriber)(nil)
)
