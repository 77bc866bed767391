// Package registry knows every event type the outbox may carry: which
// aggregate it belongs to, which topic it goes to, and how its payload
// decodes for each envelope version.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/outbox/payloads"
)

// ErrPermanent marks an outbox row that no amount of retrying will publish.
var ErrPermanent = errors.New("permanent outbox failure")

// Permanent tags err with ErrPermanent.
func Permanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err was tagged by Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

type decodeFunc func(json.RawMessage) (any, error)

// EventDescriptor describes one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decoders      map[int]decodeFunc
}

// Supports reports whether payloads of the envelope version can be decoded.
func (d EventDescriptor) Supports(version int) bool {
	_, ok := d.decoders[version]
	return ok
}

// ResolvedEvent is an outbox row checked against its descriptor.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry maps event types to descriptors.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func jsonDecoder[T any]() decodeFunc {
	return func(raw json.RawMessage) (any, error) {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func describe[T any](eventType enums.OutboxEventType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: eventType.Aggregate(),
		Topic:         topic,
		decoders:      map[int]decodeFunc{outbox.EnvelopeVersion: jsonDecoder[T]()},
	}
}

// NewEventRegistry routes every payment and certificate event to
// paymentsTopic.
func NewEventRegistry(paymentsTopic string) (*EventRegistry, error) {
	topic := strings.TrimSpace(paymentsTopic)
	if topic == "" {
		return nil, errors.New("payments topic is required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, d := range []EventDescriptor{
		describe[payloads.PaymentCompletedEvent](enums.EventPaymentCompleted, topic),
		describe[payloads.PaymentFailedEvent](enums.EventPaymentFailed, topic),
		describe[payloads.PaymentRefundedEvent](enums.EventPaymentRefunded, topic),
		describe[payloads.CertificateIssuedEvent](enums.EventCertificateIssued, topic),
	} {
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Lookup returns the descriptor for eventType.
func (r *EventRegistry) Lookup(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	d, ok := r.entries[eventType]
	return d, ok
}

// Resolve validates row and decodes its payload. Every error it returns is
// permanent.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[row.EventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("unsupported event type %q", row.EventType))
	}
	if desc.AggregateType != row.AggregateType {
		return nil, Permanent(fmt.Errorf("%s belongs to %s, row says %s", row.EventType, desc.AggregateType, row.AggregateType))
	}
	if strings.TrimSpace(row.AggregateID) == "" {
		return nil, Permanent(errors.New("missing aggregate_id"))
	}

	env, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, Permanent(err)
	}
	decode, ok := desc.decoders[env.Version]
	if !ok {
		return nil, Permanent(fmt.Errorf("%s has no decoder for envelope v%d", row.EventType, env.Version))
	}
	payload, err := decode(env.Data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decode %s payload: %w", row.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
