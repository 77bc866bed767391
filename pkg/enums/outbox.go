package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregatePayment     OutboxAggregateType = "payment"
	AggregateCertificate OutboxAggregateType = "certificate"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregatePayment || a == AggregateCertificate
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event emitted through the outbox. The value
// travels as the event_type message attribute.
type OutboxEventType string

const (
	EventPaymentCompleted  OutboxEventType = "payment_completed"
	EventPaymentFailed     OutboxEventType = "payment_failed"
	EventPaymentRefunded   OutboxEventType = "payment_refunded"
	EventCertificateIssued OutboxEventType = "certificate_issued"
)

func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventPaymentCompleted, EventPaymentFailed, EventPaymentRefunded, EventCertificateIssued:
		return true
	}
	return false
}

// Aggregate is the aggregate type that emits e.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	if e == EventCertificateIssued {
		return AggregateCertificate
	}
	return AggregatePayment
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// PaymentEventForStatus returns the event announcing a payment reaching
// status. Pending has none.
func PaymentEventForStatus(status PaymentStatus) (OutboxEventType, bool) {
	switch status {
	case PaymentStatusCompleted:
		return EventPaymentCompleted, true
	case PaymentStatusFailed:
		return EventPaymentFailed, true
	case PaymentStatusRefunded:
		return EventPaymentRefunded, true
	}
	return "", false
}
