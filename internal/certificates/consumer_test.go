package certificates

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/outbox/idempotency"
	"github.com/learnonline/payments-backend/pkg/outbox/payloads"
)

type fakeIssuer struct {
	calls int
	err   error
}

func (f *fakeIssuer) Issue(context.Context, payloads.PaymentCompletedEvent) (*models.Certificate, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.Certificate{}, true, nil
}

type fakeTracker struct {
	states   map[uuid.UUID]idempotency.State
	released int
	err      error
}

func (f *fakeTracker) Claim(_ context.Context, _ string, id uuid.UUID) (idempotency.State, error) {
	if f.err != nil {
		return idempotency.InFlight, f.err
	}
	if f.states == nil {
		f.states = map[uuid.UUID]idempotency.State{}
	}
	if state, ok := f.states[id]; ok {
		return state, nil
	}
	f.states[id] = idempotency.InFlight
	return idempotency.Claimed, nil
}

func (f *fakeTracker) Complete(_ context.Context, _ string, id uuid.UUID) error {
	f.states[id] = idempotency.Done
	return nil
}

func (f *fakeTracker) Release(_ context.Context, _ string, id uuid.UUID) error {
	f.released++
	delete(f.states, id)
	return nil
}

type fakeSubscriber struct {
	deliveries []outbox.Delivery
	results    []error
}

func (f *fakeSubscriber) Receive(ctx context.Context, handler func(context.Context, outbox.Delivery) error) error {
	for _, d := range f.deliveries {
		f.results = append(f.results, handler(ctx, d))
	}
	return nil
}

func (f *fakeSubscriber) Close() error { return nil }

func completedDelivery(t *testing.T, purchaseType enums.PurchaseType) outbox.Delivery {
	t.Helper()
	courseID := uuid.New()
	data, err := json.Marshal(payloads.PaymentCompletedEvent{
		TransactionID: "T1",
		UserID:        uuid.New(),
		CourseID:      &courseID,
		PurchaseType:  purchaseType,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return outbox.Delivery{
		ID:   "m-1",
		Data: envelope,
		Attributes: map[string]string{
			"event_type":     string(enums.EventPaymentCompleted),
			"aggregate_type": string(enums.AggregatePayment),
			"aggregate_id":   "T1",
		},
	}
}

func newTestConsumer(t *testing.T, sub *fakeSubscriber, issuer *fakeIssuer, tracker *fakeTracker) *Consumer {
	t.Helper()
	c, err := NewConsumer(sub, issuer, tracker, logger.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	return c
}

func TestConsumerIssuesOncePerEvent(t *testing.T) {
	d := completedDelivery(t, enums.PurchaseTypeCertificate)
	sub := &fakeSubscriber{deliveries: []outbox.Delivery{d, d}}
	issuer := &fakeIssuer{}
	c := newTestConsumer(t, sub, issuer, &fakeTracker{})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if issuer.calls != 1 {
		t.Fatalf("expected one issue call, got %d", issuer.calls)
	}
	for i, res := range sub.results {
		if res != nil {
			t.Fatalf("delivery %d should be acked, got %v", i, res)
		}
	}
}

func TestConsumerSkipsUnrelatedEvents(t *testing.T) {
	course := completedDelivery(t, enums.PurchaseTypeCourse)
	refunded := completedDelivery(t, enums.PurchaseTypeCertificate)
	refunded.Attributes["event_type"] = string(enums.EventPaymentRefunded)
	garbage := outbox.Delivery{ID: "m-2", Data: []byte("{"), Attributes: map[string]string{"event_type": string(enums.EventPaymentCompleted)}}

	issuer := &fakeIssuer{}
	c := newTestConsumer(t, &fakeSubscriber{}, issuer, &fakeTracker{})
	for _, d := range []outbox.Delivery{course, refunded, garbage} {
		if err := c.Handle(context.Background(), d); err != nil {
			t.Fatalf("expected ack, got %v", err)
		}
	}
	if issuer.calls != 0 {
		t.Fatalf("issuer must not be called, got %d", issuer.calls)
	}
}

func TestConsumerReleasesKeyOnFailure(t *testing.T) {
	issuer := &fakeIssuer{err: errors.New("db down")}
	tracker := &fakeTracker{}
	c := newTestConsumer(t, &fakeSubscriber{}, issuer, tracker)

	if err := c.Handle(context.Background(), completedDelivery(t, enums.PurchaseTypeCertificate)); err == nil {
		t.Fatalf("expected error for redelivery")
	}
	if tracker.released != 1 || len(tracker.states) != 0 {
		t.Fatalf("expected claim released, released=%d states=%d", tracker.released, len(tracker.states))
	}
}

func TestConsumerAcksMissingEnrollment(t *testing.T) {
	issuer := &fakeIssuer{err: ErrNotEnrolled}
	tracker := &fakeTracker{}
	c := newTestConsumer(t, &fakeSubscriber{}, issuer, tracker)

	if err := c.Handle(context.Background(), completedDelivery(t, enums.PurchaseTypeCertificate)); err != nil {
		t.Fatalf("missing enrollment should be acked, got %v", err)
	}
	for _, state := range tracker.states {
		if state != idempotency.Done {
			t.Fatalf("expected event marked done, got %v", state)
		}
	}
}

func TestConsumerNacksWhileAnotherWorkerHoldsClaim(t *testing.T) {
	d := completedDelivery(t, enums.PurchaseTypeCertificate)
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(d.Data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	tracker := &fakeTracker{states: map[uuid.UUID]idempotency.State{uuid.MustParse(envelope.EventID): idempotency.InFlight}}
	issuer := &fakeIssuer{}
	c := newTestConsumer(t, &fakeSubscriber{}, issuer, tracker)

	if err := c.Handle(context.Background(), d); !errors.Is(err, errEventInFlight) {
		t.Fatalf("expected in-flight error, got %v", err)
	}
	if issuer.calls != 0 {
		t.Fatalf("issuer must not run while claim is held")
	}
}

func TestConsumerNacksWhenIdempotencyUnavailable(t *testing.T) {
	issuer := &fakeIssuer{}
	c := newTestConsumer(t, &fakeSubscriber{}, issuer, &fakeTracker{err: errors.New("redis down")})

	if err := c.Handle(context.Background(), completedDelivery(t, enums.PurchaseTypeCertificate)); err == nil {
		t.Fatalf("expected error")
	}
	if issuer.calls != 0 {
		t.Fatalf("issuer must not run without idempotency")
	}
}
