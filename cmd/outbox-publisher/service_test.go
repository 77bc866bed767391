package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/metrics"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/outbox/payloads"
	"github.com/learnonline/payments-backend/pkg/outbox/registry"
)

func TestDrainKeepsGoingAfterTransientFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{paymentRow(t, "TXONE", 0), paymentRow(t, "TXTWO", 0)}}
	pub := &fakePublisher{errs: []error{errors.New("unavailable"), nil}}
	svc := newTestService(t, repo, pub, &fakeRegistry{resolved: paymentResolved()}, &fakeDLQRepo{}, nil)

	result, err := svc.drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.rows != 2 || result.deadLettered != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("expected first row marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("expected second row published, got %v", repo.published)
	}
}

func TestPublishRoutesByAggregate(t *testing.T) {
	row := paymentRow(t, "TX123", 0)
	pub := &fakePublisher{}
	svc := newTestService(t, &fakeRepo{events: []models.OutboxEvent{row}}, pub, &fakeRegistry{resolved: paymentResolved()}, &fakeDLQRepo{}, nil)

	if _, err := svc.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.sent))
	}
	msg := pub.sent[0]
	if msg.Topic != "payments-topic" || msg.Key != "TX123" {
		t.Fatalf("unexpected routing %q/%q", msg.Topic, msg.Key)
	}
	want := map[string]string{
		"event_id":         row.ID.String(),
		"event_type":       string(enums.EventPaymentCompleted),
		"aggregate_id":     "TX123",
		"envelope_version": "1",
	}
	for k, v := range want {
		if msg.Attributes[k] != v {
			t.Fatalf("attribute %s = %q, want %q", k, msg.Attributes[k], v)
		}
	}
	if !bytes.Equal(msg.Data, row.Payload) {
		t.Fatal("payload should be forwarded untouched")
	}
}

func TestPermanentResolveFailureIsDeadLettered(t *testing.T) {
	row := paymentRow(t, "TXBAD", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{row}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, &fakePublisher{}, &fakeRegistry{err: registry.Permanent(errors.New("invalid payload"))}, dlq, nil)

	result, err := svc.drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.deadLettered != 1 || len(dlq.entries) != 1 {
		t.Fatalf("expected one dead letter, result=%+v entries=%d", result, len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != row.ID || entry.AggregateID != "TXBAD" || !bytes.Equal(entry.Payload, row.Payload) {
		t.Fatalf("dlq entry mismatch: %+v", entry)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable || entry.ErrorMessage == nil {
		t.Fatalf("unexpected reason %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 {
		t.Fatal("expected row pinned terminal")
	}
}

func TestExhaustedRetriesAreDeadLettered(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{paymentRow(t, "TXRETRY", 1)}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, &fakePublisher{errs: []error{errors.New("unavailable")}}, &fakeRegistry{resolved: paymentResolved()}, dlq, &config.OutboxConfig{
		BatchSize:   1,
		MaxAttempts: 2,
	})

	if _, err := svc.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("expected max_attempts dead letter, got %+v", dlq.entries)
	}
	if len(repo.failed) != 0 || len(repo.terminal) != 1 {
		t.Fatalf("row should be terminal, not failed: failed=%d terminal=%d", len(repo.failed), len(repo.terminal))
	}
}

func TestDrainRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	repo := &fakeRepo{events: []models.OutboxEvent{paymentRow(t, "TX1", 0)}}
	svc := newTestService(t, repo, &fakePublisher{}, &fakeRegistry{resolved: paymentResolved()}, &fakeDLQRepo{}, nil)
	svc.metrics = metrics.NewOutboxMetrics(reg)

	if _, err := svc.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "outbox_events_total" {
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 1 {
				t.Fatalf("outbox_events_total = %v", got)
			}
			return
		}
	}
	t.Fatal("outbox_events_total not recorded")
}

func TestDrainAbortsWhenBookkeepingFails(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{paymentRow(t, "TX1", 0)}, markErr: errors.New("db gone")}
	svc := newTestService(t, repo, &fakePublisher{}, &fakeRegistry{resolved: paymentResolved()}, &fakeDLQRepo{}, nil)

	if _, err := svc.drain(context.Background()); err == nil {
		t.Fatal("expected drain to fail")
	}
}

func TestDrainEmpty(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	result, err := svc.drain(context.Background())
	if err != nil || result.rows != 0 {
		t.Fatalf("expected idle batch, got %+v err=%v", result, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRunFailsWhenBrokerIsDown(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	svc.brokerPing = func(context.Context) error { return errors.New("no route") }
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected readiness error")
	}
}

func TestBackoff(t *testing.T) {
	b := backoff{base: 500 * time.Millisecond, max: 2 * time.Second}
	for _, want := range []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 2 * time.Second} {
		if got := b.next(); got != want {
			t.Fatalf("next = %v, want %v", got, want)
		}
	}
	b.reset()
	if got := b.next(); got != 500*time.Millisecond {
		t.Fatalf("after reset next = %v", got)
	}
	if got := jitter(time.Second); got < time.Second || got >= time.Second+jitterWindow {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub outbox.Publisher, reg registryResolver, dlq dlqRepository, override *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 10, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	svc, err := NewService(ServiceParams{
		Config:        &config.Config{Outbox: outboxCfg},
		Logger:        logger.Nop(),
		DB:            &fakeDB{},
		Publisher:     pub,
		Repository:    repo,
		Registry:      reg,
		DLQRepository: dlq,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func paymentRow(tb testing.TB, transactionID string, attempts int) models.OutboxEvent {
	tb.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   transactionID,
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

func paymentResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "payments-topic",
			EventType:     enums.EventPaymentCompleted,
			AggregateType: enums.AggregatePayment,
		},
		Payload: &payloads.PaymentCompletedEvent{},
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	markErr   error
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) ClaimBatch(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublished(_ *gorm.DB, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) RecordFailure(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkExhausted(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePublisher struct {
	errs []error
	sent []outbox.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg outbox.Message) error {
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err == nil {
		f.sent = append(f.sent, msg)
	}
	return err
}

func (f *fakePublisher) Close() error { return nil }

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(row models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope.EventID = row.ID.String()
	resolved.Envelope.Version = 1
	return &resolved, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeDLQRepo) CountByReason(context.Context) (map[enums.OutboxDLQErrorReason]int64, error) {
	counts := map[enums.OutboxDLQErrorReason]int64{}
	for _, e := range f.entries {
		counts[e.ErrorReason]++
	}
	return counts, nil
}
