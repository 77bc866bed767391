package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/metrics"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type outcome string

const (
	outcomePublished  outcome = "published"
	outcomeRetry      outcome = "retry"
	outcomeDeadLetter outcome = "dead_letter"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, err error) error
	MarkExhausted(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	Publisher     outbox.Publisher
	BrokerPing    func(context.Context) error
	Repository    outboxRepository
	Registry      registryResolver
	DLQRepository dlqRepository
	Metrics       *metrics.OutboxMetrics
}

// Service drains outbox_events to the broker. Each batch runs in one
// transaction so row locks hold until every row in it is marked.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	publisher    outbox.Publisher
	brokerName   string
	brokerPing   func(context.Context) error
	registry     registryResolver
	dlq          dlqRepository
	metrics      *metrics.OutboxMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Publisher == nil:
		return nil, errors.New("publisher is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	cfg := params.Config.Outbox
	s := &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		publisher:    params.Publisher,
		brokerName:   params.Config.Eventing.NormalizedBroker(),
		brokerPing:   params.BrokerPing,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		metrics:      params.Metrics,
		batchSize:    positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: defaultPollInterval,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if cfg.PollIntervalMS > 0 {
		s.pollInterval = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	if s.brokerPing == nil {
		s.brokerPing = func(context.Context) error { return nil }
	}
	return s, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *Service) ready(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := s.brokerPing(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", s.brokerName, err)
	}
	return nil
}

// Run publishes until ctx is canceled. A full batch is followed immediately
// by the next one; a short batch waits one poll interval; a failed batch
// backs off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	s.refreshDeadLetters(ctx)

	retry := backoff{base: s.pollInterval, max: maxBackoff}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := s.drain(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait = retry.next()
		case result.rows == s.batchSize:
			retry.reset()
			continue
		default:
			retry.reset()
			wait = s.pollInterval
		}
		if result.deadLettered > 0 {
			s.refreshDeadLetters(ctx)
		}
		if err := sleep(ctx, jitter(wait)); err != nil {
			return err
		}
	}
}

type batchResult struct {
	rows         int
	deadLettered int
}

// drain handles one batch.
func (s *Service) drain(ctx context.Context) (batchResult, error) {
	var result batchResult
	started := time.Now()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.ClaimBatch(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}
		result = batchResult{rows: len(rows)}
		for _, row := range rows {
			out, err := s.dispatch(ctx, tx, row)
			if err != nil {
				return err
			}
			if out == outcomeDeadLetter {
				result.deadLettered++
			}
			s.metrics.IncResult(string(row.EventType), string(out))
		}
		return nil
	})
	if result.rows > 0 {
		s.metrics.ObserveBatch(time.Since(started))
	}
	return result, err
}

// dispatch publishes one row and records what happened to it. The returned
// error is reserved for bookkeeping failures that should abort the batch.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (outcome, error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID,
		"attempt_count":  row.AttemptCount,
	})

	resolved, err := s.registry.Resolve(row)
	if err == nil {
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"event_id": resolved.Envelope.EventID,
			"topic":    resolved.Descriptor.Topic,
		})
		err = s.publish(ctx, row, resolved)
	}

	switch {
	case err == nil:
		if err := s.repo.MarkPublished(tx, row.ID); err != nil {
			return "", fmt.Errorf("mark %s published: %w", row.ID, err)
		}
		s.logg.Info(logCtx, "outbox event published")
		return outcomePublished, nil
	case registry.IsPermanent(err):
		return outcomeDeadLetter, s.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	case row.AttemptCount+1 >= s.maxAttempts:
		err = fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, err)
		return outcomeDeadLetter, s.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonMaxAttempts, err)
	default:
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "outbox publish failed, will retry")
		if err := s.repo.RecordFailure(tx, row.ID, err); err != nil {
			return "", fmt.Errorf("mark %s failed: %w", row.ID, err)
		}
		return outcomeRetry, nil
	}
}

func (s *Service) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	if resolved.Descriptor.Topic == "" {
		return registry.Permanent(fmt.Errorf("no topic for %s", row.EventType))
	}
	pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	return s.publisher.Publish(pubCtx, outbox.Message{
		Topic: resolved.Descriptor.Topic,
		Key:   row.AggregateID,
		Data:  row.Payload,
		Attributes: map[string]string{
			"event_id":         resolved.Envelope.EventID,
			"event_type":       string(row.EventType),
			"aggregate_type":   string(row.AggregateType),
			"aggregate_id":     row.AggregateID,
			"envelope_version": fmt.Sprint(resolved.Envelope.Version),
			"created_at":       row.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      s.now(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("dead-letter %s: %w", row.ID, err)
	}
	if err := s.repo.MarkExhausted(tx, row.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark %s terminal: %w", row.ID, err)
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        msg,
	}), "outbox event dead-lettered")
	return nil
}

func (s *Service) refreshDeadLetters(ctx context.Context) {
	counts, err := s.dlq.CountByReason(ctx)
	if err != nil {
		s.logg.Error(ctx, "count dead letters", err)
		return
	}
	labels := make(map[string]int64, len(counts))
	for reason, n := range counts {
		labels[string(reason)] = n
	}
	s.metrics.SetDeadLetters(labels)
}

// backoff doubles from base up to max.
type backoff struct {
	base, max, cur time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cur < b.base {
		b.cur = b.base
	} else {
		b.cur *= 2
	}
	if b.cur > b.max {
		b.cur = b.max
	}
	return b.cur
}

func (b *backoff) reset() { b.cur = 0 }

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
