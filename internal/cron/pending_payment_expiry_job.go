package cron

import (
	"context"
	"errors"
	"time"

	"github.com/learnonline/payments-backend/pkg/logger"
)

const defaultPendingExpiry = 72 * time.Hour

type pendingExpirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type PendingPaymentExpiryJobParams struct {
	Logger    *logger.Logger
	Payments  pendingExpirer
	MaxAge    time.Duration
	BatchSize int
	Now       func() time.Time
}

// PendingPaymentExpiryJob fails payments whose processor never confirmed them.
type PendingPaymentExpiryJob struct {
	logg     *logger.Logger
	payments pendingExpirer
	maxAge   time.Duration
	batch    int
	now      func() time.Time
}

func NewPendingPaymentExpiryJob(params PendingPaymentExpiryJobParams) (*PendingPaymentExpiryJob, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Payments == nil {
		return nil, errors.New("payments service required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultPendingExpiry
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &PendingPaymentExpiryJob{
		logg:     params.Logger,
		payments: params.Payments,
		maxAge:   maxAge,
		batch:    params.BatchSize,
		now:      now,
	}, nil
}

func (j *PendingPaymentExpiryJob) Name() string { return "pending-payment-expiry" }

func (j *PendingPaymentExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	expired, err := j.payments.ExpirePending(ctx, cutoff, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{"cutoff": cutoff, "expired": expired})
	if err != nil {
		return err
	}
	j.logg.Info(logCtx, "pending payment expiry complete")
	return nil
}
