package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/learnonline/payments-backend/pkg/logger"
)

type fakeExpirer struct {
	cutoff time.Time
	limit  int
	err    error
}

func (f *fakeExpirer) ExpirePending(_ context.Context, cutoff time.Time, limit int) (int, error) {
	f.cutoff = cutoff
	f.limit = limit
	return 2, f.err
}

func TestPendingPaymentExpiryPassesCutoffAndBatch(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	expirer := &fakeExpirer{}
	job, err := NewPendingPaymentExpiryJob(PendingPaymentExpiryJobParams{
		Logger:    logger.Nop(),
		Payments:  expirer,
		MaxAge:    48 * time.Hour,
		BatchSize: 25,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewPendingPaymentExpiryJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !expirer.cutoff.Equal(now.Add(-48 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", expirer.cutoff)
	}
	if expirer.limit != 25 {
		t.Fatalf("expected batch 25, got %d", expirer.limit)
	}
}

func TestPendingPaymentExpiryReturnsError(t *testing.T) {
	job, err := NewPendingPaymentExpiryJob(PendingPaymentExpiryJobParams{
		Logger:   logger.Nop(),
		Payments: &fakeExpirer{err: errors.New("lock timeout")},
	})
	if err != nil {
		t.Fatalf("NewPendingPaymentExpiryJob: %v", err)
	}
	if job.maxAge != defaultPendingExpiry {
		t.Fatalf("unexpected default max age %s", job.maxAge)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
