package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/learnonline/payments-backend/pkg/redis"
)

const webhookReplayScope = "payments-webhook"

// ReplayGuard remembers webhook deliveries that were already applied so exact
// duplicates are acknowledged without touching the database.
type ReplayGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewReplayGuard(store redis.IdempotencyStore, ttl time.Duration) (*ReplayGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &ReplayGuard{store: store, ttl: ttl, scope: webhookReplayScope}, nil
}

// CheckAndMark reports whether key was seen before, marking it otherwise.
func (g *ReplayGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("replay key is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, key), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set replay key: %w", err)
	}
	return !set, nil
}

// Delete forgets key so the sender's retry is processed again.
func (g *ReplayGuard) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("replay key is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, key))
}

// replayKey identifies one delivery. The event id is optional; without it
// every (provider, payment, status) triple is delivered at most once per TTL.
func replayKey(provider, processorID, status, eventID string) string {
	parts := []string{strings.ToLower(provider), processorID, status}
	if eventID != "" {
		parts = append(parts, eventID)
	}
	return strings.Join(parts, ":")
}
