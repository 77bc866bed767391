// Package idempotency tracks which broker events a consumer has already
// handled so redelivered messages are applied at most once.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	markerInFlight = "processing"
	markerDone     = "done"

	defaultClaimTTL = 5 * time.Minute
)

// Store is the subset of the redis client the tracker needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// State is the outcome of claiming an event.
type State int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed State = iota
	// InFlight means another worker holds an unexpired claim.
	InFlight
	// Done means the event was already handled.
	Done
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tracker records per-consumer event state in redis. A claim expires after
// ClaimTTL so a crashed worker does not block redelivery forever; a completed
// event is remembered for the retention TTL.
type Tracker struct {
	store     Store
	retention time.Duration
	claimTTL  time.Duration
}

// NewTracker builds a tracker that remembers completed events for retention.
func NewTracker(store Store, retention time.Duration) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if retention <= 0 {
		return nil, errors.New("idempotency retention must be positive")
	}
	claimTTL := defaultClaimTTL
	if claimTTL > retention {
		claimTTL = retention
	}
	return &Tracker{store: store, retention: retention, claimTTL: claimTTL}, nil
}

// WithClaimTTL returns a copy of t whose in-flight claims expire after ttl.
func (t *Tracker) WithClaimTTL(ttl time.Duration) *Tracker {
	cp := *t
	if ttl > 0 {
		cp.claimTTL = ttl
	}
	return &cp
}

// Claim tries to take ownership of eventID for consumer.
func (t *Tracker) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (State, error) {
	key := t.key(consumer, eventID)
	ok, err := t.store.SetNX(ctx, key, markerInFlight, t.claimTTL)
	if err != nil {
		return InFlight, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}
	marker, err := t.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// claim expired between the two calls; let the broker redeliver
		return InFlight, nil
	case err != nil:
		return InFlight, fmt.Errorf("read claim %s: %w", key, err)
	case marker == markerDone:
		return Done, nil
	default:
		return InFlight, nil
	}
}

// Complete marks a claimed event as handled.
func (t *Tracker) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key := t.key(consumer, eventID)
	if err := t.store.Set(ctx, key, markerDone, t.retention); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

// Release drops a claim so the next delivery can retry the event.
func (t *Tracker) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key := t.key(consumer, eventID)
	if err := t.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (t *Tracker) key(consumer string, eventID uuid.UUID) string {
	return t.store.IdempotencyKey("evt:"+consumer, eventID.String())
}
