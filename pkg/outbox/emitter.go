package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/logger"
)

type eventInserter interface {
	Insert(tx *gorm.DB, event models.OutboxEvent) error
}

// Emitter appends domain events to the outbox table.
type Emitter struct {
	repo  eventInserter
	logg  *logger.Logger
	newID func() uuid.UUID
	now   func() time.Time
}

func NewEmitter(repo eventInserter, logg *logger.Logger) *Emitter {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Emitter{
		repo:  repo,
		logg:  logg,
		newID: uuid.New,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Emit writes the event inside tx so it commits or rolls back with the state
// change it describes.
func (e *Emitter) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := event.validate(); err != nil {
		return err
	}
	env, err := NewEnvelope(event, e.newID(), e.now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := e.repo.Insert(tx, models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       raw,
	}); err != nil {
		return err
	}

	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"event_id":       env.EventID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
	}), "outbox event queued")
	return nil
}
