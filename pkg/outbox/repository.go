package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnonline/payments-backend/pkg/db/models"
)

// maxErrorLen bounds last_error so a verbose broker error cannot bloat rows.
const maxErrorLen = 1024

var errTxRequired = errors.New("outbox: transaction required")

// Repository persists outbox rows. Writes take the caller's transaction so
// an event commits or rolls back with the state change it describes.
type Repository struct {
	conn *gorm.DB
	now  func() time.Time
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{conn: conn, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// ClaimBatch returns up to limit unpublished rows, oldest first. Rows with
// maxAttempts or more attempts are skipped when maxAttempts > 0. On Postgres
// the rows stay locked (SKIP LOCKED) until tx ends, so concurrent publishers
// split the backlog instead of sharing it.
func (r *Repository) ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked})
	}
	var rows []models.OutboxEvent
	if err := q.Order("created_at, id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	return r.update(tx, id, map[string]any{"published_at": r.now(), "last_error": nil})
}

// RecordFailure bumps attempt_count and keeps the latest error.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(tx, id, map[string]any{
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    errorText(cause),
	})
}

// MarkExhausted pins attempt_count at attempts so ClaimBatch stops
// returning the row once it has been dead-lettered.
func (r *Repository) MarkExhausted(tx *gorm.DB, id uuid.UUID, cause error, attempts int) error {
	updates := map[string]any{"attempt_count": attempts}
	if cause != nil {
		updates["last_error"] = errorText(cause)
	}
	return r.update(tx, id, updates)
}

// PurgePublishedBefore deletes rows published before cutoff. A nil tx runs
// outside any transaction.
func (r *Repository) PurgePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.conn
	}
	res := tx.Where("published_at IS NOT NULL AND published_at < ?", cutoff).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(updates).Error
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return &msg
}
