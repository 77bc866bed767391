package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/internal/repo"
	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/pagination"
)

// activeIdempotencyIndex guards at most one pending/completed payment per
// (user, course, purchase_type, idempotency_key).
const activeIdempotencyIndex = "ux_payments_active_idempotency"

// IdempotencyScope is the de-duplication key of a purchase attempt.
type IdempotencyScope struct {
	UserID         uuid.UUID
	CourseID       uuid.UUID
	PurchaseType   enums.PurchaseType
	IdempotencyKey string
}

// Repository defines persistence operations for payments and their audit logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	// FindByIdempotencyKey returns the newest payment for scope, preferring
	// active rows over failed ones.
	FindByIdempotencyKey(ctx context.Context, scope IdempotencyScope) (*models.Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	FindByTransactionIDForUser(ctx context.Context, transactionID string, userID uuid.UUID) (*models.Payment, error)
	FindByProcessorID(ctx context.Context, processorID string) (*models.Payment, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id int64) (*models.Payment, error)
	// ListByUser returns userID's payments newest first, starting after cursor when set.
	ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Payment, error)
	// ListPendingBefore returns the oldest pending payments created before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	UpdateFields(ctx context.Context, id int64, updates map[string]any) error
	AppendLog(ctx context.Context, log *models.PaymentLog) error
	ListLogs(ctx context.Context, paymentID int64) ([]models.PaymentLog, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.Tx(tx)}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.DB(ctx).Create(payment).Error
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, scope IdempotencyScope) (*models.Payment, error) {
	var payment models.Payment
	err := r.DB(ctx).
		Where("user_id = ? AND course_id = ? AND purchase_type = ? AND idempotency_key = ?",
			scope.UserID, scope.CourseID, scope.PurchaseType, scope.IdempotencyKey).
		Order(gorm.Expr("CASE WHEN status IN (?, ?) THEN 0 ELSE 1 END", enums.PaymentStatusPending, enums.PaymentStatusCompleted)).
		Order("created_at DESC").
		Order("id DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.DB(ctx).Where("transaction_id = ?", transactionID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByTransactionIDForUser(ctx context.Context, transactionID string, userID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.DB(ctx).
		Where("transaction_id = ? AND user_id = ?", transactionID, userID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByProcessorID(ctx context.Context, processorID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.DB(ctx).
		Where("processor_transaction_id = ?", processorID).
		Order("id DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	if err := db.ForUpdate(r.DB(ctx)).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	query := r.DB(ctx).Where("user_id = ?", userID)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	query = query.
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	query := r.DB(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) UpdateFields(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.DB(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repository) AppendLog(ctx context.Context, log *models.PaymentLog) error {
	return r.DB(ctx).Create(log).Error
}

func (r *repository) ListLogs(ctx context.Context, paymentID int64) ([]models.PaymentLog, error) {
	var logs []models.PaymentLog
	err := r.DB(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
