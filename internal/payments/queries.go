package payments

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	pkgerrors "github.com/learnonline/payments-backend/pkg/errors"
	"github.com/learnonline/payments-backend/pkg/pagination"
)

// CourseSummary is the slice of a course shown next to a payment.
type CourseSummary struct {
	ID    uuid.UUID `json:"id"`
	Slug  string    `json:"slug"`
	Title string    `json:"title"`
}

// PaymentView is the read model of one payment.
type PaymentView struct {
	TransactionID          string              `json:"transaction_id"`
	Status                 enums.PaymentStatus `json:"status"`
	PurchaseType           enums.PurchaseType  `json:"purchase_type"`
	PaymentMethod          enums.PaymentMethod `json:"payment_method"`
	Amount                 decimal.Decimal     `json:"amount"`
	Currency               enums.Currency      `json:"currency"`
	ProcessorTransactionID *string             `json:"processor_transaction_id,omitempty"`
	EnrollmentID           *uuid.UUID          `json:"enrollment_id,omitempty"`
	Course                 *CourseSummary      `json:"course,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// HistoryPage is one page of a learner's payment history.
type HistoryPage struct {
	Payments   []PaymentView `json:"payments"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// LogView is one audit entry.
type LogView struct {
	EventType      enums.PaymentLogEventType `json:"event_type"`
	PreviousStatus *enums.PaymentStatus      `json:"previous_status,omitempty"`
	NewStatus      *enums.PaymentStatus      `json:"new_status,omitempty"`
	Message        string                    `json:"message"`
	IPAddress      *string                   `json:"ip_address,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// MethodOption is one selectable payment method on the checkout page.
type MethodOption struct {
	Value enums.PaymentMethod `json:"value"`
	Label string              `json:"label"`
}

// Quote is what the checkout page needs before the learner submits.
type Quote struct {
	Course          CourseSummary      `json:"course"`
	PurchaseType    enums.PurchaseType `json:"purchase_type"`
	Amount          decimal.Decimal    `json:"amount"`
	Currency        enums.Currency     `json:"currency"`
	Expired         bool               `json:"expired"`
	AlreadyEnrolled bool               `json:"already_enrolled"`
	HasCertificate  bool               `json:"has_certificate"`
	CanPurchase     bool               `json:"can_purchase"`
	PaymentMethods  []MethodOption     `json:"payment_methods"`
}

// Get returns the payment identified by transactionID when it belongs to userID.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, transactionID string) (*PaymentView, error) {
	payment, err := s.ownedPayment(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	view := ViewOf(payment)
	if payment.CourseID != nil {
		course, err := s.courses.FindCourse(ctx, *payment.CourseID)
		if err != nil && !db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load course")
		}
		if course != nil {
			view.Course = summaryOf(course)
		}
	}
	return view, nil
}

// List returns one page of userID's payments, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor").
			WithDetails(map[string]any{"field": "cursor"})
	}
	rows, err := s.payments.ListByUser(ctx, userID, cursor, pagination.FetchSize(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	rows, next := pagination.Split(rows, params.Limit, func(p models.Payment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	page := &HistoryPage{Payments: make([]PaymentView, 0, len(rows)), NextCursor: next}
	for i := range rows {
		page.Payments = append(page.Payments, *ViewOf(&rows[i]))
	}
	return page, nil
}

// Logs returns the audit trail of a payment owned by userID, newest first.
func (s *Service) Logs(ctx context.Context, userID uuid.UUID, transactionID string) ([]LogView, error) {
	payment, err := s.ownedPayment(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	rows, err := s.payments.ListLogs(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment logs")
	}
	views := make([]LogView, 0, len(rows))
	for _, row := range rows {
		views = append(views, LogView{
			EventType:      row.EventType,
			PreviousStatus: row.PreviousStatus,
			NewStatus:      row.NewStatus,
			Message:        row.Message,
			IPAddress:      row.IPAddress,
			CreatedAt:      row.CreatedAt,
		})
	}
	return views, nil
}

// Quote prices a purchase and reports whether userID may buy it.
func (s *Service) Quote(ctx context.Context, userID, courseID uuid.UUID, rawPurchaseType string) (*Quote, error) {
	purchaseType, err := enums.ParsePurchaseType(rawPurchaseType)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, msgInvalidPurchaseType).
			WithDetails(map[string]any{"purchase_type": rawPurchaseType})
	}
	course, err := s.courses.FindCourse(ctx, courseID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.NotFound("course")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load course")
	}

	enrollment, err := s.courses.FindEnrollment(ctx, userID, courseID)
	if err != nil && !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment")
	}
	hasCertificate, err := s.courses.HasCertificate(ctx, userID, courseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}

	quote := &Quote{
		Course:          *summaryOf(course),
		PurchaseType:    purchaseType,
		Amount:          amountFor(course, purchaseType),
		Currency:        s.currency,
		Expired:         course.IsExpired(s.now()),
		AlreadyEnrolled: enrollment != nil,
		HasCertificate:  hasCertificate,
		PaymentMethods:  methodOptions(),
	}
	switch purchaseType {
	case enums.PurchaseTypeCertificate:
		quote.CanPurchase = !quote.Expired && quote.AlreadyEnrolled && !hasCertificate
	default:
		quote.CanPurchase = !quote.Expired && !(quote.AlreadyEnrolled && hasCertificate)
	}
	return quote, nil
}

func (s *Service) ownedPayment(ctx context.Context, userID uuid.UUID, transactionID string) (*models.Payment, error) {
	payment, err := s.payments.FindByTransactionIDForUser(ctx, strings.TrimSpace(transactionID), userID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.NotFound("payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

// ViewOf converts a stored payment into its read model.
func ViewOf(p *models.Payment) *PaymentView {
	return &PaymentView{
		TransactionID:          p.TransactionID,
		Status:                 p.Status,
		PurchaseType:           p.PurchaseType,
		PaymentMethod:          p.PaymentMethod,
		Amount:                 p.Amount,
		Currency:               p.Currency,
		ProcessorTransactionID: p.ProcessorTransactionID,
		EnrollmentID:           p.EnrollmentID,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

func summaryOf(c *models.Course) *CourseSummary {
	return &CourseSummary{ID: c.ID, Slug: c.Slug, Title: c.Title}
}

func methodOptions() []MethodOption {
	methods := enums.PaymentMethods()
	opts := make([]MethodOption, 0, len(methods))
	for _, m := range methods {
		opts = append(opts, MethodOption{Value: m, Label: m.Label()})
	}
	return opts
}
