// Package payments implements checkout processing, the webhook-driven status
// updates and the read/refund operations around the payments table.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/internal/courses"
	"github.com/learnonline/payments-backend/internal/repo"
	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	pkgerrors "github.com/learnonline/payments-backend/pkg/errors"
	"github.com/learnonline/payments-backend/pkg/gateway"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/metrics"
	"github.com/learnonline/payments-backend/pkg/outbox"
)

const (
	transactionIDLength = 20
	settleTimeout       = 15 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the payment service.
type ServiceParams struct {
	DB       txRunner
	Payments Repository
	Courses  courses.Repository
	Gateways *gateway.Registry
	Outbox   eventEmitter
	Metrics  *metrics.PaymentsMetrics
	Logger   *logger.Logger
	Currency enums.Currency
	Now      func() time.Time
	NewTxnID func() string
}

// Service orchestrates a checkout: validation, idempotency, the gateway call
// and the enrollment side effect.
type Service struct {
	db       txRunner
	payments Repository
	courses  courses.Repository
	gateways *gateway.Registry
	outbox   eventEmitter
	metrics  *metrics.PaymentsMetrics
	logg     *logger.Logger
	currency enums.Currency
	now      func() time.Time
	newTxnID func() string
}

// NewService validates dependencies and builds the payment service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Payments == nil {
		return nil, errors.New("payments repository is required")
	}
	if params.Courses == nil {
		return nil, errors.New("courses repository is required")
	}
	if params.Gateways == nil || params.Gateways.Primary() == nil {
		return nil, errors.New("payment gateway is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	currency := params.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newTxnID := params.NewTxnID
	if newTxnID == nil {
		newTxnID = NewTransactionID
	}
	return &Service{
		db:       params.DB,
		payments: params.Payments,
		courses:  params.Courses,
		gateways: params.Gateways,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		currency: currency,
		now:      now,
		newTxnID: newTxnID,
	}, nil
}

// NewTransactionID returns 20 uppercase hex characters taken from a random UUID.
func NewTransactionID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:transactionIDLength])
}

// Process handles one checkout submission. Business failures are reported in
// the Outcome; the returned error is non-nil only when the course cannot be
// loaded at all.
func (s *Service) Process(ctx context.Context, input ProcessInput) (Outcome, error) {
	outcome, purchaseType, err := s.process(ctx, input)
	if err != nil {
		return Outcome{}, err
	}
	s.metrics.IncOutcome(outcome.metricCode(), string(purchaseType))
	return outcome, nil
}

func (s *Service) process(ctx context.Context, input ProcessInput) (Outcome, enums.PurchaseType, error) {
	course, err := s.courses.FindCourse(ctx, input.CourseID)
	if err != nil {
		if db.IsNotFound(err) {
			return Outcome{}, "", pkgerrors.NotFound("course")
		}
		return Outcome{}, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load course")
	}

	if course.IsExpired(s.now()) {
		return failureOutcome(CodeCourseExpired, msgCourseExpired, nil), "", nil
	}

	email := strings.TrimSpace(input.Form.Email)
	if email == "" {
		email = input.Actor.Email
	}
	method, errs := validateForm(input.Form, email)
	purchaseType, ptErr := purchaseTypeOf(input.PurchaseType, input.Form.PurchaseType)
	if ptErr != nil {
		errs.add("purchase_type", msgInvalidPurchaseType)
	}
	if len(errs) > 0 {
		return failureOutcome(CodeValidationError, msgInvalidFields, errs), purchaseType, nil
	}
	if cardErrs := validateCard(method, input.Form.CardNumber); len(cardErrs) > 0 {
		return failureOutcome(CodeValidationError, msgInvalidCard, cardErrs), purchaseType, nil
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(input.Form.ClientToken)
	}
	if key == "" {
		key = uuid.NewString()
	}
	scope := IdempotencyScope{
		UserID:         input.Actor.UserID,
		CourseID:       course.ID,
		PurchaseType:   purchaseType,
		IdempotencyKey: key,
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":       input.Actor.UserID.String(),
		"course_id":     course.ID.String(),
		"purchase_type": string(purchaseType),
	})

	if outcome, found, err := s.lookupExisting(ctx, scope); err != nil {
		return Outcome{}, purchaseType, err
	} else if found {
		return outcome, purchaseType, nil
	}

	enrollmentID, outcome, blocked, err := s.checkPreconditions(ctx, input.Actor.UserID, course.ID, purchaseType)
	if err != nil {
		return Outcome{}, purchaseType, err
	}
	if blocked {
		return outcome, purchaseType, nil
	}

	amount := amountFor(course, purchaseType)
	label := "Course purchase"
	if purchaseType == enums.PurchaseTypeCertificate {
		label = "Certificate purchase"
	}

	payment := &models.Payment{
		TransactionID:  s.newTxnID(),
		UserID:         input.Actor.UserID,
		CourseID:       &course.ID,
		EnrollmentID:   enrollmentID,
		Amount:         amount,
		Currency:       s.currency,
		Status:         enums.PaymentStatusPending,
		PaymentMethod:  method,
		PurchaseType:   purchaseType,
		IdempotencyKey: key,
	}

	created, err := repo.InsertOrFind(
		func() error { return s.createPending(ctx, payment, fmt.Sprintf("%s: %s", label, course.Title), input.Request) },
		func() error { return nil },
		activeIdempotencyIndex,
	)
	if err != nil {
		return Outcome{}, purchaseType, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	if !created {
		// Lost the race on the active idempotency index; answer as the winner would.
		outcome, found, err := s.lookupExisting(ctx, scope)
		if err != nil {
			return Outcome{}, purchaseType, err
		}
		if found {
			return outcome, purchaseType, nil
		}
		return failureOutcome(CodePaymentInProgress, msgInProgress, nil), purchaseType, nil
	}

	ctx = s.logg.WithTransactionID(ctx, payment.TransactionID)
	s.logg.Info(ctx, "payment created")

	return s.charge(ctx, payment, input, email), purchaseType, nil
}

// lookupExisting answers a resubmission of an idempotency scope.
func (s *Service) lookupExisting(ctx context.Context, scope IdempotencyScope) (Outcome, bool, error) {
	existing, err := s.payments.FindByIdempotencyKey(ctx, scope)
	if err != nil {
		if db.IsNotFound(err) {
			return Outcome{}, false, nil
		}
		return Outcome{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment")
	}
	if existing.Status == enums.PaymentStatusCompleted {
		return successOutcome(msgAlreadyCompleted, existing.TransactionID), true, nil
	}
	return failureOutcome(CodePaymentInProgress, msgInProgress, nil).withTransaction(existing.TransactionID), true, nil
}

// checkPreconditions applies the purchase-type rules. For certificates it
// returns the enrollment the payment must be linked to.
func (s *Service) checkPreconditions(ctx context.Context, userID, courseID uuid.UUID, purchaseType enums.PurchaseType) (*uuid.UUID, Outcome, bool, error) {
	enrollment, err := s.courses.FindEnrollment(ctx, userID, courseID)
	if err != nil && !db.IsNotFound(err) {
		return nil, Outcome{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment")
	}
	hasCertificate, err := s.courses.HasCertificate(ctx, userID, courseID)
	if err != nil {
		return nil, Outcome{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}

	switch purchaseType {
	case enums.PurchaseTypeCertificate:
		if enrollment == nil {
			errs := fieldErrors{}
			errs.add("purchase_type", msgEnrollmentRequired)
			return nil, failureOutcome(CodeValidationError, msgEnrollmentRequired, errs), true, nil
		}
		if hasCertificate {
			return nil, failureOutcome(CodeAlreadyHasCertificate, msgAlreadyCertified, nil), true, nil
		}
		id := enrollment.ID
		return &id, Outcome{}, false, nil
	default:
		if enrollment != nil && hasCertificate {
			return nil, failureOutcome(CodeAlreadyEnrolled, msgAlreadyEnrolled, nil), true, nil
		}
		return nil, Outcome{}, false, nil
	}
}

func (s *Service) createPending(ctx context.Context, payment *models.Payment, message string, meta RequestMeta) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsRepo := s.payments.WithTx(tx)
		if err := paymentsRepo.Create(ctx, payment); err != nil {
			return err
		}
		pending := enums.PaymentStatusPending
		return paymentsRepo.AppendLog(ctx, &models.PaymentLog{
			PaymentID: payment.ID,
			EventType: enums.PaymentLogCreated,
			NewStatus: &pending,
			Message:   message,
			IPAddress: meta.ipPtr(),
			UserAgent: meta.userAgentPtr(),
		})
	})
}

// charge calls the gateway for a freshly created pending payment and records
// the result.
func (s *Service) charge(ctx context.Context, payment *models.Payment, input ProcessInput, email string) Outcome {
	gw := s.gateways.Primary()
	req := gateway.PaymentRequest{
		UserID:         payment.UserID,
		CourseID:       *payment.CourseID,
		PurchaseType:   payment.PurchaseType,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		IdempotencyKey: payment.IdempotencyKey,
		TransactionID:  payment.TransactionID,
		SourceToken:    input.Form.SourceToken,
		BuyerEmail:     email,
		Metadata: map[string]string{
			"payment_id":      fmt.Sprintf("%d", payment.ID),
			"cardholder_name": strings.TrimSpace(input.Form.CardholderName),
			"billing_address": strings.TrimSpace(input.Form.BillingAddress),
			"zip_code":        strings.TrimSpace(input.Form.ZipCode),
			"phone_number":    strings.TrimSpace(input.Form.PhoneNumber),
			"email":           email,
		},
	}

	started := time.Now()
	result, gwErr := gw.CreatePayment(ctx, req)
	ctx, cancel := detach(ctx)
	defer cancel()
	status := result.Status
	if gwErr != nil {
		status = enums.PaymentStatusFailed
	}
	s.metrics.ObserveGateway(gw.Name(), string(status), time.Since(started))

	if gwErr != nil {
		s.logg.Error(ctx, "gateway create payment failed", gwErr)
		if err := s.recordGatewayResult(ctx, payment, "", enums.PaymentStatusFailed, gwErr.Error(), input); err != nil {
			s.logg.Error(ctx, "failed to record gateway error", err)
			s.markFailedBestEffort(ctx, payment)
			return failureOutcome(CodeProcessingFailed, msgProcessingFailed, nil).withTransaction(payment.TransactionID)
		}
		return failureOutcome(CodePaymentFailed, msgPaymentFailed, nil).withTransaction(payment.TransactionID)
	}

	newStatus := result.Status
	if !result.Success || !newStatus.IsValid() {
		newStatus = enums.PaymentStatusFailed
	}
	if err := s.recordGatewayResult(ctx, payment, result.ProcessorTransactionID, newStatus, result.Message, input); err != nil {
		s.logg.Error(ctx, "failed to record gateway result", err)
		s.markFailedBestEffort(ctx, payment)
		return failureOutcome(CodeProcessingFailed, msgProcessingFailed, nil).withTransaction(payment.TransactionID)
	}

	switch payment.Status {
	case enums.PaymentStatusCompleted:
		s.logg.Info(ctx, "payment completed")
		return successOutcome(msgProcessed, payment.TransactionID)
	case enums.PaymentStatusPending:
		s.logg.Info(ctx, "payment awaiting processor confirmation")
		return successOutcome(msgAwaitingProcessor, payment.TransactionID)
	default:
		message := strings.TrimSpace(result.Message)
		if message == "" {
			message = msgPaymentFailed
		}
		s.logg.Warn(ctx, "payment failed")
		return failureOutcome(CodePaymentFailed, message, nil).withTransaction(payment.TransactionID)
	}
}

// recordGatewayResult persists the processor id and the status the gateway
// reported. The row is locked first so a webhook that already moved the
// payment wins and is not overwritten.
func (s *Service) recordGatewayResult(ctx context.Context, payment *models.Payment, processorID string, newStatus enums.PaymentStatus, message string, input ProcessInput) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsRepo := s.payments.WithTx(tx)
		current, err := paymentsRepo.FindByIDForUpdate(ctx, payment.ID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if processorID != "" && current.ProcessorID() == "" {
			updates["processor_transaction_id"] = processorID
			current.ProcessorTransactionID = &processorID
		}

		transitioned := false
		if current.Status == enums.PaymentStatusPending && current.Status.CanTransitionTo(newStatus) {
			previous := current.Status
			next := newStatus
			if err := paymentsRepo.AppendLog(ctx, &models.PaymentLog{
				PaymentID:      current.ID,
				EventType:      enums.PaymentLogStatusChange,
				PreviousStatus: &previous,
				NewStatus:      &next,
				Message:        message,
				IPAddress:      input.Request.ipPtr(),
				UserAgent:      input.Request.userAgentPtr(),
			}); err != nil {
				return err
			}
			updates["status"] = newStatus
			current.Status = newStatus
			transitioned = true
		}

		linked, err := ensureEnrollment(ctx, s.courses.WithTx(tx), current)
		if err != nil {
			return err
		}
		if linked {
			updates["enrollment_id"] = *current.EnrollmentID
		}

		if err := paymentsRepo.UpdateFields(ctx, current.ID, updates); err != nil {
			return err
		}
		if transitioned {
			actor := &outbox.ActorRef{UserID: input.Actor.UserID, Role: input.Actor.Role}
			if err := emitStatusEvent(ctx, s.outbox, tx, current, actor, message, s.now()); err != nil {
				return err
			}
		}
		*payment = *current
		return nil
	})
}

// detach keeps ctx's values but drops its cancellation. Writes after a
// gateway call use it: the processor may already have moved money.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// markFailedBestEffort moves a still-pending payment to failed after an
// unexpected store error so it is not left dangling.
func (s *Service) markFailedBestEffort(ctx context.Context, payment *models.Payment) {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		paymentsRepo := s.payments.WithTx(tx)
		current, err := paymentsRepo.FindByIDForUpdate(ctx, payment.ID)
		if err != nil {
			return err
		}
		if current.Status != enums.PaymentStatusPending {
			return nil
		}
		previous := current.Status
		failed := enums.PaymentStatusFailed
		if err := paymentsRepo.AppendLog(ctx, &models.PaymentLog{
			PaymentID:      current.ID,
			EventType:      enums.PaymentLogStatusChange,
			PreviousStatus: &previous,
			NewStatus:      &failed,
			Message:        msgProcessingFailed,
		}); err != nil {
			return err
		}
		return paymentsRepo.UpdateFields(ctx, current.ID, map[string]any{"status": failed})
	})
	if err != nil {
		s.logg.Error(ctx, "failed to mark payment failed", err)
	}
}

// amountFor returns the price of purchaseType for course.
func amountFor(course *models.Course, purchaseType enums.PurchaseType) decimal.Decimal {
	if purchaseType == enums.PurchaseTypeCertificate {
		return course.CertificatePrice
	}
	return course.Price
}
