// Package certificates issues course certificates once a certificate purchase
// completes.
package certificates

import (
	"context"
	"errors"
	"fmt"

	nanoid "github.com/jaevor/go-nanoid"
	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/internal/courses"
	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/outbox"
	"github.com/learnonline/payments-backend/pkg/outbox/payloads"
)

const (
	numberPrefix   = "CERT-"
	numberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numberLength   = 12
	// numberAttempts bounds retries when a generated number collides.
	numberAttempts = 3
)

// ErrNotEnrolled is returned when a certificate payment has no enrollment to
// attach the certificate to.
var ErrNotEnrolled = errors.New("certificate purchase without enrollment")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Issuer get-or-creates the certificate for a completed certificate purchase.
type Issuer struct {
	db        txRunner
	courses   courses.Repository
	outbox    eventEmitter
	logg      *logger.Logger
	newNumber func() string
}

func NewIssuer(conn txRunner, repo courses.Repository, emitter eventEmitter, logg *logger.Logger) (*Issuer, error) {
	if conn == nil {
		return nil, errors.New("db is required")
	}
	if repo == nil {
		return nil, errors.New("courses repository is required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	gen, err := nanoid.CustomASCII(numberAlphabet, numberLength)
	if err != nil {
		return nil, fmt.Errorf("certificate number generator: %w", err)
	}
	return &Issuer{
		db:        conn,
		courses:   repo,
		outbox:    emitter,
		logg:      logg,
		newNumber: func() string { return numberPrefix + gen() },
	}, nil
}

// Issue returns the certificate for the purchase in event and whether it was
// created by this call. Events that are not certificate purchases are ignored.
func (i *Issuer) Issue(ctx context.Context, event payloads.PaymentCompletedEvent) (*models.Certificate, bool, error) {
	if event.PurchaseType != enums.PurchaseTypeCertificate || event.CourseID == nil {
		return nil, false, nil
	}
	ctx = i.logg.WithFields(ctx, map[string]any{
		"transaction_id": event.TransactionID,
		"user_id":        event.UserID.String(),
		"course_id":      event.CourseID.String(),
	})

	var (
		cert    *models.Certificate
		created bool
		err     error
	)
	for attempt := 0; attempt < numberAttempts; attempt++ {
		cert, created, err = i.issueOnce(ctx, event)
		if err == nil || !db.IsUniqueViolation(err, "") {
			break
		}
		i.logg.Warn(ctx, "certificate number collision, retrying")
	}
	if err != nil {
		return nil, false, err
	}
	if created {
		i.logg.Info(ctx, "certificate issued "+cert.CertificateNumber)
	}
	return cert, created, nil
}

func (i *Issuer) issueOnce(ctx context.Context, event payloads.PaymentCompletedEvent) (*models.Certificate, bool, error) {
	var (
		cert    *models.Certificate
		created bool
	)
	err := i.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := i.courses.WithTx(tx)
		enrollment, err := repo.FindEnrollment(ctx, event.UserID, *event.CourseID)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrNotEnrolled
			}
			return err
		}

		transactionID := event.TransactionID
		cert, created, err = repo.CreateCertificateIfAbsent(ctx, &models.Certificate{
			UserID:            event.UserID,
			CourseID:          *event.CourseID,
			EnrollmentID:      enrollment.ID,
			CertificateNumber: i.newNumber(),
			TransactionID:     &transactionID,
		})
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		return i.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCertificateIssued,
			AggregateType: enums.AggregateCertificate,
			AggregateID:   cert.ID.String(),
			Data: payloads.CertificateIssuedEvent{
				CertificateID:     cert.ID,
				CertificateNumber: cert.CertificateNumber,
				UserID:            cert.UserID,
				CourseID:          cert.CourseID,
				TransactionID:     event.TransactionID,
			},
		})
	})
	if err != nil {
		return nil, false, err
	}
	return cert, created, nil
}
