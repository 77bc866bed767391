// Package courses reads the catalog and owns the enrollment and certificate
// rows that payments create as side effects.
package courses

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnonline/payments-backend/internal/repo"
	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/db/models"
)

// Repository defines persistence operations for courses, enrollments and certificates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
	FindEnrollment(ctx context.Context, userID, courseID uuid.UUID) (*models.Enrollment, error)
	// GetOrCreateEnrollment returns the single enrollment for (user, course),
	// creating it when absent. Safe under concurrent callers because of
	// ux_enrollments_user_course.
	GetOrCreateEnrollment(ctx context.Context, userID, courseID uuid.UUID) (*models.Enrollment, bool, error)
	HasCertificate(ctx context.Context, userID, courseID uuid.UUID) (bool, error)
	FindCertificate(ctx context.Context, userID, courseID uuid.UUID) (*models.Certificate, error)
	// CreateCertificateIfAbsent inserts cert unless (user, course) already has
	// one, and returns whichever row is stored.
	CreateCertificateIfAbsent(ctx context.Context, cert *models.Certificate) (*models.Certificate, bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a courses repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.Tx(tx)}
}

func (r *repository) FindCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	var course models.Course
	if err := r.DB(ctx).Where("id = ?", id).First(&course).Error; err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *repository) FindEnrollment(ctx context.Context, userID, courseID uuid.UUID) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.DB(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&enrollment).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *repository) GetOrCreateEnrollment(ctx context.Context, userID, courseID uuid.UUID) (*models.Enrollment, bool, error) {
	enrollment := &models.Enrollment{UserID: userID, CourseID: courseID}
	res := r.DB(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(enrollment)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return enrollment, true, nil
	}
	existing, err := r.FindEnrollment(ctx, userID, courseID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repository) HasCertificate(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.Certificate{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) FindCertificate(ctx context.Context, userID, courseID uuid.UUID) (*models.Certificate, error) {
	var cert models.Certificate
	err := r.DB(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&cert).Error
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *repository) CreateCertificateIfAbsent(ctx context.Context, cert *models.Certificate) (*models.Certificate, bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
			DoNothing: true,
		}).
		Create(cert)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return cert, true, nil
	}
	existing, err := r.FindCertificate(ctx, cert.UserID, cert.CourseID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// IsNotFound is re-exported so callers can branch without importing pkg/db.
func IsNotFound(err error) bool {
	return db.IsNotFound(err)
}
