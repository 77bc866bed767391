// Package dbtest opens isolated SQLite databases with the payments schema for
// repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/migrate"
)

// Open returns a fresh in-memory database migrated with the payments schema.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:lo_%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := migrate.AutoMigrateSQLite(conn); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// MustCourse inserts an active course priced at price with the given
// certificate price.
func MustCourse(t testing.TB, conn *gorm.DB, price, certificatePrice string) *models.Course {
	t.Helper()
	course := &models.Course{
		Slug:             "course-" + uuid.NewString()[:8],
		Title:            "Distributed Systems 101",
		Price:            decimal.RequireFromString(price),
		CertificatePrice: decimal.RequireFromString(certificatePrice),
		IsActive:         true,
	}
	if err := conn.Create(course).Error; err != nil {
		t.Fatalf("create course: %v", err)
	}
	return course
}

// MustExpiredCourse inserts a course whose expiration date is in the past.
func MustExpiredCourse(t testing.TB, conn *gorm.DB) *models.Course {
	t.Helper()
	course := MustCourse(t, conn, "10.00", "5.00")
	past := time.Now().Add(-24 * time.Hour)
	if err := conn.Model(course).Update("expiration_date", past).Error; err != nil {
		t.Fatalf("expire course: %v", err)
	}
	course.ExpirationDate = &past
	return course
}

// MustEnrollment enrolls userID in courseID.
func MustEnrollment(t testing.TB, conn *gorm.DB, userID, courseID uuid.UUID) *models.Enrollment {
	t.Helper()
	enrollment := &models.Enrollment{UserID: userID, CourseID: courseID}
	if err := conn.Create(enrollment).Error; err != nil {
		t.Fatalf("create enrollment: %v", err)
	}
	return enrollment
}

// MustCertificate issues a certificate for an existing enrollment.
func MustCertificate(t testing.TB, conn *gorm.DB, enrollment *models.Enrollment) *models.Certificate {
	t.Helper()
	cert := &models.Certificate{
		UserID:            enrollment.UserID,
		CourseID:          enrollment.CourseID,
		EnrollmentID:      enrollment.ID,
		CertificateNumber: "CERT-" + uuid.NewString()[:12],
	}
	if err := conn.Create(cert).Error; err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return cert
}
