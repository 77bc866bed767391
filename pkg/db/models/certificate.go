package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Certificate is issued once per (user, course) after a certificate purchase.
type Certificate struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_certificates_user_course"`
	CourseID          uuid.UUID `gorm:"column:course_id;type:uuid;not null;uniqueIndex:ux_certificates_user_course"`
	EnrollmentID      uuid.UUID `gorm:"column:enrollment_id;type:uuid;not null"`
	CertificateNumber string    `gorm:"column:certificate_number;not null;uniqueIndex"`
	TransactionID     *string   `gorm:"column:transaction_id"`
	IssuedAt          time.Time `gorm:"column:issued_at;autoCreateTime"`
}

func (c *Certificate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
