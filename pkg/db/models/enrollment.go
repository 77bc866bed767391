package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Enrollment links a user to a course. (user_id, course_id) is unique.
type Enrollment struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_enrollments_user_course"`
	CourseID   uuid.UUID `gorm:"column:course_id;type:uuid;not null;uniqueIndex:ux_enrollments_user_course"`
	EnrolledAt time.Time `gorm:"column:enrolled_at;autoCreateTime"`
	Completed  bool      `gorm:"column:completed;not null;default:false"`
}

func (e *Enrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
