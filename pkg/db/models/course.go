package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Course is the purchasable catalog entry. Payments read its prices and expiry
// but never mutate it.
type Course struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Slug             string          `gorm:"column:slug;not null;uniqueIndex"`
	Title            string          `gorm:"column:title;not null"`
	Price            decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	CertificatePrice decimal.Decimal `gorm:"column:certificate_price;type:numeric(10,2);not null"`
	ExpirationDate   *time.Time      `gorm:"column:expiration_date"`
	IsActive         bool            `gorm:"column:is_active;not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsExpired reports whether the course expiration date lies strictly before now.
func (c Course) IsExpired(now time.Time) bool {
	return c.ExpirationDate != nil && c.ExpirationDate.Before(now)
}
