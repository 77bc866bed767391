// Package repo holds the pieces every gorm-backed repository shares.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/pkg/db"
)

// Base is embedded by repositories. The zero value is unusable.
type Base struct {
	conn *gorm.DB
}

func NewBase(conn *gorm.DB) Base {
	return Base{conn: conn}
}

// DB scopes the connection to ctx. A nil ctx yields the bare connection.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.conn
	}
	return b.conn.WithContext(ctx)
}

// Tx rebinds b to an open transaction; nil keeps the current connection.
func (b Base) Tx(tx *gorm.DB) Base {
	if tx != nil {
		b.conn = tx
	}
	return b
}

// InsertOrFind tries insert first and falls back to find when insert loses
// a race on the named unique constraint. created is true only when insert
// won.
func InsertOrFind(insert, find func() error, constraint string) (created bool, err error) {
	switch err = insert(); {
	case err == nil:
		return true, nil
	case db.IsUniqueViolation(err, constraint):
		return false, find()
	default:
		return false, err
	}
}
