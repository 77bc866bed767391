package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type ledgerRow struct {
	ID  int64
	Key string `gorm:"uniqueIndex"`
}

func openClient(t *testing.T) *Client {
	t.Helper()
	dsn := fmt.Sprintf("file:db_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&ledgerRow{}))
	client := Wrap(conn)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func countRows(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&ledgerRow{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	c := openClient(t)
	ctx := context.Background()

	require.NoError(t, c.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&ledgerRow{Key: "a"}).Error
	}))
	err := c.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&ledgerRow{Key: "b"}).Error)
		return errors.New("gateway declined")
	})
	require.Error(t, err)
	assert.EqualValues(t, 1, countRows(t, c))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	c := openClient(t)
	assert.Panics(t, func() {
		_ = c.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&ledgerRow{Key: "p"}).Error)
			panic("boom")
		})
	})
	assert.Zero(t, countRows(t, c))
	require.NoError(t, c.Ping(context.Background()))
}

func TestIsUniqueViolation(t *testing.T) {
	c := openClient(t)
	require.NoError(t, c.DB().Create(&ledgerRow{Key: "dup"}).Error)
	sqliteErr := c.DB().Create(&ledgerRow{Key: "dup"}).Error
	require.Error(t, sqliteErr)
	assert.True(t, IsUniqueViolation(sqliteErr, "ux_payments_active_idempotency"))

	pgxErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payments_active_idempotency"}
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", pgxErr), "ux_payments_active_idempotency"))
	assert.False(t, IsUniqueViolation(pgxErr, "ux_payments_transaction_id"))

	pqErr := &pq.Error{Code: "23505", Constraint: "ux_certificates_number"}
	assert.True(t, IsUniqueViolation(pqErr, ""))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}, ""))

	assert.False(t, IsUniqueViolation(nil, ""))
	assert.True(t, IsNotFound(fmt.Errorf("load: %w", gorm.ErrRecordNotFound)))
}

func TestForUpdateSkipsSQLite(t *testing.T) {
	c := openClient(t)
	tx := c.DB().Model(&ledgerRow{})
	assert.Same(t, tx, ForUpdate(tx))
	assert.Nil(t, ForUpdate(nil))
}
