package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/learnonline/payments-backend/pkg/logger"
)

func newCapturingQueryLogger(slow time.Duration) (*queryLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return newQueryLogger(logger.New(logger.Options{ServiceName: "test", Output: &buf}), slow), &buf
}

func statement(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestQueryLoggerReportsFailures(t *testing.T) {
	q, buf := newCapturingQueryLogger(time.Second)
	q.Trace(context.Background(), time.Now(), statement("INSERT INTO payments", 0), errors.New("constraint failed"))

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"sql":"INSERT INTO payments"`)
	assert.Contains(t, out, "constraint failed")
}

func TestQueryLoggerIgnoresMissingRows(t *testing.T) {
	q, buf := newCapturingQueryLogger(time.Second)
	q.Trace(context.Background(), time.Now(), statement("SELECT 1", 0), gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())
}

func TestQueryLoggerWarnsOnSlowStatements(t *testing.T) {
	q, buf := newCapturingQueryLogger(10 * time.Millisecond)
	q.Trace(context.Background(), time.Now().Add(-50*time.Millisecond), statement("SELECT * FROM outbox_events", 3), nil)

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "slow db query")
	assert.Contains(t, out, `"rows":3`)

	buf.Reset()
	q.Trace(context.Background(), time.Now(), statement("SELECT 1", 1), nil)
	assert.Empty(t, buf.String())
}

func TestQueryLoggerSilentModeAndTruncation(t *testing.T) {
	q, buf := newCapturingQueryLogger(time.Nanosecond)
	q.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now().Add(-time.Second), statement("SELECT 1", 1), errors.New("x"))
	assert.Empty(t, buf.String())

	q.Trace(context.Background(), time.Now().Add(-time.Second), statement(strings.Repeat("x", maxLoggedSQL+10), 0), nil)
	assert.Contains(t, buf.String(), strings.Repeat("x", maxLoggedSQL)+"...")
	assert.NotContains(t, buf.String(), strings.Repeat("x", maxLoggedSQL+1))
}
