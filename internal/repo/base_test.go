package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/pkg/db/dbtest"
	"github.com/learnonline/payments-backend/pkg/db/models"
)

type ctxKey struct{}

func TestDBScopesContext(t *testing.T) {
	conn := dbtest.Open(t)
	base := NewBase(conn)

	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	scoped := base.DB(ctx)
	require.NotNil(t, scoped.Statement)
	assert.Equal(t, ctx, scoped.Statement.Context)

	assert.Same(t, conn, base.DB(nil))
}

func TestTxRebinds(t *testing.T) {
	conn := dbtest.Open(t)
	base := NewBase(conn)

	assert.Same(t, conn, base.Tx(nil).conn)
	tx := conn.Session(&gorm.Session{})
	assert.Same(t, tx, base.Tx(tx).conn)
	assert.Same(t, conn, base.conn, "Tx must not mutate the receiver")
}

func TestInsertOrFindOnUniqueConflict(t *testing.T) {
	conn := dbtest.Open(t)
	course := dbtest.MustCourse(t, conn, "49.99", "19.99")
	userID := uuid.New()
	existing := dbtest.MustEnrollment(t, conn, userID, course.ID)

	var got models.Enrollment
	created, err := InsertOrFind(
		func() error {
			return conn.Create(&models.Enrollment{UserID: userID, CourseID: course.ID}).Error
		},
		func() error {
			return conn.Where("user_id = ? AND course_id = ?", userID, course.ID).First(&got).Error
		},
		"ux_enrollments_user_course",
	)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, got.ID)
}

func TestInsertOrFindBranches(t *testing.T) {
	created, err := InsertOrFind(func() error { return nil }, func() error {
		t.Fatal("find must not run after a successful insert")
		return nil
	}, "")
	require.NoError(t, err)
	assert.True(t, created)

	boom := errors.New("connection refused")
	_, err = InsertOrFind(func() error { return boom }, func() error { return nil }, "")
	assert.ErrorIs(t, err, boom)
}
