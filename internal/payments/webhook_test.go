package payments

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/db/dbtest"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
	"github.com/learnonline/payments-backend/pkg/gateway"
	"github.com/learnonline/payments-backend/pkg/logger"
)

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return v, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "lo:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

func (m *memoryStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

type webhookFixture struct {
	*fixture
	hooks *WebhookService
	store *memoryStore
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	f := newMockFixture(t)
	store := newMemoryStore()
	return &webhookFixture{fixture: f, store: store, hooks: f.newWebhookService(t, f.payments, store)}
}

func (f *fixture) newWebhookService(t *testing.T, payments Repository, store *memoryStore) *WebhookService {
	t.Helper()
	guard, err := NewReplayGuard(store, time.Minute)
	require.NoError(t, err)
	hooks, err := NewWebhookService(WebhookServiceParams{
		DB:       db.Wrap(f.conn),
		Payments: payments,
		Courses:  f.courses,
		Gateways: f.registry,
		Outbox:   f.emitter,
		Guard:    guard,
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	return hooks
}

func mustPendingPayment(t *testing.T, f *fixture, userID uuid.UUID, course *models.Course, processorID string) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		TransactionID:          NewTransactionID(),
		UserID:                 userID,
		CourseID:               &course.ID,
		Amount:                 course.Price,
		Currency:               enums.CurrencyUSD,
		Status:                 enums.PaymentStatusPending,
		PaymentMethod:          enums.PaymentMethodVisa,
		PurchaseType:           enums.PurchaseTypeCourse,
		ProcessorTransactionID: &processorID,
		IdempotencyKey:         uuid.NewString(),
	}
	require.NoError(t, f.conn.Create(payment).Error)
	return payment
}

func mockDelivery(secret, body string) WebhookInput {
	h := http.Header{}
	h.Set(gateway.SignatureHeader, secret)
	return WebhookInput{
		Provider: "mock",
		Header:   h,
		Body:     []byte(body),
		Request:  RequestMeta{IPAddress: "198.51.100.4", UserAgent: "processor/1.0"},
	}
}

func TestWebhookCompletesPendingPayment(t *testing.T) {
	f := newWebhookFixture(t)
	course := dbtest.MustCourse(t, f.conn, "10.00", "5.00")
	userID := uuid.New()
	payment := mustPendingPayment(t, f.fixture, userID, course, "MOCK-ABC")

	res, err := f.hooks.Handle(context.Background(), mockDelivery("dev_secret", `{"processor_transaction_id":"MOCK-ABC","status":"completed"}`))
	require.NoError(t, err)
	assert.True(t, res.Received)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)

	stored := loadPayment(t, f.conn, payment.TransactionID)
	assert.Equal(t, enums.PaymentStatusCompleted, stored.Status)
	require.NotNil(t, stored.EnrollmentID)
	assert.EqualValues(t, 1, countRows(t, f.conn, &models.Enrollment{}, "user_id = ? AND course_id = ?", userID, course.ID))

	var logs []models.PaymentLog
	require.NoError(t, f.conn.Where("payment_id = ?", payment.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, enums.PaymentLogWebhookReceived, logs[0].EventType)
	assert.Equal(t, "Webhook from mock", logs[0].Message)
	assert.Equal(t, enums.PaymentStatusPending, *logs[0].PreviousStatus)
	assert.Equal(t, enums.PaymentStatusCompleted, *logs[0].NewStatus)
	require.NotNil(t, logs[0].IPAddress)
	assert.Equal(t, "198.51.100.4", *logs[0].IPAddress)

	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentCompleted}, outboxTypes(t, f.conn))
}

func TestWebhookDuplicateDeliveryIsShortCircuited(t *testing.T) {
	f := newWebhookFixture(t)
	course := dbtest.MustCourse(t, f.conn, "10.00", "5.00")
	payment := mustPendingPayment(t, f.fixture, uuid.New(), course, "MOCK-ABC")
	body := `{"processor_transaction_id":"MOCK-ABC","status":"completed","event_id":"evt-1"}`

	for i := 0; i < 2; i++ {
		res, err := f.hooks.Handle(context.Background(), mockDelivery("dev_secret", body))
		require.NoError(t, err)
		assert.True(t, res.Received)
	}
	assert.EqualValues(t, 1, countRows(t, f.conn, &models.PaymentLog{}, "payment_id = ?", payment.ID))
	assert.Len(t, outboxTypes(t, f.conn), 1)
}

func TestWebhookSameStatusWritesNoLog(t *testing.T) {
	f := newWebhookFixture(t)
	course := dbtest.MustCourse(t, f.conn, "10.00", "5.00")
	payment := mustPendingPayment(t, f.fixture, uuid.New(), course, "MOCK-ABC")

	_, err := f.hooks.Handle(context.Background(), mockDelivery("dev_secret", `{"processor_transaction_id":"MOCK-ABC","status":"completed","event_id":"evt-1"}`))
	require.NoError(t, err)
	_, err = f.hooks.Handle(context.Background(), mockDelivery("dev_secret", `{"processor_transaction_id":"MOCK-ABC","status":"completed","event_id":"evt-2"}`))
	require.NoError(t, err)

	assert.EqualValues(t, 1, countRows(t, f.conn, &models.PaymentLog{}, "payment_id = ?", payment.ID))
	assert.EqualValues(t, 1, countRows(t, f.conn, &models.Enrollment{}, ""))
}

func TestWebhookReplayRepairsMissingEnrollment(t *testing.T) {
	f := newWebhookFixture(t)
	course := dbtest.MustCourse(t, f.conn, "10.00", "5.00")
	payment := mustPendingPayment(t, f.fixture, uuid.New(), course, "MOCK-ABC")
	require.NoError(t, f.conn.Model(payment).Update("status", enums.PaymentStatusCompleted).Error)

	_, err := f.hooks.Handle(context.Background(), mockDelivery("dev_secret", `{"processor_transaction_id":"MOCK-ABC","status":"completed"}`))
	require.NoError(t, err)

	stored := loadPayment(t, f.conn, payment.TransactionID)
	require.NotNil(t, stored.EnrollmentID)
	assert.Zero(t, countRows(t, f.conn, &models.PaymentLog{}, "payment_id = ?", payment.ID))
	assert.Empty(t, outboxTypes(t, f.conn))
}

func TestWebhookIgnoresDisallowedTransition(t *testing.T) {
	f := newWebhookFixture(t)
	course := dbtest.MustCourse(t, f.conn, "10.00", "5.00")
	payment := mustPendingPayment(t, f.fixture, uuid.New(), course, "MOCK-ABC")
	require.NoError(t, f.conn.Model(payment).Update("status", enums.PaymentStatusFailed).Error)

	res, err := f.hooks.Handle(context.Background(), mockDelivery("dev_secret", `{"processor_transaction_id":"MOCK-ABC","status":"completed"}`))
	require.NoError(t, err)
	assert.True(t, res.Received)

	stored := loadPayment(t, f.conn, payment.TransactionID)
	assert.Equal(t, enums.PaymentStatusFailed, stored.Status)
	assert.Nil(t, stored.EnrollmentID)
	assert.Zero(t, countRows(t, f.conn, &models.PaymentLog{}, ""))
	assert.Zero(t, countRows(t, f.conn, &models.Enrollment{}, ""))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	course := dbtest.MustCourse(t, f.conn, "10.00", "5.00")
	payment := mustPendingPayment(t, f.fixture, uuid.New(), course, "MOCK-ABC")

	res, err := f.hooks.Handle(context.Background(), mockDelivery("wrong", `{"processor_transaction_id":"MOCK-ABC","status":"completed"}`))
	require.NoError(t, err)
	assert.False(t, res.Received)
	assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)
	assert.Equal(t, "invalid signature", res.Message)
	assert.Equal(t, enums.PaymentStatusPending, loadPayment(t, f.conn, payment.TransactionID).Status)
	assert.Zero(t, f.store.size())
}

func TestWebhookUnknownProvider(t *testing.T) {
	f := newWebhookFixture(t)
	in := mockDelivery("dev_secret", `{"processor_transaction_id":"MOCK-ABC","status":"completed"}`)
	in.Provider = "paypal"

	res, err := f.hooks.Handle(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Received)
	assert.Equal(t, msgUnknownProvider, res.Message)
}

func TestWebhookUnmatchedPaymentIsAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)

	res, err := f.hooks.Handle(context.Background(), mockDelivery("dev_secret", `{"processor_transaction_id":"MOCK-NOPE","status":"completed"}`))
	require.NoError(t, err)
	assert.True(t, res.Received)
	assert.Zero(t, countRows(t, f.conn, &models.PaymentLog{}, ""))
	assert.Zero(t, f.store.size())
}

func TestWebhookRedeliveryAppliesOncePaymentAppears(t *testing.T) {
	f := newWebhookFixture(t)
	course := dbtest.MustCourse(t, f.conn, "10.00", "5.00")
	body := `{"processor_transaction_id":"MOCK-LATE","status":"completed","event_id":"evt-late"}`

	res, err := f.hooks.Handle(context.Background(), mockDelivery("dev_secret", body))
	require.NoError(t, err)
	assert.True(t, res.Received)

	payment := mustPendingPayment(t, f.fixture, uuid.New(), course, "MOCK-LATE")

	res, err = f.hooks.Handle(context.Background(), mockDelivery("dev_secret", body))
	require.NoError(t, err)
	assert.True(t, res.Received)

	stored := loadPayment(t, f.conn, payment.TransactionID)
	assert.Equal(t, enums.PaymentStatusCompleted, stored.Status)
	assert.NotNil(t, stored.EnrollmentID)
	assert.Equal(t, 1, f.store.size())
}

type failingLookupRepo struct {
	Repository
}

func (r failingLookupRepo) WithTx(tx *gorm.DB) Repository {
	return failingLookupRepo{Repository: r.Repository.WithTx(tx)}
}

func (r failingLookupRepo) FindByProcessorID(context.Context, string) (*models.Payment, error) {
	return nil, errors.New("database is gone")
}

func TestWebhookFailureReleasesReplayKey(t *testing.T) {
	f := newMockFixture(t)
	store := newMemoryStore()
	hooks := f.newWebhookService(t, failingLookupRepo{Repository: f.payments}, store)

	_, err := hooks.Handle(context.Background(), mockDelivery("dev_secret", `{"processor_transaction_id":"MOCK-ABC","status":"completed"}`))
	require.Error(t, err)
	assert.Zero(t, store.size())
}
