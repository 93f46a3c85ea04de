package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/database"
	"github.com/fleetmaster/fleetmaster-hub/internal/email"
	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/fleetmaster/fleetmaster-hub/internal/tenant"
	"github.com/fleetmaster/fleetmaster-hub/internal/wompi"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createUser(t *testing.T, db *gorm.DB, confirmed bool) models.User {
	t.Helper()
	id := uuid.New()
	user := models.User{
		ID:        id,
		Email:     id.String()[:8] + "@example.com",
		Password:  "x",
		Name:      "Fleet Owner",
		Role:      models.RoleUser,
		Confirmed: confirmed,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

// createKey inserts a key bound to userID (when non-nil) with the given due date.
func createKey(t *testing.T, db *gorm.DB, userID *uuid.UUID, plan plans.Plan, status string, due *time.Time) models.SubscriptionKey {
	t.Helper()
	key := models.SubscriptionKey{
		ID:     uuid.New(),
		UserID: userID,
		Plan:   plan,
		Status: status,
	}
	if due != nil {
		start := due.AddDate(0, -1, 0)
		key.StartDate = &start
		key.DueDate = due
	}
	require.NoError(t, db.Create(&key).Error)
	return key
}

func createTransaction(t *testing.T, db *gorm.DB, userID uuid.UUID, reference string, plan plans.Plan, duration plans.Duration, amount int64) models.Transaction {
	t.Helper()
	txn := models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Reference: reference,
		Amount:    amount,
		Currency:  plans.Currency,
		Plan:      plan,
		Duration:  duration,
		Status:    models.TransactionPending,
	}
	require.NoError(t, db.Create(&txn).Error)
	return txn
}

func activeKeys(t *testing.T, db *gorm.DB, userID uuid.UUID) []models.SubscriptionKey {
	t.Helper()
	var keys []models.SubscriptionKey
	require.NoError(t, db.Scopes(tenant.ForOwner(userID)).Where("status = ?", models.KeyStatusActive).Find(&keys).Error)
	return keys
}

func reload[T any](t *testing.T, db *gorm.DB, id uuid.UUID) T {
	t.Helper()
	var row T
	require.NoError(t, db.First(&row, "id = ?", id).Error)
	return row
}

type sentEmail struct {
	to, subject, html string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{to: to, subject: subject, html: html})
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newNotifier(t *testing.T, sender email.Sender) *email.Notifier {
	t.Helper()
	n, err := email.NewNotifier(sender)
	require.NoError(t, err)
	return n
}

// countingFulfiller records calls before delegating to the real lifecycle service.
type countingFulfiller struct {
	mu    sync.Mutex
	calls int
	next  PurchaseFulfiller
}

func (f *countingFulfiller) FulfillPurchase(ctx context.Context, tx *gorm.DB, userID uuid.UUID, plan plans.Plan, duration plans.Duration, reference string) (*models.SubscriptionKey, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.next.FulfillPurchase(ctx, tx, userID, plan, duration, reference)
}

func (f *countingFulfiller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testGateway() *wompi.Client {
	return wompi.NewClient("pub_test_123", "test_integrity_secret", "test_events_secret")
}

type eventTx struct {
	ID                string `json:"id,omitempty"`
	AmountInCents     int64  `json:"amount_in_cents"`
	Reference         string `json:"reference"`
	CustomerEmail     string `json:"customer_email,omitempty"`
	Currency          string `json:"currency"`
	PaymentMethodType string `json:"payment_method_type,omitempty"`
	Status            string `json:"status"`
}

// signedEvent builds a transaction.updated body and its checksum header.
func signedEvent(t *testing.T, gateway *wompi.Client, tx eventTx) ([]byte, string) {
	t.Helper()
	return signedRaw(t, gateway, wompi.EventTransactionUpdated,
		map[string]any{"transaction": tx},
		[]string{"transaction.id", "transaction.status", "transaction.amount_in_cents"})
}

func signedRaw(t *testing.T, gateway *wompi.Client, eventName string, data map[string]any, properties []string) ([]byte, string) {
	t.Helper()
	envelope := map[string]any{
		"event":       eventName,
		"data":        data,
		"environment": "test",
		"signature":   map[string]any{"properties": properties},
		"timestamp":   1717171717,
		"sent_at":     "2024-05-31T16:08:37.000Z",
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)

	event, err := wompi.ParseEvent(body)
	require.NoError(t, err)
	checksum, err := gateway.EventChecksum(event)
	require.NoError(t, err)
	return body, checksum
}
