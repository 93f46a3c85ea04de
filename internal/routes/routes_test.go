package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/config"
	"github.com/fleetmaster/fleetmaster-hub/internal/database"
	"github.com/fleetmaster/fleetmaster-hub/internal/email"
	"github.com/fleetmaster/fleetmaster-hub/internal/handlers"
	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/fleetmaster/fleetmaster-hub/internal/services"
	"github.com/fleetmaster/fleetmaster-hub/internal/wompi"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testSecret     = "test-jwt-secret"
	testAdminToken = "ops-token"
)

var confirmLink = regexp.MustCompile(`confirm\?token=([A-Za-z0-9_\-=]+)`)

type outbox struct {
	mu   sync.Mutex
	html []string
}

func (o *outbox) Send(_ context.Context, to, subject, html string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.html = append(o.html, html)
	return nil
}

func (o *outbox) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.html) == 0 {
		return ""
	}
	return o.html[len(o.html)-1]
}

type testEnv struct {
	app     *fiber.App
	db      *gorm.DB
	cfg     *config.Config
	gateway *wompi.Client
	mail    *outbox
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cfg := &config.Config{
		JWTSecret:        testSecret,
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: time.Hour,
		AdminToken:       testAdminToken,
		AdminEmails:      "boss@fleetmaster.co",
		FrontendURL:      "http://app.test",
		OpsEmail:         "ops@fleetmaster.co",
		CORSOrigins:      "*",
	}

	mail := &outbox{}
	notifier, err := email.NewNotifier(mail)
	require.NoError(t, err)

	catalog := plans.NewCatalog()
	gateway := wompi.NewClient("pub_test_123", "test_integrity_secret", "test_events_secret")
	subs := services.NewSubscriptionService(db, catalog)
	ent := services.NewEntitlementService(db, catalog)
	auth := services.NewAuthService(db, cfg, subs, notifier)
	payments := services.NewPaymentService(db, catalog, gateway, subs, subs, notifier, services.PaymentConfig{
		OpsEmail:    cfg.OpsEmail,
		FrontendURL: cfg.FrontendURL,
	})

	app := fiber.New()
	app.Use(requestid.New())
	Setup(app, cfg, db, Handlers{
		Auth:         handlers.NewAuthHandler(auth),
		Health:       handlers.NewHealthHandler(db),
		Webhook:      handlers.NewWebhookHandler(payments),
		Payment:      handlers.NewPaymentHandler(payments),
		Subscription: handlers.NewSubscriptionHandler(subs, ent),
		Fleet:        handlers.NewFleetHandler(),
	}, ent)

	return &testEnv{app: app, db: db, cfg: cfg, gateway: gateway, mail: mail}
}

func (e *testEnv) createUser(t *testing.T, confirmed bool, role string) models.User {
	t.Helper()
	id := uuid.New()
	user := models.User{
		ID:        id,
		Email:     id.String()[:8] + "@example.com",
		Password:  "x",
		Name:      "Fleet Owner",
		Role:      role,
		Confirmed: confirmed,
	}
	require.NoError(t, e.db.Create(&user).Error)
	return user
}

func (e *testEnv) bindKey(t *testing.T, userID uuid.UUID, plan plans.Plan, due time.Time) {
	t.Helper()
	start := due.AddDate(0, -1, 0)
	require.NoError(t, e.db.Create(&models.SubscriptionKey{
		ID:        uuid.New(),
		UserID:    &userID,
		Plan:      plan,
		StartDate: &start,
		DueDate:   &due,
		Status:    models.KeyStatusActive,
	}).Error)
}

func tokenFor(t *testing.T, user models.User) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"role":  user.Role,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func (e *testEnv) signedEvent(t *testing.T, tx map[string]any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event":       wompi.EventTransactionUpdated,
		"data":        map[string]any{"transaction": tx},
		"environment": "test",
		"signature": map[string]any{
			"properties": []string{"transaction.id", "transaction.status", "transaction.amount_in_cents"},
		},
		"timestamp": 1717171717,
		"sent_at":   "2024-05-31T16:08:37.000Z",
	})
	require.NoError(t, err)
	event, err := wompi.ParseEvent(body)
	require.NoError(t, err)
	checksum, err := e.gateway.EventChecksum(event)
	require.NoError(t, err)
	return body, checksum
}

func TestHealth(t *testing.T) {
	env := setupEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	health := decode[map[string]string](t, body)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["db"])
}

func TestProtectedRoutesRequireJWT(t *testing.T) {
	env := setupEnv(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/payments/initialize"},
		{http.MethodGet, "/api/payments/verify/123"},
		{http.MethodPost, "/api/subscriptions/activate"},
		{http.MethodPost, "/api/subscriptions/purchase"},
		{http.MethodGet, "/api/subscriptions/status"},
		{http.MethodGet, "/api/fleet/limits"},
		{http.MethodPost, "/api/admin/subscriptions/generate"},
	} {
		status, body := env.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, route.path)
		assert.Contains(t, string(body), `"error"`, route.path)
	}
}

func TestRegisterConfirmStartsTrial(t *testing.T) {
	env := setupEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "Owner@Fleet.co",
		"password": "supersecret",
		"name":     "Owner",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "owner@fleet.co",
		"password": "supersecret",
	})
	require.Equal(t, http.StatusOK, status, string(body))
	login := decode[map[string]any](t, body)

	// Logged in but unconfirmed: the fleet surface stays closed.
	status, body = env.do(t, http.MethodGet, "/api/fleet/limits", login["access_token"].(string), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCOUNT_UNCONFIRMED", decode[map[string]string](t, body)["reason"])

	match := confirmLink.FindStringSubmatch(env.mail.last())
	require.Len(t, match, 2)

	status, body = env.do(t, http.MethodPost, "/api/auth/confirm", "", map[string]string{"token": match[1]})
	require.Equal(t, http.StatusOK, status, string(body))
	token := decode[map[string]any](t, body)["access_token"].(string)

	status, body = env.do(t, http.MethodGet, "/api/subscriptions/status", token, nil)
	require.Equal(t, http.StatusOK, status)
	decision := decode[map[string]any](t, body)
	assert.Equal(t, "LIMITED", decision["access"])
	assert.Equal(t, "TRIAL_ACTIVE", decision["reason"])
	assert.EqualValues(t, 5, decision["days_remaining"])

	status, _ = env.do(t, http.MethodGet, "/api/fleet/limits", token, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRegisterValidation(t *testing.T) {
	env := setupEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "a@b.co"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, decode[map[string]string](t, body)["error"], "missing required fields")

	status, _ = env.do(t, http.MethodPost, "/api/auth/register", "", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestFleetLimitsBlockedWithoutSubscription(t *testing.T) {
	env := setupEnv(t)
	user := env.createUser(t, true, models.RoleUser)

	status, body := env.do(t, http.MethodGet, "/api/fleet/limits", tokenFor(t, user), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NO_SUBSCRIPTION", decode[map[string]string](t, body)["reason"])

	env.bindKey(t, user.ID, plans.Pro, time.Now().UTC().Add(-time.Hour))
	status, body = env.do(t, http.MethodGet, "/api/fleet/limits", tokenFor(t, user), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "SUBSCRIPTION_EXPIRED", decode[map[string]string](t, body)["reason"])
}

func TestFleetLimitsClampsRange(t *testing.T) {
	env := setupEnv(t)
	user := env.createUser(t, true, models.RoleUser)
	env.bindKey(t, user.ID, plans.Basico, time.Now().UTC().AddDate(0, 0, 20))

	status, body := env.do(t, http.MethodGet, "/api/fleet/limits?from=2000-01-01", tokenFor(t, user), nil)
	require.Equal(t, http.StatusOK, status, string(body))

	resp := decode[struct {
		Plan   string       `json:"plan"`
		Limits plans.Limits `json:"limits"`
		From   time.Time    `json:"from"`
	}](t, body)
	assert.Equal(t, "basico", resp.Plan)
	assert.Equal(t, 3, resp.Limits.MaxVehicles)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), resp.From, time.Minute)

	status, _ = env.do(t, http.MethodGet, "/api/fleet/limits?from=yesterday", tokenFor(t, user), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCheckoutWebhookVerifyFlow(t *testing.T) {
	env := setupEnv(t)
	user := env.createUser(t, true, models.RoleUser)
	token := tokenFor(t, user)

	status, body := env.do(t, http.MethodPost, "/api/payments/initialize", token, map[string]string{
		"plan": "pro", "duration": "monthly",
	})
	require.Equal(t, http.StatusOK, status, string(body))
	checkout := decode[map[string]any](t, body)
	assert.Equal(t, "pub_test_123", checkout["publicKey"])
	assert.EqualValues(t, 9990000, checkout["amountInCents"])
	reference := checkout["reference"].(string)

	event, checksum := env.signedEvent(t, map[string]any{
		"id":                  "1234-1700000000-00001",
		"amount_in_cents":     9990000,
		"reference":           reference,
		"currency":            "COP",
		"payment_method_type": "CARD",
		"status":              "APPROVED",
	})

	status, body = env.do(t, http.MethodPost, "/api/payments/webhook", "", event, "X-Event-Checksum", checksum)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)

	// Redelivery is acknowledged and changes nothing.
	status, _ = env.do(t, http.MethodPost, "/api/payments/webhook", "", event, "X-Event-Checksum", checksum)
	assert.Equal(t, http.StatusOK, status)

	var keys int64
	env.db.Model(&models.SubscriptionKey{}).Where("transaction_reference = ?", reference).Count(&keys)
	assert.Equal(t, int64(1), keys)

	status, body = env.do(t, http.MethodGet, "/api/payments/verify/1234-1700000000-00001", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.TransactionApproved, decode[map[string]string](t, body)["status"])

	other := env.createUser(t, true, models.RoleUser)
	status, _ = env.do(t, http.MethodGet, "/api/payments/verify/1234-1700000000-00001", tokenFor(t, other), nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, http.MethodGet, "/api/subscriptions/status", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "FULL", decode[map[string]any](t, body)["access"])

	// A fresh 30-day grant blocks another purchase.
	status, body = env.do(t, http.MethodPost, "/api/subscriptions/purchase", token, map[string]string{
		"plan": "enterprise", "duration": "monthly",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "you already have an active subscription", decode[map[string]string](t, body)["error"])
}

func TestWebhookRejectsBadChecksum(t *testing.T) {
	env := setupEnv(t)
	event, _ := env.signedEvent(t, map[string]any{
		"id": "1", "amount_in_cents": 100, "reference": "FMP-NOPE", "currency": "COP", "status": "APPROVED",
	})

	status, body := env.do(t, http.MethodPost, "/api/payments/webhook", "", event, "X-Event-Checksum", "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Empty(t, body)
}

func TestWebhookBypassesRateLimit(t *testing.T) {
	env := setupEnv(t)
	event, checksum := env.signedEvent(t, map[string]any{
		"id": "1", "amount_in_cents": 100, "reference": "FMP-UNKNOWN", "currency": "COP", "status": "APPROVED",
	})

	for i := 0; i < 70; i++ {
		status, _ := env.do(t, http.MethodPost, "/api/payments/webhook", "", event, "X-Event-Checksum", checksum)
		require.Equal(t, http.StatusOK, status, "delivery %d", i)
	}
}

func TestPurchaseRejectsUnknownPlan(t *testing.T) {
	env := setupEnv(t)
	user := env.createUser(t, true, models.RoleUser)

	status, _ := env.do(t, http.MethodPost, "/api/subscriptions/purchase", tokenFor(t, user), map[string]string{
		"plan": "platinum", "duration": "monthly",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/payments/initialize", tokenFor(t, user), map[string]string{
		"plan": "free_trial", "duration": "monthly",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminGenerateKeyAndActivate(t *testing.T) {
	env := setupEnv(t)
	user := env.createUser(t, true, models.RoleUser)
	admin := env.createUser(t, true, models.RoleAdmin)

	req := map[string]any{"plan": "enterprise", "price": 0}

	status, _ := env.do(t, http.MethodPost, "/api/admin/subscriptions/generate", tokenFor(t, user), req)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.do(t, http.MethodPost, "/api/admin/subscriptions/generate", "", req, "X-Admin-Token", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := env.do(t, http.MethodPost, "/api/admin/subscriptions/generate", tokenFor(t, admin), req)
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = env.do(t, http.MethodPost, "/api/admin/subscriptions/generate", "", req, "X-Admin-Token", testAdminToken)
	require.Equal(t, http.StatusCreated, status, string(body))
	key := decode[map[string]any](t, body)

	status, body = env.do(t, http.MethodPost, "/api/subscriptions/activate", tokenFor(t, user), map[string]string{
		"key": key["id"].(string),
	})
	require.Equal(t, http.StatusOK, status, string(body))
	activated := decode[map[string]any](t, body)
	assert.Equal(t, true, activated["success"])
	assert.Equal(t, "enterprise", activated["plan"])

	// Keys are single use.
	status, _ = env.do(t, http.MethodPost, "/api/subscriptions/activate", tokenFor(t, user), map[string]string{
		"key": key["id"].(string),
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminByConfiguredEmail(t *testing.T) {
	env := setupEnv(t)
	boss := models.User{ID: uuid.New(), Email: "boss@fleetmaster.co", Password: "x", Role: models.RoleUser, Confirmed: true}
	require.NoError(t, env.db.Create(&boss).Error)

	status, body := env.do(t, http.MethodPost, "/api/admin/subscriptions/generate", tokenFor(t, boss), map[string]any{
		"plan": "pro", "price": 99900,
	})
	assert.Equal(t, http.StatusCreated, status, string(body))

	status, _ = env.do(t, http.MethodPost, "/api/admin/subscriptions/generate", tokenFor(t, boss), map[string]any{
		"plan": "pro", "price": -1,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUnconfirmedAdminEmailIsNotAdmin(t *testing.T) {
	env := setupEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "boss@fleetmaster.co", "password": "supersecret",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "boss@fleetmaster.co", "password": "supersecret",
	})
	require.Equal(t, http.StatusOK, status, string(body))
	token := decode[map[string]any](t, body)["access_token"].(string)

	req := map[string]any{"plan": "enterprise", "price": 0}
	status, _ = env.do(t, http.MethodPost, "/api/admin/subscriptions/generate", token, req)
	assert.Equal(t, http.StatusForbidden, status)

	var keys int64
	env.db.Model(&models.SubscriptionKey{}).Count(&keys)
	assert.Zero(t, keys)

	match := confirmLink.FindStringSubmatch(env.mail.last())
	require.Len(t, match, 2)
	status, body = env.do(t, http.MethodPost, "/api/auth/confirm", "", map[string]string{"token": match[1]})
	require.Equal(t, http.StatusOK, status, string(body))
	token = decode[map[string]any](t, body)["access_token"].(string)

	status, _ = env.do(t, http.MethodPost, "/api/admin/subscriptions/generate", token, req)
	assert.Equal(t, http.StatusCreated, status)
}

func TestAdminRoleRequiresConfirmedAccount(t *testing.T) {
	env := setupEnv(t)
	admin := env.createUser(t, false, models.RoleAdmin)

	status, _ := env.do(t, http.MethodPost, "/api/admin/subscriptions/generate", tokenFor(t, admin), map[string]any{
		"plan": "pro", "price": 0,
	})
	assert.Equal(t, http.StatusForbidden, status)
}
