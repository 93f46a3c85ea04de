package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/config"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testJWTSecret = "test-secret-test-secret-test-secret"

var confirmLink = regexp.MustCompile(`confirm\?token=([A-Za-z0-9_\-=]+)`)

func newAuthService(t *testing.T) (*AuthService, *gorm.DB, *fakeSender) {
	t.Helper()
	db := newTestDB(t)
	cfg := &config.Config{
		JWTSecret:        testJWTSecret,
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: time.Hour,
		FrontendURL:      "https://app.fleetmaster.co",
		AdminEmails:      "boss@fleetmaster.co",
	}
	subs := NewSubscriptionService(db, plans.NewCatalog())
	sender := &fakeSender{}
	return NewAuthService(db, cfg, subs, newNotifier(t, sender)), db, sender
}

func confirmationToken(t *testing.T, sender *fakeSender) string {
	t.Helper()
	require.NotEmpty(t, sender.sent)
	m := confirmLink.FindStringSubmatch(sender.sent[len(sender.sent)-1].html)
	require.Len(t, m, 2)
	return m[1]
}

func TestRegisterAndConfirm(t *testing.T) {
	svc, db, sender := newAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: " Owner@Example.com", Password: "password123", Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", reg.User.Email)
	assert.False(t, reg.User.Confirmed)
	assert.Equal(t, models.RoleUser, reg.User.Role)

	require.Equal(t, 1, sender.count())
	assert.Equal(t, "owner@example.com", sender.sent[0].to)
	token := confirmationToken(t, sender)

	auth, err := svc.Confirm(ctx, &dto.ConfirmRequest{Token: token})
	require.NoError(t, err)
	assert.True(t, auth.User.Confirmed)
	assert.NotEmpty(t, auth.AccessToken)
	assert.NotEmpty(t, auth.RefreshToken)

	stored := reload[models.User](t, db, reg.User.ID)
	assert.True(t, stored.Confirmed)
	assert.Nil(t, stored.ConfirmationTokenHash)

	active := activeKeys(t, db, reg.User.ID)
	require.Len(t, active, 1)
	assert.Equal(t, plans.FreeTrial, active[0].Plan)

	_, err = svc.Confirm(ctx, &dto.ConfirmRequest{Token: token})
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, &dto.RegisterRequest{Email: "dup@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, &dto.RegisterRequest{Email: "DUP@example.com", Password: "password123"})
	assert.ErrorIs(t, err, apperrors.ErrEmailTaken)
	assert.Equal(t, 409, apperrors.HTTPStatus(err))
}

func TestAdminRoleGrantedOnConfirm(t *testing.T) {
	svc, db, sender := newAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: "boss@fleetmaster.co", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, reg.User.Role)
	assert.Equal(t, models.RoleUser, reload[models.User](t, db, reg.User.ID).Role)

	auth, err := svc.Confirm(ctx, &dto.ConfirmRequest{Token: confirmationToken(t, sender)})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, auth.User.Role)
	assert.Equal(t, models.RoleAdmin, reload[models.User](t, db, reg.User.ID).Role)
}

func TestLoginRefreshLogout(t *testing.T) {
	svc, _, _ := newAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &dto.RegisterRequest{Email: "login@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, &dto.LoginRequest{Email: "login@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	_, err = svc.Login(ctx, &dto.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	auth, err := svc.Login(ctx, &dto.LoginRequest{Email: "Login@example.com", Password: "password123"})
	require.NoError(t, err)

	parsed, err := jwt.Parse(auth.AccessToken, func(*jwt.Token) (interface{}, error) {
		return []byte(testJWTSecret), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, reg.User.ID.String(), claims["sub"])
	assert.Equal(t, "login@example.com", claims["email"])
	assert.Equal(t, models.RoleUser, claims["role"])

	rotated, err := svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: auth.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, auth.RefreshToken, rotated.RefreshToken)

	_, err = svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: auth.RefreshToken})
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	require.NoError(t, svc.Logout(ctx, &dto.LogoutRequest{RefreshToken: rotated.RefreshToken}))
	_, err = svc.Refresh(ctx, &dto.RefreshRequest{RefreshToken: rotated.RefreshToken})
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}
