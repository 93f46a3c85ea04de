package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/config"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/fleetmaster/fleetmaster-hub/internal/email"
	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// TrialStarter grants the welcome trial on the caller's transaction.
type TrialStarter interface {
	StartTrial(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.SubscriptionKey, error)
}

type AuthService struct {
	db       *gorm.DB
	cfg      *config.Config
	trial    TrialStarter
	notifier *email.Notifier
}

func NewAuthService(db *gorm.DB, cfg *config.Config, trial TrialStarter, notifier *email.Notifier) *AuthService {
	return &AuthService{
		db:       db,
		cfg:      cfg,
		trial:    trial,
		notifier: notifier,
	}
}

// Register creates an unconfirmed account and emails the confirmation link.
func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	db := s.db.WithContext(ctx)
	addr := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.User
	if err := db.Where("email = ?", addr).First(&existing).Error; err == nil {
		return nil, apperrors.ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	rawToken, err := randomToken()
	if err != nil {
		return nil, err
	}
	tokenHash := hashToken(rawToken)

	user := models.User{
		ID:                    uuid.New(),
		Email:                 addr,
		Password:              string(hash),
		Name:                  strings.TrimSpace(req.Name),
		Role:                  models.RoleUser,
		ConfirmationTokenHash: &tokenHash,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	err = s.notifier.Confirmation(ctx, user.Email, email.TemplateData{
		Name: user.Name,
		Link: s.cfg.FrontendURL + "/confirm?token=" + rawToken,
	})
	if err != nil {
		slog.Error("confirmation email failed", "action", "register", "user_id", user.ID.String(), "error", err)
	}

	return &dto.RegisterResponse{
		Message: "Check your inbox to confirm your account",
		User:    userResponse(&user),
	}, nil
}

// Confirm marks the account confirmed, starts the welcome trial and logs the user in.
// Addresses in ADMIN_EMAILS get the admin role here, once ownership is proven.
func (s *AuthService) Confirm(ctx context.Context, req *dto.ConfirmRequest) (*dto.AuthResponse, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("confirmation_token_hash = ?", hashToken(req.Token)).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrInvalidToken
			}
			return fmt.Errorf("failed to load user: %w", err)
		}

		updates := map[string]interface{}{
			"confirmed":               true,
			"confirmation_token_hash": nil,
		}
		if slices.Contains(s.cfg.AdminEmailList(), user.Email) {
			updates["role"] = models.RoleAdmin
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to confirm user: %w", err)
		}
		user.Confirmed = true
		if role, ok := updates["role"].(string); ok {
			user.Role = role
		}

		if _, err := s.trial.StartTrial(ctx, tx, user.ID); err != nil {
			return fmt.Errorf("failed to start trial: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("account confirmed", "action", "confirm", "user_id", user.ID.String())
	return s.generateTokenPair(ctx, &user)
}

func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	var user models.User
	addr := strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.db.WithContext(ctx).Where("email = ?", addr).First(&user).Error; err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	return s.generateTokenPair(ctx, &user)
}

func (s *AuthService) Refresh(ctx context.Context, req *dto.RefreshRequest) (*dto.AuthResponse, error) {
	db := s.db.WithContext(ctx)
	tokenHash := hashToken(req.RefreshToken)

	var stored models.RefreshToken
	if err := db.Where("token_hash = ? AND revoked = ?", tokenHash, false).First(&stored).Error; err != nil {
		return nil, apperrors.ErrInvalidToken
	}

	db.Model(&stored).Update("revoked", true)
	if time.Now().After(stored.ExpiresAt) {
		return nil, apperrors.ErrInvalidToken
	}

	var user models.User
	if err := db.First(&user, "id = ?", stored.UserID).Error; err != nil {
		return nil, apperrors.ErrUserNotFound.Wrap(err)
	}

	return s.generateTokenPair(ctx, &user)
}

func (s *AuthService) Logout(ctx context.Context, req *dto.LogoutRequest) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ?", hashToken(req.RefreshToken)).
		Update("revoked", true).Error
}

func (s *AuthService) generateTokenPair(ctx context.Context, user *models.User) (*dto.AuthResponse, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateRefreshToken(ctx, user)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userResponse(user),
	}, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"role":  user.Role,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(s.cfg.JWTAccessExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *AuthService) generateRefreshToken(ctx context.Context, user *models.User) (string, error) {
	rawToken, err := randomToken()
	if err != nil {
		return "", err
	}

	record := models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(rawToken),
		ExpiresAt: time.Now().Add(s.cfg.JWTRefreshExpiry),
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return rawToken, nil
}

func userResponse(user *models.User) dto.UserResponse {
	return dto.UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		Confirmed: user.Confirmed,
	}
}

func randomToken() (string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(rawBytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}
