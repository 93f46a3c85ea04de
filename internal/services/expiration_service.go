package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/email"
	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"gorm.io/gorm"
)

type ExpirationService struct {
	db          *gorm.DB
	notifier    *email.Notifier
	noticeDays  int
	frontendURL string
	now         func() time.Time
}

func NewExpirationService(db *gorm.DB, notifier *email.Notifier, noticeDays int, frontendURL string) *ExpirationService {
	return &ExpirationService{
		db:          db,
		notifier:    notifier,
		noticeDays:  noticeDays,
		frontendURL: frontendURL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type expiringKey struct {
	models.SubscriptionKey
	Email string
	Name  string
}

// NotifyExpiring emails every owner whose active key falls due within the notice
// window. It returns how many reminders were sent; delivery failures are logged.
func (s *ExpirationService) NotifyExpiring(ctx context.Context) (int, error) {
	now := s.now()
	until := now.AddDate(0, 0, s.noticeDays)

	var rows []expiringKey
	err := s.db.WithContext(ctx).
		Table("subscription_keys").
		Select("subscription_keys.*, users.email AS email, users.name AS name").
		Joins("JOIN users ON users.id = subscription_keys.user_id AND users.deleted_at IS NULL").
		Where("subscription_keys.status = ?", models.KeyStatusActive).
		Where("subscription_keys.due_date > ? AND subscription_keys.due_date <= ?", now, until).
		Order("subscription_keys.due_date ASC").
		Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to query expiring keys: %w", err)
	}

	sent := 0
	for _, row := range rows {
		days := int(math.Ceil(row.DueDate.Sub(now).Hours() / 24))
		err := s.notifier.ExpirationReminder(ctx, row.Email, email.TemplateData{
			Name:          row.Name,
			Plan:          string(row.Plan),
			DueDate:       row.DueDate.Format("2006-01-02"),
			DaysRemaining: days,
			Link:          s.frontendURL + "/subscription",
		})
		if err != nil {
			slog.Error("expiration reminder failed",
				"action", "expiration_sweep",
				"user_id", row.UserID.String(),
				"error", err,
			)
			continue
		}
		sent++
	}

	slog.Info("expiration sweep finished", "candidates", len(rows), "sent", sent)
	return sent, nil
}
