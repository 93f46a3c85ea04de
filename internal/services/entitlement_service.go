package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/entitlement"
	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EntitlementService struct {
	db      *gorm.DB
	catalog *plans.Catalog
	now     func() time.Time
}

func NewEntitlementService(db *gorm.DB, catalog *plans.Catalog) *EntitlementService {
	return &EntitlementService{
		db:      db,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Resolve classifies the user's access from their confirmation state and active key.
func (s *EntitlementService) Resolve(ctx context.Context, userID uuid.UUID) (*entitlement.Decision, error) {
	db := s.db.WithContext(ctx)

	var user models.User
	if err := db.Select("id", "confirmed").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	key, err := activeKey(db, userID)
	if err != nil {
		return nil, err
	}
	return entitlement.Classify(user.Confirmed, key, s.now(), s.catalog), nil
}
