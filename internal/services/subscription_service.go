package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/fleetmaster/fleetmaster-hub/internal/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	trialActivationDays = 5
	paidActivationDays  = 30

	// renewalEpsilon is 0.1 day. A renewal is allowed once the active grant is this close to its due date.
	renewalEpsilon = 24 * time.Hour / 10
)

var forUpdate = clause.Locking{Strength: "UPDATE"}

type SubscriptionService struct {
	db      *gorm.DB
	catalog *plans.Catalog
	now     func() time.Time
}

func NewSubscriptionService(db *gorm.DB, catalog *plans.Catalog) *SubscriptionService {
	return &SubscriptionService{
		db:      db,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FulfillPurchase grants plan to the user for the months bought. It runs on the
// caller's transaction and must be called at most once per approved payment.
func (s *SubscriptionService) FulfillPurchase(ctx context.Context, tx *gorm.DB, userID uuid.UUID, plan plans.Plan, duration plans.Duration, reference string) (*models.SubscriptionKey, error) {
	price, err := s.catalog.Price(plan, duration)
	if err != nil {
		return nil, err
	}

	tx = tx.WithContext(ctx)
	if err := lockUser(tx, userID); err != nil {
		return nil, err
	}
	if err := deactivateKeys(tx, userID); err != nil {
		return nil, err
	}

	start := s.now()
	due := start.AddDate(0, plans.Months(duration), 0)
	key := models.SubscriptionKey{
		ID:                   uuid.New(),
		UserID:               &userID,
		Plan:                 plan,
		Price:                price,
		DurationMonths:       plans.Months(duration),
		StartDate:            &start,
		DueDate:              &due,
		Status:               models.KeyStatusActive,
		TransactionReference: &reference,
	}
	if err := tx.Create(&key).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription key: %w", err)
	}
	return &key, nil
}

// Activate redeems an unbound key for the user. The window starts now: 5 days for
// trial keys, 30 days for any paid plan.
func (s *SubscriptionService) Activate(ctx context.Context, userID uuid.UUID, keyID string) (*dto.ActivateResponse, error) {
	id, err := uuid.Parse(keyID)
	if err != nil {
		return nil, apperrors.ErrInvalidKey
	}

	var key models.SubscriptionKey
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}

		if err := tx.Clauses(forUpdate).First(&key, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrInvalidKey
			}
			return fmt.Errorf("failed to load subscription key: %w", err)
		}
		if key.Status != models.KeyStatusActive || key.UserID != nil {
			return apperrors.ErrInvalidKey
		}

		current, err := activeKey(tx, userID)
		if err != nil {
			return err
		}
		if current != nil && !current.IsExpiredAt(now) && s.catalog.Weight(current.Plan) > s.catalog.Weight(key.Plan) {
			return apperrors.ErrDowngradeNotAllowed
		}

		days := paidActivationDays
		if key.Plan == plans.FreeTrial {
			days = trialActivationDays
		}
		due := now.AddDate(0, 0, days)

		if err := deactivateKeys(tx, userID); err != nil {
			return err
		}

		key.UserID = &userID
		key.StartDate = &now
		key.DueDate = &due
		key.Status = models.KeyStatusActive
		return tx.Model(&key).Updates(map[string]interface{}{
			"user_id":    userID,
			"start_date": now,
			"due_date":   due,
			"status":     models.KeyStatusActive,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	return &dto.ActivateResponse{
		Success:   true,
		StartDate: *key.StartDate,
		DueDate:   *key.DueDate,
		Plan:      key.Plan,
	}, nil
}

// PurchasePlan only validates that the user may start a checkout for plan. The key
// itself is created by FulfillPurchase once the gateway approves the payment.
func (s *SubscriptionService) PurchasePlan(ctx context.Context, userID uuid.UUID, plan plans.Plan, duration plans.Duration) (*dto.PurchaseResponse, error) {
	if _, err := s.catalog.Price(plan, duration); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	current, err := activeKey(db, userID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.DueDate != nil && current.DueDate.Sub(s.now()) > renewalEpsilon {
		return nil, apperrors.ErrActiveSubscriptionExists
	}

	if plan == plans.Basico {
		weight, err := s.historicalWeight(db, userID)
		if err != nil {
			return nil, err
		}
		if weight > s.catalog.Weight(plans.Basico) {
			return nil, apperrors.ErrDowngradeToBasicoForbidden
		}
	}

	return &dto.PurchaseResponse{Success: true, Status: dto.StatusPendingPayment}, nil
}

// GenerateKey creates an unbound active key for manual distribution.
func (s *SubscriptionService) GenerateKey(ctx context.Context, plan plans.Plan, price int64) (*models.SubscriptionKey, error) {
	if _, ok := s.catalog.Lookup(plan); !ok {
		return nil, apperrors.ErrInvalidPlan
	}

	key := models.SubscriptionKey{
		ID:             uuid.New(),
		Plan:           plan,
		Price:          price,
		DurationMonths: 1,
		Status:         models.KeyStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(&key).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription key: %w", err)
	}
	return &key, nil
}

// StartTrial binds a trial key to a user who never held one. Users with any key
// history get nothing. Runs on the caller's transaction.
func (s *SubscriptionService) StartTrial(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.SubscriptionKey, error) {
	tx = tx.WithContext(ctx)
	if err := lockUser(tx, userID); err != nil {
		return nil, err
	}

	var count int64
	if err := tx.Model(&models.SubscriptionKey{}).Scopes(tenant.ForOwner(userID)).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscription keys: %w", err)
	}
	if count > 0 {
		return nil, nil
	}

	start := s.now()
	due := start.AddDate(0, 0, trialActivationDays)
	key := models.SubscriptionKey{
		ID:        uuid.New(),
		UserID:    &userID,
		Plan:      plans.FreeTrial,
		StartDate: &start,
		DueDate:   &due,
		Status:    models.KeyStatusActive,
	}
	if err := tx.Create(&key).Error; err != nil {
		return nil, fmt.Errorf("failed to create trial key: %w", err)
	}
	return &key, nil
}

// ActiveKey returns the user's current active key, nil when there is none.
func (s *SubscriptionService) ActiveKey(ctx context.Context, userID uuid.UUID) (*models.SubscriptionKey, error) {
	return activeKey(s.db.WithContext(ctx), userID)
}

// historicalWeight is the highest plan weight the user ever held, -1 with no history.
func (s *SubscriptionService) historicalWeight(db *gorm.DB, userID uuid.UUID) (int, error) {
	var held []plans.Plan
	if err := db.Model(&models.SubscriptionKey{}).
		Scopes(tenant.ForOwner(userID)).
		Distinct("plan").
		Pluck("plan", &held).Error; err != nil {
		return 0, fmt.Errorf("failed to load plan history: %w", err)
	}

	weight := -1
	for _, p := range held {
		if w := s.catalog.Weight(p); w > weight {
			weight = w
		}
	}
	return weight, nil
}

func activeKey(db *gorm.DB, userID uuid.UUID) (*models.SubscriptionKey, error) {
	var key models.SubscriptionKey
	err := db.Scopes(tenant.ForOwner(userID)).
		Where("status = ?", models.KeyStatusActive).
		Order("due_date DESC").
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active subscription key: %w", err)
	}
	return &key, nil
}

// lockUser serializes key binding per user.
func lockUser(tx *gorm.DB, userID uuid.UUID) error {
	var user models.User
	err := tx.Clauses(forUpdate).Select("id").First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	return nil
}

func deactivateKeys(tx *gorm.DB, userID uuid.UUID) error {
	err := tx.Model(&models.SubscriptionKey{}).
		Scopes(tenant.ForOwner(userID)).
		Where("status = ?", models.KeyStatusActive).
		Update("status", models.KeyStatusExpired).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription keys: %w", err)
	}
	return nil
}
