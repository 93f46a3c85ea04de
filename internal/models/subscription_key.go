package models

import (
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/google/uuid"
)

const (
	KeyStatusActive  = "active"
	KeyStatusExpired = "expired"
)

// SubscriptionKey grants a plan for a time window. Unbound keys (nil UserID) are
// generated by admins for redemption; keys are expired, never deleted.
type SubscriptionKey struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Plan                 plans.Plan `gorm:"size:20;not null" json:"plan"`
	Price                int64      `gorm:"not null;default:0" json:"price"`
	DurationMonths       int        `gorm:"not null;default:1" json:"duration_months"`
	StartDate            *time.Time `json:"start_date"`
	DueDate              *time.Time `gorm:"index" json:"due_date"`
	Status               string     `gorm:"size:20;not null;default:'active';index" json:"status"`
	TransactionReference *string    `gorm:"size:32;index" json:"transaction_reference,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (k *SubscriptionKey) IsExpiredAt(now time.Time) bool {
	return k.DueDate != nil && !k.DueDate.After(now)
}
