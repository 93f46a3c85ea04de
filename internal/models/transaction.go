package models

import (
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TransactionPending  = "PENDING"
	TransactionApproved = "APPROVED"
	TransactionDeclined = "DECLINED"
	TransactionError    = "ERROR"
)

// Transaction is one checkout attempt. Reference is minted locally before the gateway
// is contacted and correlates the attempt with its webhook events.
type Transaction struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Reference      string         `gorm:"size:32;not null;uniqueIndex" json:"reference"`
	Amount         int64          `gorm:"not null" json:"amount"`
	Currency       string         `gorm:"size:3;not null;default:'COP'" json:"currency"`
	Plan           plans.Plan     `gorm:"size:20;not null" json:"plan"`
	Duration       plans.Duration `gorm:"size:20;not null" json:"duration"`
	Status         string         `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	WompiID        *string        `gorm:"size:64;uniqueIndex" json:"wompi_id"`
	PaymentMethod  *string        `gorm:"size:50" json:"payment_method"`
	GatewayPayload datatypes.JSON `gorm:"type:jsonb" json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	User           User           `gorm:"foreignKey:UserID" json:"-"`
}

// AmountInCents is the amount in the minor unit the gateway reports.
func (t *Transaction) AmountInCents() int64 {
	return t.Amount * 100
}
