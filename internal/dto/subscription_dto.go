package dto

import (
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
)

const StatusPendingPayment = "PENDING_PAYMENT"

type ActivateRequest struct {
	Key string `json:"key" validate:"required"`
}

type ActivateResponse struct {
	Success   bool       `json:"success"`
	StartDate time.Time  `json:"startDate"`
	DueDate   time.Time  `json:"dueDate"`
	Plan      plans.Plan `json:"plan"`
}

type PurchaseRequest struct {
	Plan     string `json:"plan" validate:"required"`
	Duration string `json:"duration" validate:"required"`
}

type PurchaseResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

type GenerateKeyRequest struct {
	Plan  string `json:"plan" validate:"required"`
	Price *int64 `json:"price" validate:"required,gte=0"`
}

type LimitsResponse struct {
	Plan   plans.Plan   `json:"plan"`
	Limits plans.Limits `json:"limits"`
	From   time.Time    `json:"from"`
	To     time.Time    `json:"to"`
}
