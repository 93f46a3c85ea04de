package entitlement

import (
	"math"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
)

type Access string

const (
	Full    Access = "FULL"
	Limited Access = "LIMITED"
	Blocked Access = "BLOCKED"
)

type Reason string

const (
	ReasonUnconfirmed    Reason = "ACCOUNT_UNCONFIRMED"
	ReasonNoSubscription Reason = "NO_SUBSCRIPTION"
	ReasonExpired        Reason = "SUBSCRIPTION_EXPIRED"
	ReasonTrial          Reason = "TRIAL_ACTIVE"
	ReasonActive         Reason = "SUBSCRIPTION_ACTIVE"
)

// Decision is recomputed on every request and never stored.
type Decision struct {
	Access        Access       `json:"access"`
	Reason        Reason       `json:"reason"`
	Plan          plans.Plan   `json:"plan,omitempty"`
	DaysRemaining int          `json:"days_remaining"`
	DueDate       *time.Time   `json:"due_date,omitempty"`
	Limits        plans.Limits `json:"limits"`
}

func (d *Decision) HasAccess() bool {
	return d.Access != Blocked
}

// Classify derives the access level from the confirmation state and the user's
// most recent active key, which may be nil.
func Classify(confirmed bool, key *models.SubscriptionKey, now time.Time, catalog *plans.Catalog) *Decision {
	d := &Decision{Access: Blocked}
	if key != nil {
		d.Plan = key.Plan
		d.DueDate = key.DueDate
		d.Limits = catalog.Limits(key.Plan)
	}

	switch {
	case !confirmed:
		d.Reason = ReasonUnconfirmed
	case key == nil || key.DueDate == nil:
		d.Reason = ReasonNoSubscription
	case key.IsExpiredAt(now):
		d.Reason = ReasonExpired
	case key.Plan == plans.FreeTrial:
		d.Access = Limited
		d.Reason = ReasonTrial
	default:
		d.Access = Full
		d.Reason = ReasonActive
	}

	if d.Access != Blocked {
		d.DaysRemaining = daysUntil(*key.DueDate, now)
	}
	return d
}

func daysUntil(due, now time.Time) int {
	days := math.Ceil(due.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return int(days)
}
