package handlers

import (
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/fleetmaster/fleetmaster-hub/internal/tenant"
	"github.com/gofiber/fiber/v2"
)

const dateLayout = "2006-01-02"

type FleetHandler struct {
	now func() time.Time
}

func NewFleetHandler() *FleetHandler {
	return &FleetHandler{now: func() time.Time { return time.Now().UTC() }}
}

// Limits returns the caller's plan limits and the history range the plan allows
// for the requested from/to window (dates as YYYY-MM-DD, default last 30 days).
func (h *FleetHandler) Limits(c *fiber.Ctx) error {
	d := tenant.GetEntitlement(c)
	if d == nil {
		return respondError(c, apperrors.ErrInvalidToken)
	}

	now := h.now()
	from := now.AddDate(0, 0, -30)
	to := now
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return respondError(c, apperrors.ErrMissingFields.WithMessage("from must be a YYYY-MM-DD date"))
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return respondError(c, apperrors.ErrMissingFields.WithMessage("to must be a YYYY-MM-DD date"))
		}
		to = t.Add(24*time.Hour - time.Nanosecond)
	}

	from, to = d.Limits.ClampRange(from, to, now)
	return c.JSON(dto.LimitsResponse{
		Plan:   d.Plan,
		Limits: d.Limits,
		From:   from,
		To:     to,
	})
}
