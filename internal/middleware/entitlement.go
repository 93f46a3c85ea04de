package middleware

import (
	"context"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/fleetmaster/fleetmaster-hub/internal/entitlement"
	"github.com/fleetmaster/fleetmaster-hub/internal/tenant"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type EntitlementResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*entitlement.Decision, error)
}

// Entitlement resolves the caller's access level and stores it on the request.
// Must run after JWTProtected.
func Entitlement(resolver EntitlementResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := tenant.GetUserID(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "Unauthorized"})
		}

		d, err := resolver.Resolve(c.UserContext(), userID)
		if err != nil {
			return c.Status(apperrors.HTTPStatus(err)).JSON(dto.ErrorResponse{Error: apperrors.PublicMessage(err)})
		}

		tenant.SetEntitlement(c, d)
		return c.Next()
	}
}

// RequireAccess rejects blocked tenants with 403 and the block reason.
func RequireAccess() fiber.Handler {
	return func(c *fiber.Ctx) error {
		d := tenant.GetEntitlement(c)
		if d == nil || !d.HasAccess() {
			reason := entitlement.ReasonNoSubscription
			if d != nil {
				reason = d.Reason
			}
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error:  "Subscription required",
				Reason: string(reason),
			})
		}
		return c.Next()
	}
}
