package tenant

import (
	"errors"

	"github.com/fleetmaster/fleetmaster-hub/internal/entitlement"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const entitlementKey = "entitlement"

// GetUserID extracts the user UUID from JWT claims in context.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return uuid.Nil, errors.New("invalid token in context")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, errors.New("invalid claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, errors.New("missing sub claim")
	}

	return uuid.Parse(sub)
}

func SetEntitlement(c *fiber.Ctx, d *entitlement.Decision) {
	c.Locals(entitlementKey, d)
}

// GetEntitlement returns the decision resolved earlier in the request, nil if none.
func GetEntitlement(c *fiber.Ctx) *entitlement.Decision {
	d, _ := c.Locals(entitlementKey).(*entitlement.Decision)
	return d
}
