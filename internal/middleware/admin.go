package middleware

import (
	"crypto/subtle"
	"slices"

	"github.com/fleetmaster/fleetmaster-hub/internal/config"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/fleetmaster/fleetmaster-hub/internal/tenant"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	adminTokenHeader = "X-Admin-Token"
	adminTokenLocal  = "admin_token"
)

// AdminTokenOrJWT accepts the operator token from X-Admin-Token and falls back to
// JWT authentication otherwise.
func AdminTokenOrJWT(cfg *config.Config) fiber.Handler {
	jwtHandler := JWTProtected(cfg)

	return func(c *fiber.Ctx) error {
		if cfg.AdminToken != "" &&
			subtle.ConstantTimeCompare([]byte(c.Get(adminTokenHeader)), []byte(cfg.AdminToken)) == 1 {
			c.Locals(adminTokenLocal, true)
			return c.Next()
		}
		return jwtHandler(c)
	}
}

// AdminRequired lets a request through when it carried the operator token, or when
// the JWT subject is a confirmed user who holds the admin role or whose stored
// email is listed in ADMIN_EMAILS.
func AdminRequired(db *gorm.DB, cfg *config.Config) fiber.Handler {
	adminEmails := cfg.AdminEmailList()

	return func(c *fiber.Ctx) error {
		if ok, _ := c.Locals(adminTokenLocal).(bool); ok {
			return c.Next()
		}

		userID, err := tenant.GetUserID(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "Unauthorized"})
		}

		var user models.User
		err = db.WithContext(c.UserContext()).
			Select("id", "email", "role", "confirmed").
			First(&user, "id = ?", userID).Error
		if err == nil && user.Confirmed &&
			(user.Role == models.RoleAdmin || slices.Contains(adminEmails, user.Email)) {
			return c.Next()
		}

		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "Admin access required"})
	}
}
