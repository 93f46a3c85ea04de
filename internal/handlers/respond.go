package handlers

import (
	"log/slog"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/gofiber/fiber/v2"
)

// respondError writes err as {"error": message}. 5xx details are logged, never returned.
func respondError(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"trace_id", requestID(c),
			"error", err,
		)
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: apperrors.PublicMessage(err)})
}

// parseBody decodes the JSON body into req and runs its validate tags.
func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.ErrMissingFields.WithMessage("Invalid request body")
	}
	return dto.Validate(req)
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}
