package handlers

import (
	"log/slog"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/services"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
)

const checksumHeader = "X-Event-Checksum"

type WebhookHandler struct {
	paymentService *services.PaymentService
}

func NewWebhookHandler(paymentService *services.PaymentService) *WebhookHandler {
	return &WebhookHandler{paymentService: paymentService}
}

// HandleWompi answers with a bare status code: 200 when the event was applied or
// ignored, 401 on a bad signature, 500 when the gateway should retry.
func (h *WebhookHandler) HandleWompi(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	outcome, err := h.paymentService.ProcessWebhook(c.UserContext(), body, c.Get(checksumHeader))
	if err != nil {
		status := apperrors.HTTPStatus(err)
		if apperrors.KindOf(err) == apperrors.KindSecurity {
			if hub := sentryfiber.GetHubFromContext(c); hub != nil {
				hub.CaptureException(err)
			}
		}
		slog.Error("webhook processing failed", "action", "webhook", "status", status, "error", err)
		return c.Status(status).Send(nil)
	}

	slog.Info("webhook processed", "action", "webhook", "outcome", string(outcome))
	return c.Status(fiber.StatusOK).Send(nil)
}
