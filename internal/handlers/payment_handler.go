package handlers

import (
	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/fleetmaster/fleetmaster-hub/internal/services"
	"github.com/fleetmaster/fleetmaster-hub/internal/tenant"
	"github.com/gofiber/fiber/v2"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

func (h *PaymentHandler) Initialize(c *fiber.Ctx) error {
	userID, err := tenant.GetUserID(c)
	if err != nil {
		return respondError(c, apperrors.ErrInvalidToken)
	}

	var req dto.CheckoutRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	plan, err := plans.ParsePurchasablePlan(req.Plan)
	if err != nil {
		return respondError(c, err)
	}
	duration, err := plans.ParseDuration(req.Duration)
	if err != nil {
		return respondError(c, err)
	}

	resp, err := h.paymentService.InitializeCheckout(c.UserContext(), userID, plan, duration)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *PaymentHandler) Verify(c *fiber.Ctx) error {
	userID, err := tenant.GetUserID(c)
	if err != nil {
		return respondError(c, apperrors.ErrInvalidToken)
	}

	resp, err := h.paymentService.VerifyByGatewayID(c.UserContext(), userID, c.Params("gatewayId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}
