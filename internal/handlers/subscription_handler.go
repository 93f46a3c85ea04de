package handlers

import (
	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/fleetmaster/fleetmaster-hub/internal/services"
	"github.com/fleetmaster/fleetmaster-hub/internal/tenant"
	"github.com/gofiber/fiber/v2"
)

type SubscriptionHandler struct {
	subscriptionService *services.SubscriptionService
	entitlementService  *services.EntitlementService
}

func NewSubscriptionHandler(subscriptionService *services.SubscriptionService, entitlementService *services.EntitlementService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		entitlementService:  entitlementService,
	}
}

func (h *SubscriptionHandler) Activate(c *fiber.Ctx) error {
	userID, err := tenant.GetUserID(c)
	if err != nil {
		return respondError(c, apperrors.ErrInvalidToken)
	}

	var req dto.ActivateRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	resp, err := h.subscriptionService.Activate(c.UserContext(), userID, req.Key)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func (h *SubscriptionHandler) Purchase(c *fiber.Ctx) error {
	userID, err := tenant.GetUserID(c)
	if err != nil {
		return respondError(c, apperrors.ErrInvalidToken)
	}

	var req dto.PurchaseRequest
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

	resp, err := h.subscriptionService.PurchasePlan(c.UserContext(), userID, plan, duration)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// Status reports the caller's entitlement. It is not gated so blocked tenants can see why.
func (h *SubscriptionHandler) Status(c *fiber.Ctx) error {
	if d := tenant.GetEntitlement(c); d != nil {
		return c.JSON(d)
	}

	userID, err := tenant.GetUserID(c)
	if err != nil {
		return respondError(c, apperrors.ErrInvalidToken)
	}
	d, err := h.entitlementService.Resolve(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(d)
}

func (h *SubscriptionHandler) GenerateKey(c *fiber.Ctx) error {
	var req dto.GenerateKeyRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	plan, err := plans.ParsePlan(req.Plan)
	if err != nil {
		return respondError(c, err)
	}

	key, err := h.subscriptionService.GenerateKey(c.UserContext(), plan, *req.Price)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(key)
}
