package routes

import (
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/config"
	"github.com/fleetmaster/fleetmaster-hub/internal/handlers"
	"github.com/fleetmaster/fleetmaster-hub/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"gorm.io/gorm"
)

type Handlers struct {
	Auth         *handlers.AuthHandler
	Health       *handlers.HealthHandler
	Webhook      *handlers.WebhookHandler
	Payment      *handlers.PaymentHandler
	Subscription *handlers.SubscriptionHandler
	Fleet        *handlers.FleetHandler
}

func Setup(
	app *fiber.App,
	cfg *config.Config,
	db *gorm.DB,
	h Handlers,
	resolver middleware.EntitlementResolver,
) {
	api := app.Group("/api")

	// Registered ahead of the limiter: gateway retries and probes must never get 429.
	api.Get("/health", h.Health.Check)
	api.Post("/payments/webhook", h.Webhook.HandleWompi)

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/register", h.Auth.Register)
	auth.Post("/confirm", h.Auth.Confirm)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)
	auth.Post("/logout", middleware.JWTProtected(cfg), h.Auth.Logout)

	payments := api.Group("/payments", middleware.JWTProtected(cfg))
	payments.Post("/initialize", h.Payment.Initialize)
	payments.Get("/verify/:gatewayId", h.Payment.Verify)

	subs := api.Group("/subscriptions", middleware.JWTProtected(cfg))
	subs.Post("/activate", h.Subscription.Activate)
	subs.Post("/purchase", h.Subscription.Purchase)
	subs.Get("/status", middleware.Entitlement(resolver), h.Subscription.Status)

	// Fleet features are gated on the tenant's entitlement.
	fleet := api.Group("/fleet",
		middleware.JWTProtected(cfg),
		middleware.Entitlement(resolver),
		middleware.RequireAccess(),
	)
	fleet.Get("/limits", h.Fleet.Limits)

	admin := api.Group("/admin", middleware.AdminTokenOrJWT(cfg), middleware.AdminRequired(db, cfg))
	admin.Post("/subscriptions/generate", h.Subscription.GenerateKey)
}
