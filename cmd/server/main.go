package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/joho/godotenv"

	"github.com/fleetmaster/fleetmaster-hub/internal/config"
	"github.com/fleetmaster/fleetmaster-hub/internal/database"
	"github.com/fleetmaster/fleetmaster-hub/internal/email"
	"github.com/fleetmaster/fleetmaster-hub/internal/handlers"
	"github.com/fleetmaster/fleetmaster-hub/internal/logging"
	"github.com/fleetmaster/fleetmaster-hub/internal/middleware"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/fleetmaster/fleetmaster-hub/internal/routes"
	"github.com/fleetmaster/fleetmaster-hub/internal/scheduler"
	"github.com/fleetmaster/fleetmaster-hub/internal/services"
	"github.com/fleetmaster/fleetmaster-hub/internal/wompi"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBDriver != "sqlite" && cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}
	if cfg.WompiIntegritySecret == "" || cfg.WompiEventsSecret == "" {
		slog.Error("WOMPI_INTEGRITY_SECRET and WOMPI_EVENTS_SECRET are required")
		os.Exit(1)
	}

	// Plan catalog
	catalog := plans.NewCatalog()
	if cfg.PlansConfigPath != "" {
		loaded, err := plans.LoadFromFile(cfg.PlansConfigPath)
		if err != nil {
			slog.Error("failed to load plan catalog", "path", cfg.PlansConfigPath, "error", err)
			os.Exit(1)
		}
		catalog = loaded
	}
	slog.Info("plan catalog loaded", "plans", len(catalog.All()))

	// Database
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// Database log sink (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(db, 5*time.Second)
	logging.Setup(pgLogHandler)

	// Email
	sender, err := newEmailSender(cfg)
	if err != nil {
		slog.Error("email sender setup failed", "provider", cfg.EmailProvider, "error", err)
		os.Exit(1)
	}
	notifier, err := email.NewNotifier(sender)
	if err != nil {
		slog.Error("email templates failed to parse", "error", err)
		os.Exit(1)
	}

	// Services
	gateway := wompi.NewClient(cfg.WompiPublicKey, cfg.WompiIntegritySecret, cfg.WompiEventsSecret)
	subscriptionService := services.NewSubscriptionService(db, catalog)
	entitlementService := services.NewEntitlementService(db, catalog)
	authService := services.NewAuthService(db, cfg, subscriptionService, notifier)
	paymentService := services.NewPaymentService(db, catalog, gateway, subscriptionService, subscriptionService, notifier, services.PaymentConfig{
		RedirectURL: cfg.WompiRedirectURL,
		OpsEmail:    cfg.OpsEmail,
		FrontendURL: cfg.FrontendURL,
	})
	expirationService := services.NewExpirationService(db, notifier, cfg.ExpirationNoticeDays, cfg.FrontendURL)

	// Scheduled jobs
	jobs := scheduler.New(db, expirationService, scheduler.Config{
		ExpirationSchedule: cfg.ExpirationSweepSchedule,
		LogRetentionDays:   cfg.LogRetentionDays,
	}, slog.Default())
	if err := jobs.Start(); err != nil {
		slog.Error("scheduler failed to start", "error", err)
		os.Exit(1)
	}

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, db, routes.Handlers{
		Auth:         handlers.NewAuthHandler(authService),
		Health:       handlers.NewHealthHandler(db),
		Webhook:      handlers.NewWebhookHandler(paymentService),
		Payment:      handlers.NewPaymentHandler(paymentService),
		Subscription: handlers.NewSubscriptionHandler(subscriptionService, entitlementService),
		Fleet:        handlers.NewFleetHandler(),
	}, entitlementService)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.AppEnv)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	<-jobs.Stop().Done()
	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	// Close database connections
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

// newEmailSender picks the delivery backend named by EMAIL_PROVIDER.
func newEmailSender(cfg *config.Config) (email.Sender, error) {
	switch cfg.EmailProvider {
	case "smtp":
		return email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
		})
	case "postmark":
		return email.NewPostmarkSender(email.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			From:         cfg.EmailFrom,
		})
	case "log", "":
		if cfg.IsProduction() {
			slog.Warn("log email provider in production, emails will not be delivered")
		}
		return email.NewLogSender(), nil
	default:
		return nil, errors.New("unknown email provider: " + cfg.EmailProvider)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{"error": message})
}
