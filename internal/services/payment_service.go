package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
	"github.com/fleetmaster/fleetmaster-hub/internal/email"
	"github.com/fleetmaster/fleetmaster-hub/internal/models"
	"github.com/fleetmaster/fleetmaster-hub/internal/plans"
	"github.com/fleetmaster/fleetmaster-hub/internal/tenant"
	"github.com/fleetmaster/fleetmaster-hub/internal/wompi"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const referencePrefix = "FMP-"

// PurchaseFulfiller grants the plan bought by an approved payment on the given transaction handle.
type PurchaseFulfiller interface {
	FulfillPurchase(ctx context.Context, tx *gorm.DB, userID uuid.UUID, plan plans.Plan, duration plans.Duration, reference string) (*models.SubscriptionKey, error)
}

// PurchaseChecker runs the pre-checks a checkout must pass.
type PurchaseChecker interface {
	PurchasePlan(ctx context.Context, userID uuid.UUID, plan plans.Plan, duration plans.Duration) (*dto.PurchaseResponse, error)
}

// WebhookOutcome describes what a verified webhook delivery did. Every outcome is acknowledged with 200.
type WebhookOutcome string

const (
	OutcomeIgnored          WebhookOutcome = "ignored"
	OutcomeUnknownReference WebhookOutcome = "unknown_reference"
	OutcomeAlreadyApproved  WebhookOutcome = "already_approved"
	OutcomeUpdated          WebhookOutcome = "updated"
)

type PaymentConfig struct {
	RedirectURL string
	OpsEmail    string
	FrontendURL string
}

type PaymentService struct {
	db        *gorm.DB
	catalog   *plans.Catalog
	gateway   *wompi.Client
	fulfiller PurchaseFulfiller
	checker   PurchaseChecker
	notifier  *email.Notifier
	cfg       PaymentConfig
}

func NewPaymentService(db *gorm.DB, catalog *plans.Catalog, gateway *wompi.Client, fulfiller PurchaseFulfiller, checker PurchaseChecker, notifier *email.Notifier, cfg PaymentConfig) *PaymentService {
	return &PaymentService{
		db:        db,
		catalog:   catalog,
		gateway:   gateway,
		fulfiller: fulfiller,
		checker:   checker,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// InitializeCheckout records a PENDING transaction under a fresh reference and
// returns the signed parameters for the gateway widget.
func (s *PaymentService) InitializeCheckout(ctx context.Context, userID uuid.UUID, plan plans.Plan, duration plans.Duration) (*dto.CheckoutResponse, error) {
	if plan == plans.FreeTrial {
		return nil, apperrors.ErrInvalidPlan.WithMessage("the trial plan cannot be purchased")
	}
	if _, err := s.checker.PurchasePlan(ctx, userID, plan, duration); err != nil {
		return nil, err
	}

	amount, err := s.catalog.Price(plan, duration)
	if err != nil {
		return nil, err
	}

	txn := models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Reference: NewReference(),
		Amount:    amount,
		Currency:  plans.Currency,
		Plan:      plan,
		Duration:  duration,
		Status:    models.TransactionPending,
	}
	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("checkout initialized",
		"action", "checkout_initialize",
		"user_id", userID.String(),
		"reference", txn.Reference,
		"amount", amount,
	)

	return &dto.CheckoutResponse{
		PublicKey:     s.gateway.PublicKey(),
		Currency:      txn.Currency,
		AmountInCents: txn.AmountInCents(),
		Reference:     txn.Reference,
		Signature:     s.gateway.IntegritySignature(txn.Reference, txn.AmountInCents(), txn.Currency),
		RedirectURL:   s.cfg.RedirectURL,
	}, nil
}

// VerifyByGatewayID returns the status of the caller's transaction bound to the gateway id.
func (s *PaymentService) VerifyByGatewayID(ctx context.Context, userID uuid.UUID, gatewayID string) (*dto.VerifyResponse, error) {
	var txn models.Transaction
	err := s.db.WithContext(ctx).
		Scopes(tenant.ForOwner(userID)).
		Where("wompi_id = ?", gatewayID).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &dto.VerifyResponse{Status: txn.Status, Reference: txn.Reference}, nil
}

type notification struct {
	txn       models.Transaction
	payer     models.User
	gatewayID string
}

// ProcessWebhook verifies and applies one gateway event. Steps after the signature
// check run in a single database transaction holding a row lock on the reference,
// so concurrent deliveries for the same payment are serialized. Notifications are
// sent only after commit.
func (s *PaymentService) ProcessWebhook(ctx context.Context, body []byte, checksum string) (WebhookOutcome, error) {
	event, err := wompi.ParseEvent(body)
	if err != nil {
		return "", apperrors.ErrInvalidSignature.Wrap(err)
	}
	if err := s.gateway.VerifyEvent(event, checksum); err != nil {
		return "", err
	}

	if event.Event != wompi.EventTransactionUpdated {
		return OutcomeIgnored, nil
	}
	gtx, err := wompi.Transaction(event)
	if err != nil {
		return "", err
	}
	if gtx == nil || gtx.Reference == "" {
		return OutcomeIgnored, nil
	}

	outcome, note, err := s.reconcile(ctx, gtx, body)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindSecurity {
			slog.Error("webhook rejected",
				"action", "webhook_reconcile",
				"reference", gtx.Reference,
				"wompi_id", gtx.ID,
				"error", err,
			)
		}
		return "", err
	}

	if note != nil {
		s.notify(ctx, note)
	}
	return outcome, nil
}

func (s *PaymentService) reconcile(ctx context.Context, gtx *dto.WompiTransaction, body []byte) (WebhookOutcome, *notification, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return "", nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var txn models.Transaction
	err := tx.Clauses(forUpdate).Where("reference = ?", gtx.Reference).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Warn("webhook for unknown reference", "reference", gtx.Reference)
		return OutcomeUnknownReference, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to lock transaction: %w", err)
	}

	if gtx.AmountInCents != txn.AmountInCents() || gtx.Currency != plans.Currency {
		return "", nil, apperrors.ErrAmountMismatch.WithMessage(fmt.Sprintf(
			"expected %d %s, got %d %s", txn.AmountInCents(), plans.Currency, gtx.AmountInCents, gtx.Currency))
	}

	if txn.Status == models.TransactionApproved {
		return OutcomeAlreadyApproved, nil, nil
	}

	if gtx.ID != "" {
		var bound int64
		if err := tx.Model(&models.Transaction{}).
			Where("wompi_id = ? AND reference <> ?", gtx.ID, txn.Reference).
			Count(&bound).Error; err != nil {
			return "", nil, fmt.Errorf("failed to check gateway id: %w", err)
		}
		if bound > 0 {
			return "", nil, apperrors.ErrReplayDetected
		}
	}

	previous := txn.Status
	status := mapGatewayStatus(gtx.Status, previous)
	updates := map[string]interface{}{
		"status":          status,
		"gateway_payload": datatypes.JSON(body),
	}
	if gtx.ID != "" {
		updates["wompi_id"] = gtx.ID
	}
	if gtx.PaymentMethodType != "" {
		updates["payment_method"] = gtx.PaymentMethodType
	}
	if err := tx.Model(&txn).Updates(updates).Error; err != nil {
		return "", nil, fmt.Errorf("failed to update transaction: %w", err)
	}
	txn.Status = status

	if status == models.TransactionApproved {
		if _, err := s.fulfiller.FulfillPurchase(ctx, tx, txn.UserID, txn.Plan, txn.Duration, txn.Reference); err != nil {
			return "", nil, apperrors.ErrFulfillmentFailed.Wrap(err)
		}
	}

	// Gateway retries of the same outcome do not email again.
	var note *notification
	if !strings.EqualFold(gtx.Status, wompi.StatusPending) && status != previous {
		note = &notification{txn: txn, gatewayID: gtx.ID}
		if err := tx.Select("id", "email", "name").First(&note.payer, "id = ?", txn.UserID).Error; err != nil {
			note.payer.Email = gtx.CustomerEmail
		}
		if note.payer.Email == "" {
			note.payer.Email = gtx.CustomerEmail
		}
		note.txn.PaymentMethod = &gtx.PaymentMethodType
	}

	if err := tx.Commit().Error; err != nil {
		return "", nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	slog.Info("webhook applied",
		"action", "webhook_reconcile",
		"reference", txn.Reference,
		"user_id", txn.UserID.String(),
		"status", status,
	)
	return OutcomeUpdated, note, nil
}

// notify sends the post-commit emails. Failures are logged, never returned.
func (s *PaymentService) notify(ctx context.Context, n *notification) {
	data := email.TemplateData{
		Name:      n.payer.Name,
		Email:     n.payer.Email,
		Reference: n.txn.Reference,
		Plan:      string(n.txn.Plan),
		Duration:  string(n.txn.Duration),
		Amount:    n.txn.Amount,
		Currency:  n.txn.Currency,
		GatewayID: n.gatewayID,
		Status:    n.txn.Status,
		Link:      s.cfg.FrontendURL + "/subscription",
	}
	if n.txn.PaymentMethod != nil {
		data.PaymentMethod = *n.txn.PaymentMethod
	}

	var err error
	switch n.txn.Status {
	case models.TransactionApproved:
		err = s.notifier.PaymentApproved(ctx, s.cfg.OpsEmail, data)
	case models.TransactionDeclined, models.TransactionError:
		err = s.notifier.PaymentFailed(ctx, n.payer.Email, data)
	}
	if err != nil {
		slog.Error("payment notification failed",
			"action", "webhook_notify",
			"reference", n.txn.Reference,
			"user_id", n.txn.UserID.String(),
			"error", err,
		)
	}
}

// mapGatewayStatus maps a Wompi status onto the ledger. PENDING keeps the current status.
func mapGatewayStatus(gateway, current string) string {
	switch strings.ToUpper(gateway) {
	case wompi.StatusApproved:
		return models.TransactionApproved
	case wompi.StatusDeclined:
		return models.TransactionDeclined
	case wompi.StatusPending:
		return current
	default:
		return models.TransactionError
	}
}

// NewReference mints a checkout reference such as FMP-3F2A9C1B.
func NewReference() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return referencePrefix + strings.ToUpper(raw[:8])
}
