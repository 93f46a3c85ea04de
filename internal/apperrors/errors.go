package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can switch on it instead of matching messages.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPolicy
	KindSecurity
	KindNotFound
	KindDownstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy"
	case KindSecurity:
		return "security"
	case KindNotFound:
		return "not_found"
	case KindDownstream:
		return "downstream"
	default:
		return "internal"
	}
}

// Error is the application error type. Two errors are equal under errors.Is when their codes match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithMessage returns a copy of e with a more specific message and the same code.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

func New(kind Kind, code, message string, status int) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Status: status}
}

// Validation
var (
	ErrInvalidPlan     = New(KindValidation, "INVALID_PLAN", "invalid plan", http.StatusBadRequest)
	ErrInvalidDuration = New(KindValidation, "INVALID_DURATION", "invalid duration", http.StatusBadRequest)
	ErrMissingFields   = New(KindValidation, "MISSING_FIELDS", "missing required fields", http.StatusBadRequest)
	ErrEmailTaken      = New(KindValidation, "EMAIL_TAKEN", "email already registered", http.StatusConflict)
)

// Policy
var (
	ErrInvalidKey                 = New(KindPolicy, "INVALID_KEY", "invalid or inactive subscription key", http.StatusBadRequest)
	ErrDowngradeNotAllowed        = New(KindPolicy, "DOWNGRADE_NOT_ALLOWED", "cannot activate a lower plan while a higher plan is active", http.StatusBadRequest)
	ErrActiveSubscriptionExists   = New(KindPolicy, "ACTIVE_SUBSCRIPTION_EXISTS", "you already have an active subscription", http.StatusBadRequest)
	ErrDowngradeToBasicoForbidden = New(KindPolicy, "DOWNGRADE_TO_BASICO_FORBIDDEN", "the basico plan is not available after holding a higher plan", http.StatusBadRequest)
)

// Security. Signature failures stop with 401; amount and replay failures surface as 500 so the gateway retries.
var (
	ErrInvalidSignature = New(KindSecurity, "INVALID_SIGNATURE", "invalid event signature", http.StatusUnauthorized)
	ErrAmountMismatch   = New(KindSecurity, "AMOUNT_MISMATCH", "amount or currency mismatch", http.StatusInternalServerError)
	ErrReplayDetected   = New(KindSecurity, "REPLAY_DETECTED", "gateway transaction already bound to another reference", http.StatusInternalServerError)

	ErrInvalidCredentials = New(KindSecurity, "INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized)
	ErrInvalidToken       = New(KindSecurity, "INVALID_TOKEN", "invalid or expired token", http.StatusUnauthorized)
	ErrForbidden          = New(KindSecurity, "FORBIDDEN", "admin access required", http.StatusForbidden)
)

// Not found
var (
	ErrTransactionNotFound = New(KindNotFound, "TRANSACTION_NOT_FOUND", "transaction not found", http.StatusNotFound)
	ErrUserNotFound        = New(KindNotFound, "USER_NOT_FOUND", "user not found", http.StatusNotFound)
)

// Internal
var (
	ErrFulfillmentFailed = New(KindInternal, "FULFILLMENT_FAILED", "failed to fulfill purchase", http.StatusInternalServerError)
)

// Downstream
var (
	ErrEmailDelivery = New(KindDownstream, "EMAIL_DELIVERY_FAILED", "failed to send email", http.StatusInternalServerError)
)

// KindOf reports the kind of err, KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// PublicMessage returns a message safe to show to API clients. Internal details are never exposed.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Status < http.StatusInternalServerError {
		return e.Message
	}
	return "Internal server error"
}
