package dto

import "encoding/json"

// WompiEvent is the envelope Wompi posts to the events URL.
type WompiEvent struct {
	Event       string              `json:"event"`
	Data        json.RawMessage     `json:"data"`
	Environment string              `json:"environment"`
	Signature   WompiEventSignature `json:"signature"`
	Timestamp   json.Number         `json:"timestamp"`
	SentAt      string              `json:"sent_at"`
}

type WompiEventSignature struct {
	Properties []string `json:"properties"`
	Checksum   string   `json:"checksum"`
}

type WompiEventData struct {
	Transaction *WompiTransaction `json:"transaction"`
}

type WompiTransaction struct {
	ID                string `json:"id"`
	CreatedAt         string `json:"created_at"`
	FinalizedAt       string `json:"finalized_at"`
	AmountInCents     int64  `json:"amount_in_cents"`
	Reference         string `json:"reference"`
	CustomerEmail     string `json:"customer_email"`
	Currency          string `json:"currency"`
	PaymentMethodType string `json:"payment_method_type"`
	RedirectURL       string `json:"redirect_url"`
	Status            string `json:"status"`
	StatusMessage     string `json:"status_message"`
}
