package dto

// CheckoutRequest shares the shape of PurchaseRequest; the same pre-checks run.
type CheckoutRequest = PurchaseRequest

// CheckoutResponse carries what the gateway's client-side widget needs.
type CheckoutResponse struct {
	PublicKey     string `json:"publicKey"`
	Currency      string `json:"currency"`
	AmountInCents int64  `json:"amountInCents"`
	Reference     string `json:"reference"`
	Signature     string `json:"signature"`
	RedirectURL   string `json:"redirectUrl"`
}

type VerifyResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
}
