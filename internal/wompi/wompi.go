package wompi

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
	"github.com/fleetmaster/fleetmaster-hub/internal/dto"
)

const (
	EventTransactionUpdated = "transaction.updated"

	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
	StatusVoided   = "VOIDED"
	StatusError    = "ERROR"
	StatusPending  = "PENDING"
)

// Client signs checkout requests and verifies event checksums. It never calls the network.
type Client struct {
	publicKey       string
	integritySecret string
	eventsSecret    string
}

func NewClient(publicKey, integritySecret, eventsSecret string) *Client {
	return &Client{
		publicKey:       publicKey,
		integritySecret: integritySecret,
		eventsSecret:    eventsSecret,
	}
}

func (c *Client) PublicKey() string {
	return c.publicKey
}

// IntegritySignature is the checkout widget's signature:integrity value,
// SHA-256 over reference + amount in cents + currency + integrity secret.
func (c *Client) IntegritySignature(reference string, amountInCents int64, currency string) string {
	plain := reference + strconv.FormatInt(amountInCents, 10) + currency + c.integritySecret
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// ParseEvent decodes a raw event body.
func ParseEvent(body []byte) (*dto.WompiEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var event dto.WompiEvent
	if err := dec.Decode(&event); err != nil {
		return nil, fmt.Errorf("decode wompi event: %w", err)
	}
	return &event, nil
}

// Transaction extracts data.transaction, nil when the event carries none.
func Transaction(event *dto.WompiEvent) (*dto.WompiTransaction, error) {
	if len(event.Data) == 0 {
		return nil, nil
	}
	var data dto.WompiEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("decode wompi event data: %w", err)
	}
	return data.Transaction, nil
}

// VerifyEvent checks checksum against SHA-256 over the values named in signature.properties,
// then the event timestamp, then the events secret. An empty checksum falls back to the one in the body.
func (c *Client) VerifyEvent(event *dto.WompiEvent, checksum string) error {
	if checksum == "" {
		checksum = event.Signature.Checksum
	}
	if checksum == "" || c.eventsSecret == "" || len(event.Signature.Properties) == 0 {
		return apperrors.ErrInvalidSignature
	}

	expected, err := c.EventChecksum(event)
	if err != nil {
		return apperrors.ErrInvalidSignature.Wrap(err)
	}

	got := strings.ToLower(strings.TrimSpace(checksum))
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return apperrors.ErrInvalidSignature
	}
	return nil
}

// EventChecksum computes the lowercase hex checksum Wompi would send for event.
func (c *Client) EventChecksum(event *dto.WompiEvent) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(event.Data))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return "", fmt.Errorf("decode event data: %w", err)
	}

	var b strings.Builder
	for _, prop := range event.Signature.Properties {
		val, ok := lookup(data, prop)
		if !ok {
			return "", fmt.Errorf("signature property %q not present in event data", prop)
		}
		b.WriteString(val)
	}
	b.WriteString(event.Timestamp.String())
	b.WriteString(c.eventsSecret)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

func lookup(data map[string]any, path string) (string, bool) {
	var cur any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[key]
		if !ok {
			return "", false
		}
	}

	switch v := cur.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case nil:
		return "", true
	default:
		return "", false
	}
}
