package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const paymentTimeout = 10 * time.Second

// PaymentAuthorization is the processor's response to a new authorization.
type PaymentAuthorization struct {
	ClientSecret    string `json:"client_secret"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// PaymentIntentStatus is the processor's view of an intent.
type PaymentIntentStatus struct {
	Status  string `json:"status"`
	Success bool   `json:"success"`
}

// PaymentProcessor is the slice of the external payment API the escrow
// service needs: authorize, verify, and capture/release. Implementations must be
// safe to retry; ReleaseFunds is keyed by transaction ID on the processor
// side so a retried call cannot double-release.
type PaymentProcessor interface {
	CreateAuthorization(ctx context.Context, amount decimal.Decimal, reference string, productID uuid.UUID) (*PaymentAuthorization, error)
	VerifyIntent(ctx context.Context, intentID string) (*PaymentIntentStatus, error)
	ReleaseFunds(ctx context.Context, transactionID, sellerID uuid.UUID, amount decimal.Decimal) error
}

// HTTPPaymentClient talks to the payment API over HTTP with a hard timeout.
// All failures are wrapped in ErrExternalService so callers can offer a
// retry or the manual-setup fallback.
type HTTPPaymentClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPPaymentClient returns a client for the given payment API base URL.
func NewHTTPPaymentClient(baseURL string) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: paymentTimeout},
	}
}

var _ PaymentProcessor = (*HTTPPaymentClient)(nil)

func (c *HTTPPaymentClient) CreateAuthorization(ctx context.Context, amount decimal.Decimal, reference string, productID uuid.UUID) (*PaymentAuthorization, error) {
	body := map[string]any{
		"amount":     amount,
		"reference":  reference,
		"product_id": productID,
	}
	var out PaymentAuthorization
	if err := c.post(ctx, "/v1/payment-intents", body, &out); err != nil {
		return nil, err
	}
	if out.PaymentIntentID == "" {
		return nil, fmt.Errorf("%w: payment api returned empty intent id", ErrExternalService)
	}
	return &out, nil
}

func (c *HTTPPaymentClient) VerifyIntent(ctx context.Context, intentID string) (*PaymentIntentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/payment-intents/"+intentID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: verify intent: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: verify intent returned %d", ErrExternalService, resp.StatusCode)
	}
	var out PaymentIntentStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: verify intent: invalid JSON: %v", ErrExternalService, err)
	}
	return &out, nil
}

func (c *HTTPPaymentClient) ReleaseFunds(ctx context.Context, transactionID, sellerID uuid.UUID, amount decimal.Decimal) error {
	body := map[string]any{
		"transaction_id": transactionID,
		"seller_id":      sellerID,
		"amount":         amount,
	}
	return c.post(ctx, "/v1/releases", body, nil)
}

func (c *HTTPPaymentClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrExternalService, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExternalService, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d", ErrExternalService, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %s: invalid JSON: %v", ErrExternalService, path, err)
		}
	}
	return nil
}
