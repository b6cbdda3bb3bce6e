package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	khaltiInitiatePath = "/api/v2/epayment/initiate/"
	khaltiLookupPath   = "/api/v2/epayment/lookup/"

	khaltiStatusCompleted    = "Completed"
	khaltiStatusPending      = "Pending"
	khaltiStatusInitiated    = "Initiated"
	khaltiStatusExpired      = "Expired"
	khaltiStatusUserCanceled = "User canceled"
	khaltiStatusRefunded     = "Refunded"
)

// HTTPDoer abstracts the HTTP client for testability.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// KhaltiProvider adapts the Khalti ePayment gateway to the payments.Provider
// contract. Amounts are paisa end to end, which is also Khalti's native unit.
type KhaltiProvider struct {
	gatewayURL string
	secretKey  string
	websiteURL string
	client     HTTPDoer
}

// KhaltiOption customises the provider.
type KhaltiOption func(*KhaltiProvider)

// WithKhaltiHTTPClient injects a custom HTTP client.
func WithKhaltiHTTPClient(client HTTPDoer) KhaltiOption {
	return func(p *KhaltiProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithKhaltiWebsiteURL sets the storefront URL reported on initiate.
func WithKhaltiWebsiteURL(url string) KhaltiOption {
	return func(p *KhaltiProvider) {
		p.websiteURL = strings.TrimSpace(url)
	}
}

// NewKhaltiProvider constructs the gateway adapter.
func NewKhaltiProvider(gatewayURL, secretKey string, opts ...KhaltiOption) (*KhaltiProvider, error) {
	gatewayURL = strings.TrimRight(strings.TrimSpace(gatewayURL), "/")
	if gatewayURL == "" {
		return nil, errors.New("khalti: gateway url is required")
	}
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errors.New("khalti: secret key is required")
	}
	p := &KhaltiProvider{
		gatewayURL: gatewayURL,
		secretKey:  secretKey,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type khaltiInitiateRequest struct {
	ReturnURL         string              `json:"return_url"`
	WebsiteURL        string              `json:"website_url"`
	Amount            int64               `json:"amount"`
	PurchaseOrderID   string              `json:"purchase_order_id"`
	PurchaseOrderName string              `json:"purchase_order_name"`
	CustomerInfo      *khaltiCustomerInfo `json:"customer_info,omitempty"`
}

type khaltiCustomerInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type khaltiInitiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
}

type khaltiLookupResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Fee           int64  `json:"fee"`
	Refunded      bool   `json:"refunded"`
}

// CreateCheckoutSession opens a hosted payment session at the gateway.
func (p *KhaltiProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("khalti: provider is nil")
	}
	if req.Amount <= 0 {
		return CheckoutSession{}, errors.New("khalti: amount must be positive")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return CheckoutSession{}, errors.New("khalti: order id is required")
	}

	orderName := "FitMart Order"
	if len(req.Items) == 1 {
		orderName = req.Items[0].Name
	}
	payload := khaltiInitiateRequest{
		ReturnURL:         strings.TrimSpace(req.ReturnURL),
		WebsiteURL:        p.websiteURL,
		Amount:            req.Amount,
		PurchaseOrderID:   orderID,
		PurchaseOrderName: orderName,
	}
	if req.Customer != (CustomerInfo{}) {
		payload.CustomerInfo = &khaltiCustomerInfo{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		}
	}

	var resp khaltiInitiateResponse
	if err := p.post(ctx, khaltiInitiatePath, payload, &resp); err != nil {
		return CheckoutSession{}, err
	}
	if resp.Pidx == "" || resp.PaymentURL == "" {
		return CheckoutSession{}, errors.New("khalti: initiate response missing pidx or payment_url")
	}

	session := CheckoutSession{
		ID:          resp.Pidx,
		RedirectURL: resp.PaymentURL,
	}
	if resp.ExpiresAt != "" {
		if ts, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			session.ExpiresAt = ts
		}
	}
	return session, nil
}

// LookupPayment asks the gateway for the authoritative payment state.
func (p *KhaltiProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("khalti: provider is nil")
	}
	pidx := strings.TrimSpace(req.IntentID)
	if pidx == "" {
		return PaymentDetails{}, errors.New("khalti: pidx is required")
	}

	var resp khaltiLookupResponse
	if err := p.post(ctx, khaltiLookupPath, map[string]string{"pidx": pidx}, &resp); err != nil {
		return PaymentDetails{}, err
	}

	details := PaymentDetails{
		Provider:      "khalti",
		IntentID:      resp.Pidx,
		TransactionID: resp.TransactionID,
		Status:        mapKhaltiStatus(resp.Status, resp.Refunded),
		Amount:        resp.TotalAmount,
		Currency:      "NPR",
		Raw: map[string]any{
			"status":   resp.Status,
			"fee":      resp.Fee,
			"refunded": resp.Refunded,
		},
	}
	return details, nil
}

// Refund is not exposed by the ePayment API surface this adapter targets.
func (p *KhaltiProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	return PaymentDetails{}, errors.New("khalti: refunds must be issued from the merchant dashboard")
}

func (p *KhaltiProvider) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("khalti: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.gatewayURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("khalti: build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("khalti: gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("khalti: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("khalti: gateway returned %d: %s", resp.StatusCode, truncateBody(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("khalti: decode response: %w", err)
		}
	}
	return nil
}

func mapKhaltiStatus(raw string, refunded bool) Status {
	if refunded {
		return StatusRefunded
	}
	switch raw {
	case khaltiStatusCompleted:
		return StatusSucceeded
	case khaltiStatusPending, khaltiStatusInitiated:
		return StatusPending
	case khaltiStatusRefunded:
		return StatusRefunded
	case khaltiStatusExpired, khaltiStatusUserCanceled:
		return StatusFailed
	default:
		return StatusFailed
	}
}

func truncateBody(data []byte) string {
	const max = 256
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

var _ Provider = (*KhaltiProvider)(nil)
