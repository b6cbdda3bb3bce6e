package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type stubDoer struct {
	lastRequest *http.Request
	lastBody    map[string]any
	status      int
	response    string
	err         error
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.lastRequest = req
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(data, &d.lastBody)
	}
	if d.err != nil {
		return nil, d.err
	}
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(d.response)),
		Header:     http.Header{},
	}, nil
}

func TestKhaltiCreateCheckoutSession(t *testing.T) {
	doer := &stubDoer{response: `{"pidx":"HT6o6PEZRWFJ5ygavzHWd5","payment_url":"https://test-pay.khalti.com/?pidx=HT6o6PEZRWFJ5ygavzHWd5","expires_at":"2026-09-01T10:00:00Z"}`}
	provider, err := NewKhaltiProvider("https://dev.khalti.com", "sk_test", WithKhaltiHTTPClient(doer), WithKhaltiWebsiteURL("https://fitmart.example"))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		OrderID:   "ord_123",
		Amount:    130000,
		ReturnURL: "https://fitmart.example/payment/return",
		Customer:  CustomerInfo{Name: "Asha", Email: "asha@example.com", Phone: "9800000001"},
		Items:     []CheckoutLineItem{{Name: "Adjustable Dumbbell", Quantity: 1, Amount: 130000}},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if session.ID != "HT6o6PEZRWFJ5ygavzHWd5" {
		t.Fatalf("unexpected session id %q", session.ID)
	}
	if !strings.Contains(session.RedirectURL, "test-pay.khalti.com") {
		t.Fatalf("unexpected redirect url %q", session.RedirectURL)
	}
	if got := doer.lastRequest.Header.Get("Authorization"); got != "Key sk_test" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if got := doer.lastRequest.URL.Path; got != "/api/v2/epayment/initiate/" {
		t.Fatalf("unexpected path %q", got)
	}
	if amount, ok := doer.lastBody["amount"].(float64); !ok || int64(amount) != 130000 {
		t.Fatalf("expected amount in paisa, got %v", doer.lastBody["amount"])
	}
	if doer.lastBody["purchase_order_id"] != "ord_123" {
		t.Fatalf("unexpected purchase_order_id %v", doer.lastBody["purchase_order_id"])
	}
}

func TestKhaltiLookupPaymentCompleted(t *testing.T) {
	doer := &stubDoer{response: `{"pidx":"HT6o6PEZRWFJ5ygavzHWd5","total_amount":130000,"status":"Completed","transaction_id":"txn_1","fee":3900,"refunded":false}`}
	provider, err := NewKhaltiProvider("https://dev.khalti.com", "sk_test", WithKhaltiHTTPClient(doer))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	details, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: "HT6o6PEZRWFJ5ygavzHWd5"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if details.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %q", details.Status)
	}
	if details.Amount != 130000 {
		t.Fatalf("unexpected amount %d", details.Amount)
	}
	if details.TransactionID != "txn_1" {
		t.Fatalf("unexpected transaction id %q", details.TransactionID)
	}
	if got := doer.lastRequest.URL.Path; got != "/api/v2/epayment/lookup/" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestKhaltiLookupStatusMapping(t *testing.T) {
	cases := []struct {
		raw      string
		refunded bool
		want     Status
	}{
		{"Completed", false, StatusSucceeded},
		{"Pending", false, StatusPending},
		{"Initiated", false, StatusPending},
		{"Expired", false, StatusFailed},
		{"User canceled", false, StatusFailed},
		{"Refunded", false, StatusRefunded},
		{"Completed", true, StatusRefunded},
	}
	for _, tc := range cases {
		if got := mapKhaltiStatus(tc.raw, tc.refunded); got != tc.want {
			t.Fatalf("mapKhaltiStatus(%q, %v) = %q, want %q", tc.raw, tc.refunded, got, tc.want)
		}
	}
}

func TestKhaltiGatewayErrorSurfaces(t *testing.T) {
	doer := &stubDoer{status: http.StatusBadRequest, response: `{"detail":"pidx not found"}`}
	provider, err := NewKhaltiProvider("https://dev.khalti.com", "sk_test", WithKhaltiHTTPClient(doer))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	if _, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: "bogus"}); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}
