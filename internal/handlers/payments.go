package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fitmart/api/internal/platform/auth"
	"github.com/fitmart/api/internal/platform/httpx"
	"github.com/fitmart/api/internal/services"
)

// PaymentHandlers reconciles wallet payments: the provider redirect callback
// and the client-triggered re-verification endpoint.
type PaymentHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewPaymentHandlers constructs handlers backed by the order service.
func NewPaymentHandlers(authn *auth.Authenticator, orders services.OrderService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /payments endpoints onto the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	// The callback is hit by the provider redirect, so it carries no session.
	r.Get("/wallet/callback", h.walletCallback)

	r.Group(func(protected chi.Router) {
		if h.authn != nil {
			protected.Use(h.authn.RequireAuth())
		}
		protected.Post("/wallet/{orderID}:verify", h.verifyPayment)
	})
}

func (h *PaymentHandlers) walletCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	orderID := strings.TrimSpace(query.Get("purchase_order_id"))
	paymentRef := strings.TrimSpace(query.Get("pidx"))
	if orderID == "" || paymentRef == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "purchase_order_id and pidx are required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ReconcilePayment(ctx, services.ReconcilePaymentCommand{
		OrderID:    orderID,
		PaymentRef: paymentRef,
		Provider:   strings.TrimSpace(query.Get("provider")),
	})
	if err != nil {
		writeOrderServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

type verifyPaymentRequest struct {
	PaymentRef string `json:"payment_ref,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

func (h *PaymentHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil, "order_service_unavailable")
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	existing, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderServiceError(ctx, w, err)
		return
	}
	if existing.UserID != identity.UserID && !identity.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	// The body is optional: absent, the order's stored payment ref is used.
	var req verifyPaymentRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
			writeBodyError(ctx, w, err)
			return
		}
	}

	order, err := h.orders.ReconcilePayment(ctx, services.ReconcilePaymentCommand{
		OrderID:    orderID,
		PaymentRef: strings.TrimSpace(req.PaymentRef),
		Provider:   strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeOrderServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}
