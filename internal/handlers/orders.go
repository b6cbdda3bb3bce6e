package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/platform/auth"
	"github.com/fitmart/api/internal/platform/httpx"
	"github.com/fitmart/api/internal/platform/pagination"
	"github.com/fitmart/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

var orderListPaginationOptions = pagination.Options{
	DefaultPageSize: 20,
	MaxPageSize:     100,
	AllowedFilterFields: map[string][]pagination.Operator{
		"status":    {pagination.OperatorEqual},
		"createdAt": {pagination.OperatorGreaterEqual},
	},
}

// OrderHandlers exposes authenticated order endpoints for the current user.
type OrderHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	orders   services.OrderService
}

// NewOrderHandlers constructs handlers for placement and the customer order lifecycle.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		checkout: checkout,
		orders:   orders,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

type placeOrderRequest struct {
	Address        addressPayload `json:"address"`
	PaymentMethod  string         `json:"payment_method"`
	TaxAmount      int64          `json:"tax_amount,omitempty"`
	ShippingAmount int64          `json:"shipping_amount,omitempty"`
	ReturnURL      string         `json:"return_url,omitempty"`
	Provider       string         `json:"provider,omitempty"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.checkout != nil, "checkout_service_unavailable")
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:         identity.UserID,
		Address:        addressFromPayload(req.Address),
		PaymentMethod:  domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		TaxAmount:      req.TaxAmount,
		ShippingAmount: req.ShippingAmount,
		ReturnURL:      strings.TrimSpace(req.ReturnURL),
		Provider:       strings.TrimSpace(req.Provider),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	payload := map[string]any{
		"order": buildOrderPayload(result.Order),
	}
	if result.PaymentURL != "" {
		payload["payment_url"] = result.PaymentURL
	}
	if result.PaymentRef != "" {
		payload["payment_ref"] = result.PaymentRef
	}
	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil, "order_service_unavailable")
	if !ok {
		return
	}

	filter, err := orderListFilterFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListByUser(ctx, identity.UserID, filter)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	// Order ownership is enforced here rather than in the service so admin
	// reads can share GetOrder.
	if order.UserID != identity.UserID && !identity.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:     orderID,
		UserID:      identity.UserID,
		TriggeredBy: domain.TriggeredByCustomer,
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "a cart item is no longer available", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for one or more items", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentSession):
		httpx.WriteError(ctx, w, httpx.NewError("payment_session_failed", "payment session could not be created", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "order placement failed", http.StatusInternalServerError))
	}
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	writeOrderServiceError(ctx, w, err)
}

func writeOrderServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnsupportedStatus):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_status", "unrecognised order status", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", "order cannot change state from its current status", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_amount_mismatch", "payment amount does not match the order total", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentVerification):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment could not be verified; retry later", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order request failed", http.StatusInternalServerError))
	}
}

func orderListFilterFromRequest(r *http.Request) (services.OrderListFilter, error) {
	params, err := pagination.FromRequest(r, orderListPaginationOptions)
	if err != nil {
		return services.OrderListFilter{}, err
	}

	filter := services.OrderListFilter{
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}

	for _, f := range params.Filters {
		switch f.Field {
		case "status":
			status := domain.OrderStatus(f.Value)
			if !status.Known() {
				return services.OrderListFilter{}, errors.New("unknown status filter value")
			}
			filter.Status = append(filter.Status, status)
		case "createdAt":
			since, parseErr := time.Parse(time.RFC3339, f.Value)
			if parseErr != nil {
				return services.OrderListFilter{}, errors.New("createdAt filter must be an RFC3339 timestamp")
			}
			utc := since.UTC()
			filter.Since = &utc
		}
	}

	return filter, nil
}
