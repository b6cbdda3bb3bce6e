package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/platform/auth"
	"github.com/fitmart/api/internal/platform/httpx"
	"github.com/fitmart/api/internal/platform/pagination"
	"github.com/fitmart/api/internal/services"
)

const maxAdminBodySize = 32 * 1024

var adminUserPaginationOptions = pagination.Options{
	DefaultPageSize: 50,
	MaxPageSize:     200,
	AllowedFilterFields: map[string][]pagination.Operator{
		"role": {pagination.OperatorEqual},
	},
}

// AdminHandlers exposes the back-office surface: order management, discounts,
// and user listing. Every route requires the admin role.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	discounts services.DiscountService
	users     services.UserService
}

// NewAdminHandlers constructs the admin handler group.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, discounts services.DiscountService, users services.UserService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		orders:    orders,
		discounts: discounts,
		users:     users,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAdmin())
	}

	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Patch("/orders/{orderID}/status", h.updateOrderStatus)

	r.Get("/discounts", h.listDiscounts)
	r.Post("/discounts", h.createDiscount)
	r.Patch("/discounts/{discountID}", h.updateDiscount)
	r.Delete("/discounts/{discountID}", h.deleteDiscount)

	r.Get("/users", h.listUsers)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, err := orderListFilterFromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	actorID := ""
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		actorID = identity.UserID
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  domain.OrderStatus(strings.TrimSpace(req.Status)),
		ActorID: actorID,
	})
	if err != nil {
		writeOrderServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *AdminHandlers) listDiscounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.DiscountListFilter{
		Category:   strings.TrimSpace(query.Get("category")),
		ActiveOnly: query.Get("active") == "true",
	}
	if params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: 50, MaxPageSize: 200}); err == nil {
		filter.Pagination = domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}
	}

	page, err := h.discounts.ListDiscounts(ctx, filter)
	if err != nil {
		h.writeDiscountError(ctx, w, err)
		return
	}

	items := make([]discountPayload, 0, len(page.Items))
	for _, discount := range page.Items {
		items = append(items, buildDiscountPayload(discount))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"discounts":       items,
		"next_page_token": page.NextPageToken,
	})
}

type upsertDiscountRequest struct {
	Category   string `json:"category"`
	Percentage int    `json:"percentage"`
	Active     *bool  `json:"active,omitempty"`
}

func (h *AdminHandlers) createDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req upsertDiscountRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	discount, err := h.discounts.CreateDiscount(ctx, services.UpsertDiscountCommand{
		Category:   req.Category,
		Percentage: req.Percentage,
		Active:     active,
	})
	if err != nil {
		h.writeDiscountError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]any{"discount": buildDiscountPayload(discount)})
}

func (h *AdminHandlers) updateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service is unavailable", http.StatusServiceUnavailable))
		return
	}

	discountID := strings.TrimSpace(chi.URLParam(r, "discountID"))
	if discountID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "discount id is required", http.StatusBadRequest))
		return
	}

	var req upsertDiscountRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	discount, err := h.discounts.UpdateDiscount(ctx, services.UpsertDiscountCommand{
		DiscountID: discountID,
		Category:   req.Category,
		Percentage: req.Percentage,
		Active:     active,
	})
	if err != nil {
		h.writeDiscountError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"discount": buildDiscountPayload(discount)})
}

func (h *AdminHandlers) deleteDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service is unavailable", http.StatusServiceUnavailable))
		return
	}

	discountID := strings.TrimSpace(chi.URLParam(r, "discountID"))
	if discountID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "discount id is required", http.StatusBadRequest))
		return
	}

	if err := h.discounts.DeleteDiscount(ctx, discountID); err != nil {
		h.writeDiscountError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service is unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, adminUserPaginationOptions)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.UserListFilter{
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	for _, f := range params.Filters {
		if f.Field == "role" {
			role := domain.UserRole(f.Value)
			if role != domain.RoleUser && role != domain.RoleAdmin {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown role filter value", http.StatusBadRequest))
				return
			}
			filter.Role = &role
		}
	}

	page, err := h.users.ListUsers(ctx, filter)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_error", "user listing failed", http.StatusInternalServerError))
		return
	}

	items := make([]userPayload, 0, len(page.Items))
	for _, user := range page.Items {
		items = append(items, buildUserPayload(user))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"users":           items,
		"next_page_token": page.NextPageToken,
	})
}

func (h *AdminHandlers) writeDiscountError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrDiscountInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDiscountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_found", "discount not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("discount_error", "discount request failed", http.StatusInternalServerError))
	}
}
