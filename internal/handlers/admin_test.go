package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/services"
)

type stubDiscountService struct {
	createFn func(ctx context.Context, cmd services.UpsertDiscountCommand) (domain.Discount, error)
	updateFn func(ctx context.Context, cmd services.UpsertDiscountCommand) (domain.Discount, error)
	deleteFn func(ctx context.Context, discountID string) error
	getFn    func(ctx context.Context, discountID string) (domain.Discount, error)
	listFn   func(ctx context.Context, filter services.DiscountListFilter) (domain.CursorPage[domain.Discount], error)
}

var _ services.DiscountService = (*stubDiscountService)(nil)

func (s *stubDiscountService) CreateDiscount(ctx context.Context, cmd services.UpsertDiscountCommand) (domain.Discount, error) {
	if s.createFn == nil {
		return domain.Discount{}, nil
	}
	return s.createFn(ctx, cmd)
}

func (s *stubDiscountService) UpdateDiscount(ctx context.Context, cmd services.UpsertDiscountCommand) (domain.Discount, error) {
	if s.updateFn == nil {
		return domain.Discount{}, nil
	}
	return s.updateFn(ctx, cmd)
}

func (s *stubDiscountService) DeleteDiscount(ctx context.Context, discountID string) error {
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, discountID)
}

func (s *stubDiscountService) GetDiscount(ctx context.Context, discountID string) (domain.Discount, error) {
	if s.getFn == nil {
		return domain.Discount{}, services.ErrDiscountNotFound
	}
	return s.getFn(ctx, discountID)
}

func (s *stubDiscountService) ListDiscounts(ctx context.Context, filter services.DiscountListFilter) (domain.CursorPage[domain.Discount], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Discount]{}, nil
	}
	return s.listFn(ctx, filter)
}

func discountFixture() domain.Discount {
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	return domain.Discount{
		ID:         "dsc_01TEST",
		Category:   "weights",
		Percentage: 10,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestAdminUpdateOrderStatus(t *testing.T) {
	var gotCmd services.UpdateOrderStatusCommand
	orders := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error) {
			gotCmd = cmd
			order := orderFixture("usr_1")
			order.Status = cmd.Status
			return order, nil
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, orders, nil, nil).Routes)
	req := authedRequest(http.MethodPatch, "/orders/ord_01TEST/status", `{"status":"inShipping"}`, adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.OrderID != "ord_01TEST" || gotCmd.Status != domain.OrderStatus("inShipping") {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
	if gotCmd.ActorID != "usr_admin" {
		t.Fatalf("expected actor usr_admin, got %q", gotCmd.ActorID)
	}

	payload := decodeBody(t, rr)
	order := payload["order"].(map[string]any)
	if order["status"] != "inShipping" {
		t.Fatalf("expected inShipping, got %v", order["status"])
	}
}

func TestAdminUpdateOrderStatusRejectsUnknown(t *testing.T) {
	orders := &stubOrderService{
		updateFn: func(context.Context, services.UpdateOrderStatusCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderUnsupportedStatus
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, orders, nil, nil).Routes)
	req := authedRequest(http.MethodPatch, "/orders/ord_01TEST/status", `{"status":"teleported"}`, adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminUpdateOrderStatusTerminalConflict(t *testing.T) {
	orders := &stubOrderService{
		updateFn: func(context.Context, services.UpdateOrderStatusCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidState
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, orders, nil, nil).Routes)
	req := authedRequest(http.MethodPatch, "/orders/ord_01TEST/status", `{"status":"confirmed"}`, adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["error"] != "invalid_order_state" {
		t.Fatalf("expected invalid_order_state, got %v", payload["error"])
	}
}

func TestAdminListOrdersPassesFilter(t *testing.T) {
	var gotFilter services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			gotFilter = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{orderFixture("usr_1")}}, nil
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, orders, nil, nil).Routes)
	req := authedRequest(http.MethodGet, "/orders?filter=status==shipped&pageSize=5", "", adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(gotFilter.Status) != 1 || gotFilter.Status[0] != domain.OrderStatusShipped {
		t.Fatalf("unexpected status filter %+v", gotFilter.Status)
	}
	if gotFilter.Pagination.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", gotFilter.Pagination.PageSize)
	}
}

func TestAdminCreateDiscount(t *testing.T) {
	var gotCmd services.UpsertDiscountCommand
	discounts := &stubDiscountService{
		createFn: func(_ context.Context, cmd services.UpsertDiscountCommand) (domain.Discount, error) {
			gotCmd = cmd
			return discountFixture(), nil
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, nil, discounts, nil).Routes)
	req := authedRequest(http.MethodPost, "/discounts", `{"category":"weights","percentage":10}`, adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.Category != "weights" || gotCmd.Percentage != 10 {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
	// Active defaults to true when the field is absent.
	if !gotCmd.Active {
		t.Fatalf("expected active default, got %+v", gotCmd)
	}

	payload := decodeBody(t, rr)
	discount := payload["discount"].(map[string]any)
	if discount["id"] != "dsc_01TEST" || discount["category"] != "weights" {
		t.Fatalf("unexpected discount payload %v", discount)
	}
}

func TestAdminCreateDiscountInvalid(t *testing.T) {
	discounts := &stubDiscountService{
		createFn: func(context.Context, services.UpsertDiscountCommand) (domain.Discount, error) {
			return domain.Discount{}, services.ErrDiscountInvalidInput
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, nil, discounts, nil).Routes)
	req := authedRequest(http.MethodPost, "/discounts", `{"category":"","percentage":140}`, adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminUpdateDiscountDisables(t *testing.T) {
	var gotCmd services.UpsertDiscountCommand
	discounts := &stubDiscountService{
		updateFn: func(_ context.Context, cmd services.UpsertDiscountCommand) (domain.Discount, error) {
			gotCmd = cmd
			discount := discountFixture()
			discount.Active = false
			return discount, nil
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, nil, discounts, nil).Routes)
	req := authedRequest(http.MethodPatch, "/discounts/dsc_01TEST", `{"category":"weights","percentage":10,"active":false}`, adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.DiscountID != "dsc_01TEST" || gotCmd.Active {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
}

func TestAdminDeleteDiscount(t *testing.T) {
	var gotID string
	discounts := &stubDiscountService{
		deleteFn: func(_ context.Context, discountID string) error {
			gotID = discountID
			return nil
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, nil, discounts, nil).Routes)
	req := authedRequest(http.MethodDelete, "/discounts/dsc_01TEST", "", adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if gotID != "dsc_01TEST" {
		t.Fatalf("expected dsc_01TEST, got %q", gotID)
	}
}

func TestAdminDeleteDiscountMissing(t *testing.T) {
	discounts := &stubDiscountService{
		deleteFn: func(context.Context, string) error {
			return services.ErrDiscountNotFound
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, nil, discounts, nil).Routes)
	req := authedRequest(http.MethodDelete, "/discounts/dsc_ghost", "", adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAdminListDiscountsFilters(t *testing.T) {
	var gotFilter services.DiscountListFilter
	discounts := &stubDiscountService{
		listFn: func(_ context.Context, filter services.DiscountListFilter) (domain.CursorPage[domain.Discount], error) {
			gotFilter = filter
			return domain.CursorPage[domain.Discount]{Items: []domain.Discount{discountFixture()}, NextPageToken: "tok_more"}, nil
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, nil, discounts, nil).Routes)
	req := authedRequest(http.MethodGet, "/discounts?category=weights&active=true", "", adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotFilter.Category != "weights" || !gotFilter.ActiveOnly {
		t.Fatalf("unexpected filter %+v", gotFilter)
	}

	payload := decodeBody(t, rr)
	if payload["next_page_token"] != "tok_more" {
		t.Fatalf("expected next_page_token, got %v", payload["next_page_token"])
	}
}

func TestAdminListUsersRoleFilter(t *testing.T) {
	var gotFilter services.UserListFilter
	users := &stubUserService{
		listFn: func(_ context.Context, filter services.UserListFilter) (domain.CursorPage[domain.User], error) {
			gotFilter = filter
			return domain.CursorPage[domain.User]{Items: []domain.User{{
				ID:       "usr_01TEST",
				UserName: "asha",
				Email:    "asha@example.com",
				Role:     domain.RoleAdmin,
				Verified: true,
			}}}, nil
		},
	}

	r := mountRoutes(NewAdminHandlers(nil, nil, nil, users).Routes)
	req := authedRequest(http.MethodGet, "/users?filter=role==admin", "", adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotFilter.Role == nil || *gotFilter.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role filter, got %+v", gotFilter.Role)
	}

	payload := decodeBody(t, rr)
	list := payload["users"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one user, got %d", len(list))
	}
	user := list[0].(map[string]any)
	if user["role"] != "admin" || user["verified"] != true {
		t.Fatalf("unexpected user payload %v", user)
	}
}

func TestAdminListUsersRejectsUnknownRole(t *testing.T) {
	r := mountRoutes(NewAdminHandlers(nil, nil, nil, &stubUserService{}).Routes)
	req := authedRequest(http.MethodGet, "/users?filter=role==owner", "", adminIdentity("usr_admin"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
