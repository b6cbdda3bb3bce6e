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

type stubCheckoutService struct {
	placeFn func(ctx context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)

type stubOrderService struct {
	getFn        func(ctx context.Context, orderID string) (domain.Order, error)
	listByUserFn func(ctx context.Context, userID string, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error)
	listFn       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error)
	cancelFn     func(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error)
	updateFn     func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error)
	reconcileFn  func(ctx context.Context, cmd services.ReconcilePaymentCommand) (domain.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) ListByUser(ctx context.Context, userID string, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) ReconcilePayment(ctx context.Context, cmd services.ReconcilePaymentCommand) (domain.Order, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

var _ services.OrderService = (*stubOrderService)(nil)

func orderFixture(userID string) domain.Order {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:     "ord_01TEST",
		UserID: userID,
		Items: []domain.OrderItem{
			{ProductID: "prd_plate", Title: "Rubber Weight Plate 10kg", UnitPrice: 65000, Quantity: 2},
		},
		Address:       domain.Address{AddressLine: "Thamel Marg 12", City: "Kathmandu", Pincode: "44600", Phone: "9800000000", Country: "Nepal"},
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		TotalAmount:   130000,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrdersPlaceCashOnDelivery(t *testing.T) {
	var gotCmd services.PlaceOrderCommand
	checkout := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error) {
			gotCmd = cmd
			order := orderFixture(cmd.UserID)
			order.TaxAmount = cmd.TaxAmount
			order.ShippingAmount = cmd.ShippingAmount
			order.TotalAmount += cmd.TaxAmount + cmd.ShippingAmount
			return services.CheckoutResult{Order: order}, nil
		},
	}

	r := mountRoutes(NewOrderHandlers(nil, checkout, &stubOrderService{}).Routes)
	body := `{"address":{"address_line":"Thamel Marg 12","city":"Kathmandu","pincode":"44600","phone":"9800000000","country":"Nepal"},"payment_method":"cod","tax_amount":13000,"shipping_amount":5000}`
	req := authedRequest(http.MethodPost, "/", body, customerIdentity("usr_1"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("unexpected payment method %q", gotCmd.PaymentMethod)
	}
	if gotCmd.Address.City != "Kathmandu" || gotCmd.Address.Country != "Nepal" {
		t.Fatalf("unexpected address %+v", gotCmd.Address)
	}
	if gotCmd.TaxAmount != 13000 || gotCmd.ShippingAmount != 5000 {
		t.Fatalf("unexpected surcharges %d/%d", gotCmd.TaxAmount, gotCmd.ShippingAmount)
	}

	payload := decodeBody(t, rr)
	order, ok := payload["order"].(map[string]any)
	if !ok {
		t.Fatalf("expected order payload, got %v", payload)
	}
	if order["total_amount"] != float64(148000) {
		t.Fatalf("unexpected total %v", order["total_amount"])
	}
	if order["tax_amount"] != float64(13000) || order["shipping_amount"] != float64(5000) {
		t.Fatalf("unexpected surcharges %v/%v", order["tax_amount"], order["shipping_amount"])
	}
	address := order["address"].(map[string]any)
	if address["country"] != "Nepal" {
		t.Fatalf("unexpected country %v", address["country"])
	}
	if _, ok := payload["payment_url"]; ok {
		t.Fatal("cash on delivery must not return a payment url")
	}
}

func TestOrdersPlaceWalletReturnsRedirect(t *testing.T) {
	checkout := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error) {
			order := orderFixture(cmd.UserID)
			order.PaymentMethod = domain.PaymentMethodWallet
			order.PaymentRef = "pidx_987"
			return services.CheckoutResult{
				Order:      order,
				PaymentURL: "https://pay.example.com/pidx_987",
				PaymentRef: "pidx_987",
			}, nil
		},
	}

	r := mountRoutes(NewOrderHandlers(nil, checkout, &stubOrderService{}).Routes)
	body := `{"address":{"address_line":"Thamel Marg 12","city":"Kathmandu","pincode":"44600","phone":"9800000000"},"payment_method":"wallet","return_url":"https://fitmart.example.com/payment/return"}`
	req := authedRequest(http.MethodPost, "/", body, customerIdentity("usr_1"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["payment_url"] != "https://pay.example.com/pidx_987" {
		t.Fatalf("expected payment url, got %v", payload["payment_url"])
	}
	if payload["payment_ref"] != "pidx_987" {
		t.Fatalf("expected payment ref, got %v", payload["payment_ref"])
	}
}

func TestOrdersPlaceOutOfStock(t *testing.T) {
	checkout := &stubCheckoutService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, services.ErrCheckoutOutOfStock
		},
	}

	r := mountRoutes(NewOrderHandlers(nil, checkout, &stubOrderService{}).Routes)
	body := `{"address":{"address_line":"a","city":"b","pincode":"c","phone":"d"},"payment_method":"cod"}`
	req := authedRequest(http.MethodPost, "/", body, customerIdentity("usr_1"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["error"] != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %v", payload["error"])
	}
}

func TestOrdersListPassesFilter(t *testing.T) {
	var gotUser string
	var gotFilter services.OrderListFilter
	orders := &stubOrderService{
		listByUserFn: func(_ context.Context, userID string, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			gotUser = userID
			gotFilter = filter
			return domain.CursorPage[domain.Order]{
				Items:         []domain.Order{orderFixture(userID)},
				NextPageToken: "tok_next",
			}, nil
		},
	}

	r := mountRoutes(NewOrderHandlers(nil, &stubCheckoutService{}, orders).Routes)
	req := authedRequest(http.MethodGet, "/?pageSize=10&filter=status==pending", "", customerIdentity("usr_1"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotUser != "usr_1" {
		t.Fatalf("expected list for usr_1, got %q", gotUser)
	}
	if gotFilter.Pagination.PageSize != 10 {
		t.Fatalf("unexpected page size %d", gotFilter.Pagination.PageSize)
	}
	if len(gotFilter.Status) != 1 || gotFilter.Status[0] != domain.OrderStatusPending {
		t.Fatalf("unexpected status filter %v", gotFilter.Status)
	}

	payload := decodeBody(t, rr)
	if payload["next_page_token"] != "tok_next" {
		t.Fatalf("expected next page token, got %v", payload["next_page_token"])
	}
}

func TestOrdersListRejectsUnknownStatus(t *testing.T) {
	r := mountRoutes(NewOrderHandlers(nil, &stubCheckoutService{}, &stubOrderService{}).Routes)
	req := authedRequest(http.MethodGet, "/?filter=status==misplaced", "", customerIdentity("usr_1"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrdersGetHidesForeignOrders(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return orderFixture("usr_owner"), nil
		},
	}

	r := mountRoutes(NewOrderHandlers(nil, &stubCheckoutService{}, orders).Routes)

	req := authedRequest(http.MethodGet, "/ord_01TEST", "", customerIdentity("usr_other"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign order, got %d", rr.Code)
	}

	req = authedRequest(http.MethodGet, "/ord_01TEST", "", customerIdentity("usr_owner"))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", rr.Code)
	}

	req = authedRequest(http.MethodGet, "/ord_01TEST", "", adminIdentity("usr_admin"))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rr.Code)
	}
}

func TestOrdersCancel(t *testing.T) {
	var gotCmd services.CancelOrderCommand
	orders := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			gotCmd = cmd
			order := orderFixture(cmd.UserID)
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	r := mountRoutes(NewOrderHandlers(nil, &stubCheckoutService{}, orders).Routes)
	req := authedRequest(http.MethodPost, "/ord_01TEST:cancel", "", customerIdentity("usr_1"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.OrderID != "ord_01TEST" || gotCmd.TriggeredBy != domain.TriggeredByCustomer {
		t.Fatalf("unexpected cancel command %+v", gotCmd)
	}

	payload := decodeBody(t, rr)
	order := payload["order"].(map[string]any)
	if order["status"] != "cancelled" {
		t.Fatalf("expected cancelled status, got %v", order["status"])
	}
}

func TestOrdersCancelInvalidState(t *testing.T) {
	orders := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidState
		},
	}

	r := mountRoutes(NewOrderHandlers(nil, &stubCheckoutService{}, orders).Routes)
	req := authedRequest(http.MethodPost, "/ord_01TEST:cancel", "", customerIdentity("usr_1"))
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
