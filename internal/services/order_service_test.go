package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/payments"
	"github.com/fitmart/api/internal/repositories"
)

type fakeRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepoError) Error() string       { return "repository error" }
func (e fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e fakeRepoError) IsConflict() bool    { return e.conflict }
func (e fakeRepoError) IsUnavailable() bool { return e.unavailable }

type stubOrderRepo struct {
	insertFn     func(context.Context, domain.Order) error
	updateFn     func(context.Context, domain.Order) error
	findFn       func(context.Context, string) (domain.Order, error)
	listByUserFn func(context.Context, string, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	listFn       func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	placeFn      func(context.Context, repositories.PlaceOrderRequest) (domain.Order, error)
	transitionFn func(context.Context, repositories.OrderTransition) (domain.Order, error)
	completeFn   func(context.Context, repositories.PaymentCompletion) (domain.Order, bool, error)
	failFn       func(context.Context, string, time.Time) (domain.Order, error)
	reviewFn     func(context.Context, string, time.Time) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) PlaceWithStock(ctx context.Context, req repositories.PlaceOrderRequest) (domain.Order, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, req)
	}
	return req.Order, nil
}

func (s *stubOrderRepo) ApplyTransition(ctx context.Context, req repositories.OrderTransition) (domain.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, req)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) CompletePayment(ctx context.Context, req repositories.PaymentCompletion) (domain.Order, bool, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, req)
	}
	return domain.Order{}, false, errors.New("not implemented")
}

func (s *stubOrderRepo) MarkPaymentFailed(ctx context.Context, orderID string, now time.Time) (domain.Order, error) {
	if s.failFn != nil {
		return s.failFn(ctx, orderID, now)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) FlagManualReview(ctx context.Context, orderID string, now time.Time) (domain.Order, error) {
	if s.reviewFn != nil {
		return s.reviewFn(ctx, orderID, now)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubCartRepo struct {
	getFn       func(context.Context, string) (domain.Cart, error)
	getByUserFn func(context.Context, string) (domain.Cart, error)
	upsertFn    func(context.Context, domain.Cart) (domain.Cart, error)
	deleteFn    func(context.Context, string) error
}

func (s *stubCartRepo) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cartID)
	}
	return domain.Cart{}, fakeRepoError{notFound: true}
}

func (s *stubCartRepo) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getByUserFn != nil {
		return s.getByUserFn(ctx, userID)
	}
	return domain.Cart{}, fakeRepoError{notFound: true}
}

func (s *stubCartRepo) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cart)
	}
	return cart, nil
}

func (s *stubCartRepo) Delete(ctx context.Context, cartID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cartID)
	}
	return nil
}

type stubProductRepo struct {
	findFn      func(context.Context, string) (domain.Product, error)
	findByIDsFn func(context.Context, []string) (map[string]domain.Product, error)
	adjustFn    func(context.Context, []domain.StockAdjustment) error
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, fakeRepoError{notFound: true}
}

func (s *stubProductRepo) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findByIDsFn != nil {
		return s.findByIDsFn(ctx, productIDs)
	}
	return map[string]domain.Product{}, nil
}

func (s *stubProductRepo) AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) error {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, adjustments)
	}
	return nil
}

type stubUserRepo struct {
	insertFn      func(context.Context, domain.User) error
	updateFn      func(context.Context, domain.User) error
	findFn        func(context.Context, string) (domain.User, error)
	findByEmailFn func(context.Context, string) (domain.User, error)
	listFn        func(context.Context, repositories.UserListFilter) (domain.CursorPage[domain.User], error)
}

func (s *stubUserRepo) Insert(ctx context.Context, user domain.User) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, user)
	}
	return nil
}

func (s *stubUserRepo) Update(ctx context.Context, user domain.User) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, user)
	}
	return nil
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findFn != nil {
		return s.findFn(ctx, userID)
	}
	return domain.User{ID: userID, Email: "shopper@example.com", UserName: "Shopper"}, nil
}

func (s *stubUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if s.findByEmailFn != nil {
		return s.findByEmailFn(ctx, email)
	}
	return domain.User{}, fakeRepoError{notFound: true}
}

func (s *stubUserRepo) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.User]{}, nil
}

type stubDiscountRepo struct {
	insertFn func(context.Context, domain.Discount) error
	updateFn func(context.Context, domain.Discount) error
	deleteFn func(context.Context, string) error
	findFn   func(context.Context, string) (domain.Discount, error)
	listFn   func(context.Context, repositories.DiscountListFilter) (domain.CursorPage[domain.Discount], error)
}

func (s *stubDiscountRepo) Insert(ctx context.Context, discount domain.Discount) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, discount)
	}
	return nil
}

func (s *stubDiscountRepo) Update(ctx context.Context, discount domain.Discount) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, discount)
	}
	return nil
}

func (s *stubDiscountRepo) Delete(ctx context.Context, discountID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, discountID)
	}
	return nil
}

func (s *stubDiscountRepo) FindByID(ctx context.Context, discountID string) (domain.Discount, error) {
	if s.findFn != nil {
		return s.findFn(ctx, discountID)
	}
	return domain.Discount{}, fakeRepoError{notFound: true}
}

func (s *stubDiscountRepo) List(ctx context.Context, filter repositories.DiscountListFilter) (domain.CursorPage[domain.Discount], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Discount]{}, nil
}

type stubGateway struct {
	createFn func(context.Context, payments.PaymentContext, payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	lookupFn func(context.Context, payments.PaymentContext, payments.LookupRequest) (payments.PaymentDetails, error)
}

func (s *stubGateway) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.createFn != nil {
		return s.createFn(ctx, paymentCtx, req)
	}
	return payments.CheckoutSession{}, errors.New("not implemented")
}

func (s *stubGateway) LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, paymentCtx, req)
	}
	return payments.PaymentDetails{}, errors.New("not implemented")
}

type captureOrderEvents struct {
	events []domain.OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event domain.OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type notifyCall struct {
	order   domain.Order
	email   string
	name    string
	trigger domain.TriggeredBy
}

type captureNotifier struct {
	calls []notifyCall
}

func (c *captureNotifier) NotifyOrderStatusAsync(_ context.Context, order domain.Order, email, name string, trigger domain.TriggeredBy) {
	c.calls = append(c.calls, notifyCall{order: order, email: email, name: name, trigger: trigger})
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func pendingWalletOrder(now time.Time) domain.Order {
	return domain.Order{
		ID:            "ord_01TEST",
		UserID:        "usr_01TEST",
		CartRef:       "crt_01TEST",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodWallet,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentRef:    "pidx_123",
		TotalAmount:   130000,
		Items: []domain.OrderItem{
			{ProductID: "prd_1", Title: "Adjustable Dumbbell", UnitPrice: 65000, Quantity: 2},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderServiceCancelPendingReleasesStock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	events := &captureOrderEvents{}
	notifier := &captureNotifier{}

	stored := pendingWalletOrder(now)
	stored.PaymentMethod = domain.PaymentMethodCOD
	stored.StockAdjusted = true

	var transition repositories.OrderTransition
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != stored.ID {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return stored, nil
		},
		transitionFn: func(_ context.Context, req repositories.OrderTransition) (domain.Order, error) {
			transition = req
			updated := stored
			updated.Status = req.To
			updated.StockAdjusted = false
			return updated, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Users:    &stubUserRepo{},
		Events:   events,
		Notifier: notifier,
		Clock:    fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	updated, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: stored.ID, UserID: stored.UserID})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}
	if transition.To != domain.OrderStatusCancelled {
		t.Fatalf("unexpected transition target %s", transition.To)
	}
	if !transition.ReleaseStock {
		t.Fatal("expected cancellation to release stock")
	}
	if len(transition.From) != 1 || transition.From[0] != domain.OrderStatusPending {
		t.Fatalf("unexpected from set %v", transition.From)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventStatusChanged {
		t.Fatalf("unexpected events %v", events.events)
	}
	if len(notifier.calls) != 1 || notifier.calls[0].trigger != domain.TriggeredByCustomer {
		t.Fatalf("unexpected notifications %v", notifier.calls)
	}
}

func TestOrderServiceCancelGuards(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

	stored := pendingWalletOrder(now)
	stored.Status = domain.OrderStatusConfirmed

	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: orders,
		Users:  &stubUserRepo{},
		Clock:  fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: stored.ID, UserID: stored.UserID}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state for confirmed order, got %v", err)
	}

	if _, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: stored.ID, UserID: "usr_other"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign order, got %v", err)
	}
}

func TestOrderServiceUpdateStatusDeliveredForcesPaid(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)

	stored := pendingWalletOrder(now)
	stored.Status = domain.OrderStatusShipped

	var transition repositories.OrderTransition
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		transitionFn: func(_ context.Context, req repositories.OrderTransition) (domain.Order, error) {
			transition = req
			updated := stored
			updated.Status = req.To
			updated.IsPaid = true
			updated.PaymentStatus = domain.PaymentStatusCompleted
			return updated, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: orders,
		Users:  &stubUserRepo{},
		Clock:  fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	updated, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: stored.ID, Status: domain.OrderStatusDelivered})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}

	if !transition.ForcePaid {
		t.Fatal("expected delivery to force the paid flags")
	}
	if transition.ReleaseStock {
		t.Fatal("delivery must not release stock")
	}
	if !updated.IsPaid || updated.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected paid order, got %+v", updated)
	}
}

func TestOrderServiceUpdateStatusRejectsTerminalAndUnknown(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)

	stored := pendingWalletOrder(now)
	stored.Status = domain.OrderStatusDelivered

	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: orders,
		Users:  &stubUserRepo{},
		Clock:  fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: stored.ID, Status: domain.OrderStatusShipped}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state for delivered order, got %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: stored.ID, Status: "misplaced"}); !errors.Is(err, ErrOrderUnsupportedStatus) {
		t.Fatalf("expected unsupported status, got %v", err)
	}
}

func TestOrderServiceReconcileCompleted(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC)
	events := &captureOrderEvents{}
	notifier := &captureNotifier{}

	stored := pendingWalletOrder(now)

	var completion repositories.PaymentCompletion
	var deletedCart string
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		completeFn: func(_ context.Context, req repositories.PaymentCompletion) (domain.Order, bool, error) {
			completion = req
			updated := stored
			updated.Status = domain.OrderStatusConfirmed
			updated.PaymentStatus = domain.PaymentStatusCompleted
			updated.IsPaid = true
			updated.StockAdjusted = true
			return updated, true, nil
		},
	}
	carts := &stubCartRepo{
		deleteFn: func(_ context.Context, cartID string) error {
			deletedCart = cartID
			return nil
		},
	}
	gateway := &stubGateway{
		lookupFn: func(_ context.Context, _ payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
			if req.IntentID != "pidx_123" {
				t.Fatalf("unexpected intent id %s", req.IntentID)
			}
			return payments.PaymentDetails{
				Status: payments.StatusSucceeded,
				Amount: stored.TotalAmount,
			}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Carts:    carts,
		Users:    &stubUserRepo{},
		Gateway:  gateway,
		Events:   events,
		Notifier: notifier,
		Clock:    fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	updated, err := svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: stored.ID})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if completion.PaymentRef != "pidx_123" {
		t.Fatalf("unexpected payment ref %s", completion.PaymentRef)
	}
	if updated.Status != domain.OrderStatusConfirmed || !updated.IsPaid {
		t.Fatalf("unexpected order %+v", updated)
	}
	if deletedCart != stored.CartRef {
		t.Fatalf("expected cart %s deleted, got %q", stored.CartRef, deletedCart)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventPaymentCompleted {
		t.Fatalf("unexpected events %v", events.events)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
}

func TestOrderServiceReconcileDuplicateCallbackIsNoop(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC)
	events := &captureOrderEvents{}
	notifier := &captureNotifier{}

	stored := pendingWalletOrder(now)
	settled := stored
	settled.Status = domain.OrderStatusConfirmed
	settled.PaymentStatus = domain.PaymentStatusCompleted
	settled.IsPaid = true

	cartDeletes := 0
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		completeFn: func(context.Context, repositories.PaymentCompletion) (domain.Order, bool, error) {
			return settled, false, nil
		},
	}
	carts := &stubCartRepo{
		deleteFn: func(context.Context, string) error {
			cartDeletes++
			return nil
		},
	}
	gateway := &stubGateway{
		lookupFn: func(context.Context, payments.PaymentContext, payments.LookupRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{Status: payments.StatusSucceeded, Amount: stored.TotalAmount}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Carts:    carts,
		Users:    &stubUserRepo{},
		Gateway:  gateway,
		Events:   events,
		Notifier: notifier,
		Clock:    fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	updated, err := svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: stored.ID})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if updated.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected settled order back, got %+v", updated)
	}
	if cartDeletes != 0 {
		t.Fatal("duplicate callback must not touch the cart")
	}
	if len(events.events) != 0 || len(notifier.calls) != 0 {
		t.Fatal("duplicate callback must not emit events or mail")
	}
}

func TestOrderServiceReconcileAmountMismatch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC)

	stored := pendingWalletOrder(now)

	flagged := false
	completed := false
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		reviewFn: func(_ context.Context, orderID string, _ time.Time) (domain.Order, error) {
			flagged = true
			updated := stored
			updated.ManualReview = true
			return updated, nil
		},
		completeFn: func(context.Context, repositories.PaymentCompletion) (domain.Order, bool, error) {
			completed = true
			return domain.Order{}, false, nil
		},
	}
	gateway := &stubGateway{
		lookupFn: func(context.Context, payments.PaymentContext, payments.LookupRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{Status: payments.StatusSucceeded, Amount: stored.TotalAmount - 5000}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:  orders,
		Users:   &stubUserRepo{},
		Gateway: gateway,
		Clock:   fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: stored.ID}); !errors.Is(err, ErrPaymentAmountMismatch) {
		t.Fatalf("expected amount mismatch, got %v", err)
	}
	if !flagged {
		t.Fatal("expected the order to be flagged for manual review")
	}
	if completed {
		t.Fatal("mismatched amounts must never settle the payment")
	}
}

func TestOrderServiceReconcileLookupFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC)

	stored := pendingWalletOrder(now)

	mutated := false
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		completeFn: func(context.Context, repositories.PaymentCompletion) (domain.Order, bool, error) {
			mutated = true
			return domain.Order{}, false, nil
		},
		failFn: func(context.Context, string, time.Time) (domain.Order, error) {
			mutated = true
			return domain.Order{}, nil
		},
	}
	gateway := &stubGateway{
		lookupFn: func(context.Context, payments.PaymentContext, payments.LookupRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{}, errors.New("gateway timeout")
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:  orders,
		Users:   &stubUserRepo{},
		Gateway: gateway,
		Clock:   fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: stored.ID}); !errors.Is(err, ErrPaymentVerification) {
		t.Fatalf("expected verification error, got %v", err)
	}
	if mutated {
		t.Fatal("lookup failure must not change any state")
	}
}

func TestOrderServiceReconcileFailedPayment(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC)
	events := &captureOrderEvents{}

	stored := pendingWalletOrder(now)

	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		failFn: func(_ context.Context, orderID string, _ time.Time) (domain.Order, error) {
			updated := stored
			updated.PaymentStatus = domain.PaymentStatusFailed
			return updated, nil
		},
	}
	gateway := &stubGateway{
		lookupFn: func(context.Context, payments.PaymentContext, payments.LookupRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{Status: payments.StatusFailed, Amount: stored.TotalAmount}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:  orders,
		Users:   &stubUserRepo{},
		Gateway: gateway,
		Events:  events,
		Clock:   fixedClock(now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	updated, err := svc.ReconcilePayment(ctx, ReconcilePaymentCommand{OrderID: stored.ID})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if updated.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment, got %+v", updated)
	}
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("order must stay pending for a retry, got %s", updated.Status)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventPaymentFailed {
		t.Fatalf("unexpected events %v", events.events)
	}
}
