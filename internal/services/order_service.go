package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/payments"
	"github.com/fitmart/api/internal/repositories"
)

const (
	orderEventCreated          = "order.created"
	orderEventStatusChanged    = "order.status.changed"
	orderEventPaymentCompleted = "order.payment.completed"
	orderEventPaymentFailed    = "order.payment.failed"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates a transition out of a terminal status, or
	// a customer cancellation of an order past pending.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderUnsupportedStatus indicates a status value outside the known set.
	ErrOrderUnsupportedStatus = errors.New("order: unsupported status")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")

	// ErrPaymentVerification indicates the provider lookup failed before any
	// state was touched. Callers may retry.
	ErrPaymentVerification = errors.New("order: payment verification failed")
	// ErrPaymentAmountMismatch indicates the provider settled a different
	// amount than the order total. The order is flagged for manual review.
	ErrPaymentAmountMismatch = errors.New("order: payment amount mismatch")
)

// customerCancellableStatuses lists the statuses a customer may cancel from.
// The back office is deliberately less constrained.
var customerCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Carts    repositories.CartRepository
	Users    repositories.UserRepository
	Gateway  PaymentGateway
	Events   OrderEventPublisher
	Notifier OrderNotifier
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	carts    repositories.CartRepository
	users    repositories.UserRepository
	gateway  PaymentGateway
	events   OrderEventPublisher
	notifier OrderNotifier
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		carts:    deps.Carts,
		users:    deps.Users,
		gateway:  deps.Gateway,
		events:   deps.Events,
		notifier: deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListByUser(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListByUser(ctx, userID, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		if !status.Known() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %q", ErrOrderUnsupportedStatus, status)
		}
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	trigger := cmd.TriggeredBy
	if trigger == "" {
		trigger = domain.TriggeredByCustomer
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	var from []domain.OrderStatus
	switch trigger {
	case domain.TriggeredByCustomer:
		if current.UserID != strings.TrimSpace(cmd.UserID) {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if !statusIn(current.Status, customerCancellableStatuses) {
			return Order{}, fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderInvalidState, current.Status)
		}
		from = customerCancellableStatuses
	case domain.TriggeredByAdmin:
		if current.Status.Terminal() {
			return Order{}, fmt.Errorf("%w: %s is terminal", ErrOrderInvalidState, current.Status)
		}
	default:
		return Order{}, fmt.Errorf("%w: unknown trigger %q", ErrOrderInvalidInput, trigger)
	}

	updated, err := s.orders.ApplyTransition(ctx, repositories.OrderTransition{
		OrderID:      orderID,
		From:         from,
		To:           domain.OrderStatusCancelled,
		TriggeredBy:  trigger,
		ReleaseStock: true,
		Now:          s.now(),
	})
	if err != nil {
		return Order{}, s.mapTransitionError(err)
	}

	s.afterTransition(ctx, updated, current.Status, trigger)
	return updated, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Status.Known() {
		return Order{}, fmt.Errorf("%w: %q", ErrOrderUnsupportedStatus, cmd.Status)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if current.Status.Terminal() {
		return Order{}, fmt.Errorf("%w: %s is terminal", ErrOrderInvalidState, current.Status)
	}

	updated, err := s.orders.ApplyTransition(ctx, repositories.OrderTransition{
		OrderID:     orderID,
		To:          cmd.Status,
		TriggeredBy: domain.TriggeredByAdmin,
		// Cash collected on delivery settles the payment.
		ForcePaid:    cmd.Status == domain.OrderStatusDelivered,
		ReleaseStock: cmd.Status == domain.OrderStatusCancelled,
		Now:          s.now(),
	})
	if err != nil {
		return Order{}, s.mapTransitionError(err)
	}

	s.afterTransition(ctx, updated, current.Status, domain.TriggeredByAdmin)
	return updated, nil
}

func (s *orderService) ReconcilePayment(ctx context.Context, cmd ReconcilePaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if s.gateway == nil {
		return Order{}, errors.New("order: payment gateway not configured")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.PaymentMethod != domain.PaymentMethodWallet {
		return Order{}, fmt.Errorf("%w: order %s was not placed with a wallet payment", ErrOrderInvalidInput, orderID)
	}

	ref := strings.TrimSpace(cmd.PaymentRef)
	if ref == "" {
		ref = order.PaymentRef
	}
	if ref == "" {
		return Order{}, fmt.Errorf("%w: no payment reference for order %s", ErrOrderInvalidInput, orderID)
	}

	details, err := s.gateway.LookupPayment(ctx, payments.PaymentContext{PreferredProvider: cmd.Provider}, payments.LookupRequest{IntentID: ref})
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrPaymentVerification, err)
	}

	switch details.Status {
	case payments.StatusSucceeded:
		return s.settlePayment(ctx, order, ref, details)
	case payments.StatusPending:
		// Nothing settled yet; the caller retries later.
		s.logger(ctx, "order.payment.pending", map[string]any{
			"order":      order.ID,
			"paymentRef": ref,
		})
		return order, nil
	default:
		updated, err := s.orders.MarkPaymentFailed(ctx, order.ID, s.now())
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		s.publishEvent(ctx, domain.OrderEvent{
			Type:        orderEventPaymentFailed,
			OrderID:     updated.ID,
			UserID:      updated.UserID,
			Status:      updated.Status,
			Previous:    order.Status,
			TriggeredBy: domain.TriggeredByCustomer,
			OccurredAt:  s.now(),
		})
		return updated, nil
	}
}

// settlePayment applies a successful provider lookup onto the order. The
// repository guard makes duplicate callbacks a no-op.
func (s *orderService) settlePayment(ctx context.Context, order Order, ref string, details payments.PaymentDetails) (Order, error) {
	if details.Amount != order.TotalAmount {
		if _, flagErr := s.orders.FlagManualReview(ctx, order.ID, s.now()); flagErr != nil {
			s.logger(ctx, "order.payment.review.flag.failed", map[string]any{
				"order": order.ID,
				"error": flagErr.Error(),
			})
		}
		return Order{}, fmt.Errorf("%w: provider reported %d, order total %d", ErrPaymentAmountMismatch, details.Amount, order.TotalAmount)
	}

	updated, applied, err := s.orders.CompletePayment(ctx, repositories.PaymentCompletion{
		OrderID:    order.ID,
		PaymentRef: ref,
		Now:        s.now(),
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !applied {
		// Duplicate callback; the first delivery already settled everything.
		return updated, nil
	}

	s.deleteCart(ctx, updated)

	s.publishEvent(ctx, domain.OrderEvent{
		Type:        orderEventPaymentCompleted,
		OrderID:     updated.ID,
		UserID:      updated.UserID,
		Status:      updated.Status,
		Previous:    order.Status,
		TriggeredBy: domain.TriggeredByCustomer,
		OccurredAt:  s.now(),
	})
	s.notify(ctx, updated, domain.TriggeredByCustomer)

	return updated, nil
}

func (s *orderService) deleteCart(ctx context.Context, order Order) {
	if s.carts == nil || order.CartRef == "" {
		return
	}
	if err := s.carts.Delete(ctx, order.CartRef); err != nil {
		s.logger(ctx, "order.cart.delete.failed", map[string]any{
			"order": order.ID,
			"cart":  order.CartRef,
			"error": err.Error(),
		})
	}
}

func (s *orderService) afterTransition(ctx context.Context, order Order, previous domain.OrderStatus, trigger domain.TriggeredBy) {
	s.publishEvent(ctx, domain.OrderEvent{
		Type:        orderEventStatusChanged,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		Previous:    previous,
		TriggeredBy: trigger,
		OccurredAt:  s.now(),
	})
	s.notify(ctx, order, trigger)
}

// notify resolves the customer's address and hands the mail to the dispatcher.
// Failures are logged, never surfaced: the transition already committed.
func (s *orderService) notify(ctx context.Context, order Order, trigger domain.TriggeredBy) {
	if s.notifier == nil {
		return
	}
	user, err := s.users.FindByID(ctx, order.UserID)
	if err != nil {
		s.logger(ctx, "order.notify.recipient.failed", map[string]any{
			"order": order.ID,
			"user":  order.UserID,
			"error": err.Error(),
		})
		return
	}
	s.notifier.NotifyOrderStatusAsync(ctx, order, user.Email, user.UserName, trigger)
}

func (s *orderService) publishEvent(ctx context.Context, event domain.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// mapTransitionError reads a conflict from ApplyTransition as a lost race on
// the status precondition rather than a generic conflict.
func (s *orderService) mapTransitionError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func statusIn(status domain.OrderStatus, set []domain.OrderStatus) bool {
	return slices.Contains(set, status)
}
