package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/payments"
	"github.com/fitmart/api/internal/repositories"
)

const checkoutCurrency = "NPR"

var (
	// ErrCheckoutInvalidInput signals the caller provided invalid data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates the user has nothing to order.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutProductNotFound indicates a cart line references a product
	// that no longer exists.
	ErrCheckoutProductNotFound = errors.New("checkout: product not found")
	// ErrCheckoutOutOfStock indicates a line exceeds available stock. Nothing
	// was reserved.
	ErrCheckoutOutOfStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutPaymentSession indicates the wallet provider could not open a
	// session. The caller may retry.
	ErrCheckoutPaymentSession = errors.New("checkout: payment session could not be created")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Discounts   repositories.DiscountRepository
	Users       repositories.UserRepository
	Gateway     PaymentGateway
	Events      OrderEventPublisher
	Notifier    OrderNotifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	discounts repositories.DiscountRepository
	users     repositories.UserRepository
	gateway   PaymentGateway
	events    OrderEventPublisher
	notifier  OrderNotifier
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("checkout service: user repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:    deps.Orders,
		carts:     deps.Carts,
		products:  deps.Products,
		discounts: deps.Discounts,
		users:     deps.Users,
		gateway:   deps.Gateway,
		events:    deps.Events,
		notifier:  deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (CheckoutResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.Address.Country) == "" {
		cmd.Address.Country = domain.DefaultCountry
	}
	if !cmd.Address.Complete() {
		return CheckoutResult{}, fmt.Errorf("%w: shipping address is incomplete", ErrCheckoutInvalidInput)
	}
	if cmd.TaxAmount < 0 || cmd.ShippingAmount < 0 {
		return CheckoutResult{}, fmt.Errorf("%w: tax and shipping amounts must not be negative", ErrCheckoutInvalidInput)
	}

	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD:
	case domain.PaymentMethodWallet:
		if strings.TrimSpace(cmd.ReturnURL) == "" {
			return CheckoutResult{}, fmt.Errorf("%w: return url is required for wallet payments", ErrCheckoutInvalidInput)
		}
		if s.gateway == nil {
			return CheckoutResult{}, errors.New("checkout: payment gateway not configured")
		}
	default:
		return CheckoutResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return CheckoutResult{}, s.mapRepositoryError(err)
	}

	cart, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return CheckoutResult{}, fmt.Errorf("%w: no active cart", ErrCheckoutEmptyCart)
		}
		return CheckoutResult{}, s.mapRepositoryError(err)
	}
	if len(cart.Items) == 0 {
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}

	priced, missing, err := priceCart(ctx, s.products, s.discounts, cart)
	if err != nil {
		return CheckoutResult{}, s.mapRepositoryError(err)
	}
	if len(missing) > 0 {
		return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutProductNotFound, strings.Join(missing, ", "))
	}

	now := s.now()
	order := domain.Order{
		ID:             orderIDPrefix + s.newID(),
		UserID:         userID,
		CartRef:        cart.ID,
		Items:          buildOrderItems(priced.Items),
		Address:        cmd.Address,
		Status:         domain.OrderStatusPending,
		PaymentMethod:  cmd.PaymentMethod,
		PaymentStatus:  domain.PaymentStatusPending,
		TaxAmount:      cmd.TaxAmount,
		ShippingAmount: cmd.ShippingAmount,
		TotalAmount:    priced.Total + cmd.TaxAmount + cmd.ShippingAmount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD:
		return s.placeCashOnDelivery(ctx, order, cart, user, now)
	default:
		return s.placeWallet(ctx, order, cmd, user, now)
	}
}

// placeCashOnDelivery reserves stock, writes the order, and consumes the cart
// in one transaction.
func (s *checkoutService) placeCashOnDelivery(ctx context.Context, order domain.Order, cart domain.Cart, user domain.User, now time.Time) (CheckoutResult, error) {
	placed, err := s.orders.PlaceWithStock(ctx, repositories.PlaceOrderRequest{
		Order:  order,
		CartID: cart.ID,
		Now:    now,
	})
	if err != nil {
		return CheckoutResult{}, s.mapStockError(err)
	}

	s.afterPlacement(ctx, placed, user)
	return CheckoutResult{Order: placed}, nil
}

// placeWallet opens the hosted payment session first so the stored order
// already carries its payment reference. Stock stays untouched until the
// provider confirms settlement.
func (s *checkoutService) placeWallet(ctx context.Context, order domain.Order, cmd PlaceOrderCommand, user domain.User, now time.Time) (CheckoutResult, error) {
	session, err := s.gateway.CreateCheckoutSession(ctx, payments.PaymentContext{PreferredProvider: cmd.Provider}, payments.CheckoutSessionRequest{
		OrderID:  order.ID,
		Amount:   order.TotalAmount,
		Currency: checkoutCurrency,
		Customer: payments.CustomerInfo{
			Name:  user.UserName,
			Email: user.Email,
			Phone: cmd.Address.Phone,
		},
		ReturnURL: cmd.ReturnURL,
		Items:     buildCheckoutLineItems(order.Items),
		Metadata:  map[string]string{"orderId": order.ID},
	})
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentSession, err)
	}

	order.PaymentRef = session.ID
	if err := s.orders.Insert(ctx, order); err != nil {
		return CheckoutResult{}, s.mapRepositoryError(err)
	}

	s.afterPlacement(ctx, order, user)
	return CheckoutResult{
		Order:      order,
		PaymentURL: session.RedirectURL,
		PaymentRef: session.ID,
	}, nil
}

func (s *checkoutService) afterPlacement(ctx context.Context, order domain.Order, user domain.User) {
	if s.events != nil {
		event := domain.OrderEvent{
			Type:        orderEventCreated,
			OrderID:     order.ID,
			UserID:      order.UserID,
			Status:      order.Status,
			TriggeredBy: domain.TriggeredByCustomer,
			OccurredAt:  s.now(),
		}
		if err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.logger(ctx, "order.event.publish.failed", map[string]any{
				"type":  event.Type,
				"order": event.OrderID,
				"error": err.Error(),
			})
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyOrderStatusAsync(ctx, order, user.Email, user.UserName, domain.TriggeredByCustomer)
	}
}

func (s *checkoutService) mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrCheckoutOutOfStock, stockErr.ProductID)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrCheckoutProductNotFound, stockErr.ProductID)
		}
	}
	return s.mapRepositoryError(err)
}

func (s *checkoutService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("checkout: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *checkoutService) now() time.Time {
	return s.clock()
}

func buildOrderItems(lines []domain.PricedCartItem) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Title:     line.Title,
			Image:     line.Image,
			UnitPrice: line.FinalPrice,
			Quantity:  line.Quantity,
		})
	}
	return items
}

func buildCheckoutLineItems(items []domain.OrderItem) []payments.CheckoutLineItem {
	lines := make([]payments.CheckoutLineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, payments.CheckoutLineItem{
			Name:     item.Title,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
		})
	}
	return lines
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
