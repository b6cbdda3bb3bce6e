package services

import (
	"context"
	"time"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/payments"
	"github.com/fitmart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination     = domain.Pagination
	SortOrder      = domain.SortOrder
	Address        = domain.Address
	Order          = domain.Order
	OrderItem      = domain.OrderItem
	OrderStatus    = domain.OrderStatus
	PaymentStatus  = domain.PaymentStatus
	PaymentMethod  = domain.PaymentMethod
	TriggeredBy    = domain.TriggeredBy
	Cart           = domain.Cart
	CartItem       = domain.CartItem
	PricedCart     = domain.PricedCart
	PricedCartItem = domain.PricedCartItem
	Product        = domain.Product
	User           = domain.User
	UserRole       = domain.UserRole
	Discount       = domain.Discount
)

// CheckoutService converts a cart into an order, branching on payment method:
// cash on delivery reserves stock immediately, wallet checkouts defer the
// reservation until the provider confirms settlement.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (CheckoutResult, error)
}

// OrderService owns the order lifecycle after placement: reads, status
// transitions, cancellation, and payment reconciliation.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	ReconcilePayment(ctx context.Context, cmd ReconcilePaymentCommand) (Order, error)
}

// CartService manages the mutable cart and prices it against the catalog on
// every read.
type CartService interface {
	GetCart(ctx context.Context, userID string) (PricedCart, error)
	SetItem(ctx context.Context, cmd SetCartItemCommand) (PricedCart, error)
	RemoveItem(ctx context.Context, userID string, productID string) (PricedCart, error)
	ClearCart(ctx context.Context, userID string) error
}

// UserService covers account registration, OTP verification, and login.
type UserService interface {
	Register(ctx context.Context, cmd RegisterCommand) (User, error)
	VerifyOTP(ctx context.Context, cmd VerifyOTPCommand) (AuthSession, error)
	RequestOTP(ctx context.Context, email string) error
	Login(ctx context.Context, cmd LoginCommand) (AuthSession, error)
	GetUser(ctx context.Context, userID string) (User, error)
	ListUsers(ctx context.Context, filter UserListFilter) (domain.CursorPage[User], error)
}

// DiscountService manages back-office category discounts.
type DiscountService interface {
	CreateDiscount(ctx context.Context, cmd UpsertDiscountCommand) (Discount, error)
	UpdateDiscount(ctx context.Context, cmd UpsertDiscountCommand) (Discount, error)
	DeleteDiscount(ctx context.Context, discountID string) error
	GetDiscount(ctx context.Context, discountID string) (Discount, error)
	ListDiscounts(ctx context.Context, filter DiscountListFilter) (domain.CursorPage[Discount], error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

// OrderNotifier delivers customer-facing status mails without blocking the
// calling request.
type OrderNotifier interface {
	NotifyOrderStatusAsync(ctx context.Context, order domain.Order, email, name string, trigger domain.TriggeredBy)
}

// OTPNotifier delivers one-time verification codes.
type OTPNotifier interface {
	NotifyOTP(ctx context.Context, email, name, code string, ttl time.Duration) bool
}

// PaymentGateway abstracts the payment provider manager for checkout and
// reconciliation.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// TokenIssuer mints signed session tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID string, role domain.UserRole) (token string, expiresAt time.Time, err error)
}

// Command and DTO definitions ------------------------------------------------

type OrderListFilter = repositories.OrderListFilter

type UserListFilter = repositories.UserListFilter

type DiscountListFilter = repositories.DiscountListFilter

// PlaceOrderCommand carries everything checkout needs to turn the user's cart
// into an order.
type PlaceOrderCommand struct {
	UserID        string
	Address       Address
	PaymentMethod PaymentMethod
	// TaxAmount and ShippingAmount are surcharges in paisa added on top of the
	// priced cart lines. Either may be zero.
	TaxAmount      int64
	ShippingAmount int64
	// ReturnURL is where the wallet provider redirects the shopper after the
	// hosted session. Required for wallet checkouts.
	ReturnURL string
	// Provider optionally pins a wallet provider; empty uses the default.
	Provider string
}

// CheckoutResult reports the created order plus the wallet redirect when the
// payment is settled out of band.
type CheckoutResult struct {
	Order Order
	// PaymentURL is the hosted payment page for wallet checkouts, empty for
	// cash on delivery.
	PaymentURL string
	// PaymentRef identifies the wallet session for later reconciliation.
	PaymentRef string
}

type CancelOrderCommand struct {
	OrderID string
	UserID  string
	// Admin cancellations skip the pending-only guard.
	TriggeredBy TriggeredBy
}

type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
}

// ReconcilePaymentCommand identifies a wallet session to verify against the
// provider and settle onto the order.
type ReconcilePaymentCommand struct {
	OrderID    string
	PaymentRef string
	Provider   string
}

type SetCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type RegisterCommand struct {
	UserName string
	Email    string
	Password string
}

type VerifyOTPCommand struct {
	Email string
	Code  string
}

type LoginCommand struct {
	Email    string
	Password string
}

// AuthSession is the result of a successful login or OTP verification.
type AuthSession struct {
	User      User
	Token     string
	ExpiresAt time.Time
}

type UpsertDiscountCommand struct {
	DiscountID string
	Category   string
	Percentage int
	Active     bool
}
