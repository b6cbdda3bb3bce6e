package repositories

import (
	"context"
	"time"

	domain "github.com/fitmart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Carts() CartRepository
	Users() UserRepository
	Discounts() DiscountRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and owns the transactional
// operations that must commit stock and order state together.
type OrderRepository interface {
	// Insert stores a new order without touching inventory (wallet checkout:
	// stock is reserved only once the payment settles).
	Insert(ctx context.Context, order domain.Order) error
	// Update rewrites mutable order fields. Lifecycle changes go through
	// ApplyTransition or CompletePayment instead.
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// PlaceWithStock atomically decrements stock for every line, creates the
	// order, and deletes the source cart when CartID is set. Any line failing
	// the stock guard aborts the whole operation.
	PlaceWithStock(ctx context.Context, req PlaceOrderRequest) (domain.Order, error)
	// ApplyTransition atomically moves an order to a new status, optionally
	// forcing the paid flags and releasing reserved stock in the same
	// transaction. The update is rejected with a conflict when the stored
	// status is not in From.
	ApplyTransition(ctx context.Context, req OrderTransition) (domain.Order, error)
	// CompletePayment atomically marks the payment settled, decrements stock,
	// and confirms the order. It reports applied=false without modifying
	// anything when the payment is already completed, which makes duplicate
	// provider callbacks harmless.
	CompletePayment(ctx context.Context, req PaymentCompletion) (domain.Order, bool, error)
	// MarkPaymentFailed records a terminal provider outcome for the payment
	// attempt while leaving the order itself pending.
	MarkPaymentFailed(ctx context.Context, orderID string, now time.Time) (domain.Order, error)
	// FlagManualReview marks the order for operator attention after a
	// reconciliation mismatch.
	FlagManualReview(ctx context.Context, orderID string, now time.Time) (domain.Order, error)
}

// PlaceOrderRequest bundles the order, its stock decrements, and the cart to
// consume in a single transaction.
type PlaceOrderRequest struct {
	Order  domain.Order
	CartID string
	Now    time.Time
}

// OrderTransition describes an atomic status change.
type OrderTransition struct {
	OrderID string
	// From lists the statuses the stored order may currently hold. Empty
	// means any non-terminal status.
	From         []domain.OrderStatus
	To           domain.OrderStatus
	TriggeredBy  domain.TriggeredBy
	ForcePaid    bool
	ReleaseStock bool
	Now          time.Time
}

// PaymentCompletion carries the settlement data applied on successful
// reconciliation.
type PaymentCompletion struct {
	OrderID    string
	PaymentRef string
	Now        time.Time
}

// ProductRepository reads catalog entries and owns atomic stock adjustment.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs returns the products present in Firestore keyed by id; absent
	// ids are simply missing from the map.
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// AdjustStock applies every adjustment in one transaction. A negative
	// delta that would push stockQuantity below zero aborts the whole group
	// with a StockError.
	AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) error
}

// CartRepository owns cart persistence. One active cart per user.
type CartRepository interface {
	Get(ctx context.Context, cartID string) (domain.Cart, error)
	GetByUser(ctx context.Context, userID string) (domain.Cart, error)
	Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, cartID string) error
}

// UserRepository stores storefront accounts.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	List(ctx context.Context, filter UserListFilter) (domain.CursorPage[domain.User], error)
}

// DiscountRepository stores category discounts managed by the back office.
type DiscountRepository interface {
	Insert(ctx context.Context, discount domain.Discount) error
	Update(ctx context.Context, discount domain.Discount) error
	Delete(ctx context.Context, discountID string) error
	FindByID(ctx context.Context, discountID string) (domain.Discount, error)
	List(ctx context.Context, filter DiscountListFilter) (domain.CursorPage[domain.Discount], error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	Status     []domain.OrderStatus
	Since      *time.Time
	Pagination domain.Pagination
}

type UserListFilter struct {
	Role       *domain.UserRole
	Pagination domain.Pagination
}

type DiscountListFilter struct {
	Category   string
	ActiveOnly bool
	Pagination domain.Pagination
}
