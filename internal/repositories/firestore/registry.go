package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/fitmart/api/internal/platform/firestore"
	"github.com/fitmart/api/internal/repositories"
)

// Registry wires every Firestore repository behind the repositories.Registry
// contract for dependency injection.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	products  *ProductRepository
	carts     *CartRepository
	users     *UserRepository
	discounts *DiscountRepository
}

// NewRegistry constructs the full repository set on top of one provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	discounts, err := NewDiscountRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:  provider,
		orders:    orders,
		products:  products,
		carts:     carts,
		users:     users,
		discounts: discounts,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Discounts returns the discount repository.
func (r *Registry) Discounts() repositories.DiscountRepository { return r.discounts }

// RunInTx executes fn directly: the repository methods that need atomicity
// already run their own Firestore transactions.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
