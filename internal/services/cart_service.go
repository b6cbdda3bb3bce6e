package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/repositories"
)

const cartIDPrefix = "crt_"

var (
	// ErrCartInvalidInput signals the caller provided invalid data.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartProductNotFound indicates the referenced product does not exist.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartItemNotFound indicates the cart has no line for the product.
	ErrCartItemNotFound = errors.New("cart: item not found")
)

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Discounts   repositories.DiscountRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	discounts repositories.DiscountRepository
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
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

	return &cartService{
		carts:     deps.Carts,
		products:  deps.Products,
		discounts: deps.Discounts,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (PricedCart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return PricedCart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return PricedCart{UserID: userID}, nil
		}
		return PricedCart{}, err
	}

	priced, missing, err := priceCart(ctx, s.products, s.discounts, cart)
	if err != nil {
		return PricedCart{}, err
	}
	if len(missing) > 0 {
		// Stale lines for deleted products are dropped from the view only;
		// the stored cart keeps them until the user touches it again.
		s.logger(ctx, "cart.stale.lines", map[string]any{
			"cart":     cart.ID,
			"products": missing,
		})
	}
	return priced, nil
}

func (s *cartService) SetItem(ctx context.Context, cmd SetCartItemCommand) (PricedCart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PricedCart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return PricedCart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return PricedCart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		if isNotFound(err) {
			return PricedCart{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
		}
		return PricedCart{}, err
	}

	now := s.now()
	cart, err := s.carts.GetByUser(ctx, userID)
	switch {
	case isNotFound(err):
		cart = domain.Cart{
			ID:        cartIDPrefix + s.newID(),
			UserID:    userID,
			CreatedAt: now,
		}
	case err != nil:
		return PricedCart{}, err
	}

	updated := false
	for i, item := range cart.Items {
		if item.ProductID == productID {
			cart.Items[i].Quantity = cmd.Quantity
			updated = true
			break
		}
	}
	if !updated {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: productID, Quantity: cmd.Quantity})
	}
	cart.UpdatedAt = now

	return s.saveAndPrice(ctx, cart)
}

func (s *cartService) RemoveItem(ctx context.Context, userID string, productID string) (PricedCart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return PricedCart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return PricedCart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return PricedCart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, productID)
		}
		return PricedCart{}, err
	}

	kept := cart.Items[:0]
	found := false
	for _, item := range cart.Items {
		if item.ProductID == productID {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	if !found {
		return PricedCart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, productID)
	}
	cart.Items = kept
	cart.UpdatedAt = s.now()

	if len(cart.Items) == 0 {
		if err := s.carts.Delete(ctx, cart.ID); err != nil {
			return PricedCart{}, err
		}
		return PricedCart{UserID: userID}, nil
	}
	return s.saveAndPrice(ctx, cart)
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	return s.carts.Delete(ctx, cart.ID)
}

func (s *cartService) saveAndPrice(ctx context.Context, cart domain.Cart) (PricedCart, error) {
	saved, err := s.carts.Upsert(ctx, cart)
	if err != nil {
		return PricedCart{}, err
	}

	priced, _, err := priceCart(ctx, s.products, s.discounts, saved)
	if err != nil {
		return PricedCart{}, err
	}
	return priced, nil
}

func (s *cartService) now() time.Time {
	return s.clock()
}
