package services

import (
	"context"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/repositories"
)

// priceCart joins cart lines with the catalog and applies any active category
// discount. Lines whose product no longer exists are reported in missing and
// excluded from the totals; the caller decides whether that is an error.
func priceCart(ctx context.Context, products repositories.ProductRepository, discounts repositories.DiscountRepository, cart domain.Cart) (domain.PricedCart, []string, error) {
	priced := domain.PricedCart{
		ID:        cart.ID,
		UserID:    cart.UserID,
		UpdatedAt: cart.UpdatedAt,
	}
	if len(cart.Items) == 0 {
		return priced, nil, nil
	}

	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}

	catalog, err := products.FindByIDs(ctx, ids)
	if err != nil {
		return domain.PricedCart{}, nil, err
	}

	var missing []string
	discountCache := map[string]*domain.Discount{}

	for _, item := range cart.Items {
		product, ok := catalog[item.ProductID]
		if !ok {
			missing = append(missing, item.ProductID)
			continue
		}

		unit := product.EffectivePrice()
		final := unit

		discount, err := activeDiscount(ctx, discounts, product.Category, discountCache)
		if err != nil {
			return domain.PricedCart{}, nil, err
		}
		if discount != nil {
			final = discount.Apply(unit)
		}

		priced.Items = append(priced.Items, domain.PricedCartItem{
			ProductID:  product.ID,
			Title:      product.Title,
			Image:      product.Image,
			UnitPrice:  unit,
			FinalPrice: final,
			Quantity:   item.Quantity,
			Discount:   discount,
		})
		priced.Subtotal += unit * int64(item.Quantity)
		priced.Total += final * int64(item.Quantity)
	}

	priced.Savings = priced.Subtotal - priced.Total
	return priced, missing, nil
}

// activeDiscount resolves the active discount for a category, memoised per
// pricing pass so a cart full of one category costs one query.
func activeDiscount(ctx context.Context, discounts repositories.DiscountRepository, category string, cache map[string]*domain.Discount) (*domain.Discount, error) {
	if discounts == nil || category == "" {
		return nil, nil
	}
	if cached, ok := cache[category]; ok {
		return cached, nil
	}

	page, err := discounts.List(ctx, repositories.DiscountListFilter{
		Category:   category,
		ActiveOnly: true,
		Pagination: domain.Pagination{PageSize: 1},
	})
	if err != nil {
		return nil, err
	}

	var discount *domain.Discount
	if len(page.Items) > 0 {
		d := page.Items[0]
		discount = &d
	}
	cache[category] = discount
	return discount, nil
}
