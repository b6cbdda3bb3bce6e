package domain

import "time"

// CartItem is an unpriced cart line; prices come from the catalog when the
// cart is read or converted to an order.
type CartItem struct {
	ProductID string
	Quantity  int
}

// Cart aggregates the mutable shopping cart state for a user. A cart is
// deleted once its order is committed.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PricedCartItem is a cart line joined with the catalog and any active
// category discount.
type PricedCartItem struct {
	ProductID  string
	Title      string
	Image      string
	UnitPrice  int64
	FinalPrice int64
	Quantity   int
	Discount   *Discount
}

// PricedCart is the customer-facing cart view with server-computed totals.
type PricedCart struct {
	ID        string
	UserID    string
	Items     []PricedCartItem
	Subtotal  int64
	Savings   int64
	Total     int64
	UpdatedAt time.Time
}
