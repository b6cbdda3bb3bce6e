package domain

import "time"

// Product is the catalog view this service needs: identity, pricing, and the
// stock counter the order lifecycle decrements and restores.
type Product struct {
	ID            string
	Title         string
	Category      string
	Image         string
	Price         int64
	SalePrice     int64
	StockQuantity int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EffectivePrice returns the sale price when one is set, the list price
// otherwise, in paisa.
func (p Product) EffectivePrice() int64 {
	if p.SalePrice > 0 && p.SalePrice < p.Price {
		return p.SalePrice
	}
	return p.Price
}

// StockAdjustment is one line of an all-or-nothing stock change. Negative
// Delta reserves stock, positive Delta releases it.
type StockAdjustment struct {
	ProductID string
	Delta     int
}
