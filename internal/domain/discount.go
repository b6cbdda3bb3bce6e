package domain

import "time"

// Discount is a flat percentage off every product in a category, managed from
// the back office.
type Discount struct {
	ID         string
	Category   string
	Percentage int
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Apply returns price reduced by the discount percentage, in paisa. Rounding
// is toward zero so the store never undercharges by a full paisa.
func (d Discount) Apply(price int64) int64 {
	if d.Percentage <= 0 || d.Percentage >= 100 {
		return price
	}
	return price - price*int64(d.Percentage)/100
}
