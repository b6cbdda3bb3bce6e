package domain

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage wraps a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// DefaultCountry is assumed when checkout omits the destination country.
const DefaultCountry = "Nepal"

// Address captures the shipping destination collected at checkout.
type Address struct {
	AddressLine string
	City        string
	Pincode     string
	Phone       string
	Country     string
	Notes       string
}

// Complete reports whether the mandatory address fields are present.
func (a Address) Complete() bool {
	return a.AddressLine != "" && a.City != "" && a.Pincode != "" && a.Phone != "" && a.Country != ""
}
