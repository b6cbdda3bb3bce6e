package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/fitmart/api/internal/domain"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = 64 * 1024
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(r *http.Request, limit int64, dst any) error {
	data, err := readLimitedBody(r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// Shared JSON payload shapes --------------------------------------------------

type addressPayload struct {
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	Pincode     string `json:"pincode"`
	Phone       string `json:"phone"`
	Country     string `json:"country,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		AddressLine: strings.TrimSpace(addr.AddressLine),
		City:        strings.TrimSpace(addr.City),
		Pincode:     strings.TrimSpace(addr.Pincode),
		Phone:       strings.TrimSpace(addr.Phone),
		Country:     strings.TrimSpace(addr.Country),
		Notes:       strings.TrimSpace(addr.Notes),
	}
}

func addressFromPayload(p addressPayload) domain.Address {
	return domain.Address{
		AddressLine: strings.TrimSpace(p.AddressLine),
		City:        strings.TrimSpace(p.City),
		Pincode:     strings.TrimSpace(p.Pincode),
		Phone:       strings.TrimSpace(p.Phone),
		Country:     strings.TrimSpace(p.Country),
		Notes:       strings.TrimSpace(p.Notes),
	}
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Image     string `json:"image,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Items          []orderItemPayload `json:"items"`
	Address        addressPayload     `json:"address"`
	Status         string             `json:"status"`
	PaymentMethod  string             `json:"payment_method"`
	PaymentStatus  string             `json:"payment_status"`
	PaymentRef     string             `json:"payment_ref,omitempty"`
	TaxAmount      int64              `json:"tax_amount"`
	ShippingAmount int64              `json:"shipping_amount"`
	TotalAmount    int64              `json:"total_amount"`
	IsPaid         bool               `json:"is_paid"`
	ManualReview   bool               `json:"manual_review,omitempty"`
	CreatedAt      string             `json:"created_at,omitempty"`
	UpdatedAt      string             `json:"updated_at,omitempty"`
	PaidAt         string             `json:"paid_at,omitempty"`
	DeliveredAt    string             `json:"delivered_at,omitempty"`
	CancelledAt    string             `json:"cancelled_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Title:     item.Title,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal(),
		})
	}

	return orderPayload{
		ID:             order.ID,
		UserID:         order.UserID,
		Items:          items,
		Address:        buildAddressPayload(order.Address),
		Status:         string(order.Status),
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentRef:     order.PaymentRef,
		TaxAmount:      order.TaxAmount,
		ShippingAmount: order.ShippingAmount,
		TotalAmount:    order.TotalAmount,
		IsPaid:         order.IsPaid,
		ManualReview:   order.ManualReview,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		PaidAt:         formatTimePtr(order.PaidAt),
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
		CancelledAt:    formatTimePtr(order.CancelledAt),
	}
}

func buildOrderList(page domain.CursorPage[domain.Order]) ordersResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return ordersResponse{Orders: items, NextPageToken: page.NextPageToken}
}

type ordersResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type userPayload struct {
	ID        string `json:"id"`
	UserName  string `json:"user_name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Verified  bool   `json:"verified"`
	CreatedAt string `json:"created_at,omitempty"`
}

func buildUserPayload(user domain.User) userPayload {
	return userPayload{
		ID:        user.ID,
		UserName:  user.UserName,
		Email:     user.Email,
		Role:      string(user.Role),
		Verified:  user.Verified,
		CreatedAt: formatTime(user.CreatedAt),
	}
}

type discountPayload struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Percentage int    `json:"percentage"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func buildDiscountPayload(discount domain.Discount) discountPayload {
	return discountPayload{
		ID:         discount.ID,
		Category:   discount.Category,
		Percentage: discount.Percentage,
		Active:     discount.Active,
		CreatedAt:  formatTime(discount.CreatedAt),
		UpdatedAt:  formatTime(discount.UpdatedAt),
	}
}
