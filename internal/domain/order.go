package domain

import "time"

// OrderStatus tracks an order through fulfilment. The string values are the
// persisted wire format and must not change.
type OrderStatus string

const (
	// OrderStatusPending is the initial state for every new order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment completed or a manual confirmation.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates fulfilment has started.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusInProcess indicates the warehouse is picking the order.
	OrderStatusInProcess OrderStatus = "inProcess"
	// OrderStatusInShipping indicates the order was handed to the carrier.
	OrderStatusInShipping OrderStatus = "inShipping"
	// OrderStatusShipped indicates the carrier confirmed dispatch.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is terminal: the customer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal: the order was cancelled before dispatch.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRejected is terminal: the store declined the order.
	OrderStatusRejected OrderStatus = "rejected"
)

// KnownOrderStatuses lists every recognised order status value.
var KnownOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusInProcess,
	OrderStatusInShipping,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRejected,
}

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Known reports whether s is one of the recognised status values.
func (s OrderStatus) Known() bool {
	for _, known := range KnownOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// PaymentStatus tracks the money side of an order independently of fulfilment.
type PaymentStatus string

const (
	// PaymentStatusPending means no settlement has been confirmed yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted means the payment settled in full.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed means the wallet session ended without settlement.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded means a completed payment was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod selects the checkout payment path.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery: stock reserved at placement.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodWallet is a hosted digital-wallet session settled
	// asynchronously via a provider callback.
	PaymentMethodWallet PaymentMethod = "wallet"
)

// TriggeredBy identifies which side of the store caused a status change.
type TriggeredBy string

const (
	// TriggeredByCustomer marks customer-initiated transitions.
	TriggeredByCustomer TriggeredBy = "customer"
	// TriggeredByAdmin marks back-office transitions.
	TriggeredByAdmin TriggeredBy = "admin"
)

// OrderItem is a priced order line. UnitPrice is the catalog price captured at
// placement, in paisa.
type OrderItem struct {
	ProductID string
	Title     string
	Image     string
	UnitPrice int64
	Quantity  int
}

// Subtotal returns the line total in paisa.
func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Order is the aggregate root for the purchase lifecycle.
type Order struct {
	ID            string
	UserID        string
	CartRef       string
	Items         []OrderItem
	Address       Address
	Status        OrderStatus
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	PaymentRef    string
	// TaxAmount and ShippingAmount are in paisa and already included in
	// TotalAmount.
	TaxAmount      int64
	ShippingAmount int64
	TotalAmount    int64
	IsPaid         bool
	StockAdjusted  bool
	ManualReview   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
}

// ShortRef returns the human-facing order reference used in customer mails,
// the last six characters of the id.
func (o Order) ShortRef() string {
	if len(o.ID) <= 6 {
		return o.ID
	}
	return o.ID[len(o.ID)-6:]
}

// OrderEvent is published after a committed lifecycle change.
type OrderEvent struct {
	Type        string
	OrderID     string
	UserID      string
	Status      OrderStatus
	Previous    OrderStatus
	TriggeredBy TriggeredBy
	OccurredAt  time.Time
}
