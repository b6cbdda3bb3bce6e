package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/fitmart/api/internal/domain"
	pfirestore "github.com/fitmart/api/internal/platform/firestore"
	"github.com/fitmart/api/internal/repositories"
)

const (
	orderCollection = "orders"
)

// OrderRepository persists order documents and owns the transactions that
// keep order state and product stock consistent.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	products := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders, products: products}, nil
}

// Insert stores a new order document without touching stock.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: order id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}

	doc := newOrderDocument(order)
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order update: order id is required")
	}
	if _, err := r.orders.Set(ctx, order.ID, newOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: order id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order list: user id is required")
	}
	return r.list(ctx, userID, filter)
}

// List returns orders across all users for the back office, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, "", filter)
}

func (r *OrderRepository) list(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(orderCollection).Query
	if userID != "" {
		query = query.Where("userRef", "==", userID)
	}
	if len(filter.Status) > 0 {
		values := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			values[i] = string(s)
		}
		query = query.Where("orderStatus", "in", values)
	}
	if filter.Since != nil && !filter.Since.IsZero() {
		query = query.Where("createdAt", ">=", filter.Since.UTC())
	}
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt.UTC()})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// PlaceWithStock atomically decrements stock for every line, creates the
// order, and consumes the source cart.
func (r *OrderRepository) PlaceWithStock(ctx context.Context, req repositories.PlaceOrderRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order place: order id is required")
	}
	if len(order.Items) == 0 {
		return domain.Order{}, errors.New("order place: at least one item is required")
	}

	now := req.Now.UTC()
	order.StockAdjusted = true

	var placed domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}

		if err := r.decrementStockTx(ctx, tx, order.Items, now); err != nil {
			return err
		}

		doc := newOrderDocument(order)
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = now
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}

		if cartID := strings.TrimSpace(req.CartID); cartID != "" {
			client, err := r.provider.Client(ctx)
			if err != nil {
				return err
			}
			if err := tx.Delete(client.Collection(cartCollection).Doc(cartID)); err != nil {
				return err
			}
		}

		placed = doc.toDomain(order.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapStockError("orders.place", err)
	}
	return placed, nil
}

// ApplyTransition atomically moves the order to a new status.
func (r *OrderRepository) ApplyTransition(ctx context.Context, req repositories.OrderTransition) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order transition: order id is required")
	}
	if !req.To.Known() {
		return domain.Order{}, fmt.Errorf("order transition: unknown status %q", req.To)
	}

	now := req.Now.UTC()
	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		current := domain.OrderStatus(doc.Status)
		if !transitionAllowed(current, req.From) {
			return status.Errorf(codes.FailedPrecondition, "order %s status is %s", orderID, current)
		}

		if req.ReleaseStock && doc.StockAdjusted {
			if err := r.releaseStockTx(ctx, tx, doc.Items, now); err != nil {
				return err
			}
			doc.StockAdjusted = false
		}

		doc.Status = string(req.To)
		doc.UpdatedAt = now
		if req.ForcePaid {
			doc.IsPaid = true
			doc.PaymentStatus = string(domain.PaymentStatusCompleted)
			if doc.PaidAt == nil {
				doc.PaidAt = &now
			}
		}
		stampStatusTime(&doc, req.To, now)

		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapStockError("orders.transition", err)
	}
	return updated, nil
}

// CompletePayment settles the order payment, decrements stock, and confirms
// the order in one transaction. Replayed completions report applied=false and
// leave the document untouched.
func (r *OrderRepository) CompletePayment(ctx context.Context, req repositories.PaymentCompletion) (domain.Order, bool, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, false, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, false, errors.New("order complete payment: order id is required")
	}

	now := req.Now.UTC()
	var (
		settled domain.Order
		applied bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		if doc.PaymentStatus == string(domain.PaymentStatusCompleted) {
			settled = doc.toDomain(orderID)
			return nil
		}
		if current := domain.OrderStatus(doc.Status); current.Terminal() {
			return status.Errorf(codes.FailedPrecondition, "order %s already %s", orderID, current)
		}

		if !doc.StockAdjusted {
			if err := r.decrementStockTx(ctx, tx, doc.toDomain(orderID).Items, now); err != nil {
				return err
			}
			doc.StockAdjusted = true
		}

		doc.PaymentStatus = string(domain.PaymentStatusCompleted)
		doc.IsPaid = true
		doc.Status = string(domain.OrderStatusConfirmed)
		if ref := strings.TrimSpace(req.PaymentRef); ref != "" {
			doc.PaymentRef = ref
		}
		doc.PaidAt = &now
		doc.UpdatedAt = now

		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		settled = doc.toDomain(orderID)
		applied = true
		return nil
	})
	if err != nil {
		return domain.Order{}, false, wrapStockError("orders.completePayment", err)
	}
	return settled, applied, nil
}

// MarkPaymentFailed records the failed provider outcome without moving the
// order out of pending.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, orderID string, now time.Time) (domain.Order, error) {
	return r.patchPayment(ctx, orderID, now, func(doc *orderDocument) error {
		if doc.PaymentStatus == string(domain.PaymentStatusCompleted) {
			return status.Errorf(codes.FailedPrecondition, "order %s payment already completed", orderID)
		}
		doc.PaymentStatus = string(domain.PaymentStatusFailed)
		return nil
	})
}

// FlagManualReview marks the order for operator attention.
func (r *OrderRepository) FlagManualReview(ctx context.Context, orderID string, now time.Time) (domain.Order, error) {
	return r.patchPayment(ctx, orderID, now, func(doc *orderDocument) error {
		doc.ManualReview = true
		return nil
	})
}

func (r *OrderRepository) patchPayment(ctx context.Context, orderID string, now time.Time, mutate func(*orderDocument) error) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order update: order id is required")
	}

	ts := now.UTC()
	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if err := mutate(&doc); err != nil {
			return err
		}
		doc.UpdatedAt = ts
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.patchPayment", err)
	}
	return updated, nil
}

// decrementStockTx applies the stock guard for every line before any write.
func (r *OrderRepository) decrementStockTx(ctx context.Context, tx *firestore.Transaction, items []domain.OrderItem, now time.Time) error {
	type pending struct {
		ref *firestore.DocumentRef
		doc productDocument
	}
	writes := make([]pending, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return repositories.NewStockError(repositories.StockErrorUnknown, "", "stock: product id is required", nil)
		}
		if item.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorUnknown, productID, fmt.Sprintf("stock: quantity for %s must be > 0", productID), nil)
		}
		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}
		if doc.TotalStock < item.Quantity {
			return repositories.NewStockError(repositories.StockErrorInsufficient, productID, fmt.Sprintf("insufficient stock for %s", productID), nil)
		}
		doc.TotalStock -= item.Quantity
		doc.UpdatedAt = now
		writes = append(writes, pending{ref: ref, doc: doc})
	}
	for _, w := range writes {
		if err := tx.Set(w.ref, w.doc); err != nil {
			return err
		}
	}
	return nil
}

// releaseStockTx restores previously decremented stock. All reads happen
// before the first write; Firestore transactions forbid a read once a write
// has been staged.
func (r *OrderRepository) releaseStockTx(ctx context.Context, tx *firestore.Transaction, items []orderItemDocument, now time.Time) error {
	type pending struct {
		ref *firestore.DocumentRef
		doc productDocument
	}
	writes := make([]pending, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductRef)
		if productID == "" {
			continue
		}
		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				// Product removed from the catalog since the order was
				// placed; nothing left to restore.
				continue
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}
		doc.TotalStock += item.Quantity
		doc.UpdatedAt = now
		writes = append(writes, pending{ref: ref, doc: doc})
	}
	for _, w := range writes {
		if err := tx.Set(w.ref, w.doc); err != nil {
			return err
		}
	}
	return nil
}

func transitionAllowed(current domain.OrderStatus, from []domain.OrderStatus) bool {
	if len(from) == 0 {
		return !current.Terminal()
	}
	for _, allowed := range from {
		if current == allowed {
			return true
		}
	}
	return false
}

func stampStatusTime(doc *orderDocument, target domain.OrderStatus, now time.Time) {
	switch target {
	case domain.OrderStatusShipped, domain.OrderStatusInShipping:
		if doc.ShippedAt == nil {
			doc.ShippedAt = &now
		}
	case domain.OrderStatusDelivered:
		if doc.DeliveredAt == nil {
			doc.DeliveredAt = &now
		}
	case domain.OrderStatusCancelled, domain.OrderStatusRejected:
		if doc.CancelledAt == nil {
			doc.CancelledAt = &now
		}
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	UserRef        string              `firestore:"userRef"`
	CartRef        string              `firestore:"cartRef,omitempty"`
	Items          []orderItemDocument `firestore:"items"`
	Address        addressDocument     `firestore:"address"`
	Status         string              `firestore:"orderStatus"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	PaymentStatus  string              `firestore:"paymentStatus"`
	PaymentRef     string              `firestore:"paymentRef,omitempty"`
	TaxAmount      int64               `firestore:"taxAmount"`
	ShippingAmount int64               `firestore:"shippingAmount"`
	TotalAmount    int64               `firestore:"totalAmount"`
	IsPaid         bool                `firestore:"isPaid"`
	StockAdjusted  bool                `firestore:"stockAdjusted"`
	ManualReview   bool                `firestore:"manualReview,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	PaidAt         *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt      *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	Title      string `firestore:"title"`
	Image      string `firestore:"image,omitempty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int    `firestore:"qty"`
}

type addressDocument struct {
	AddressLine string `firestore:"address"`
	City        string `firestore:"city"`
	Pincode     string `firestore:"pincode"`
	Phone       string `firestore:"phone"`
	Country     string `firestore:"country"`
	Notes       string `firestore:"notes,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductRef: strings.TrimSpace(item.ProductID),
			Title:      strings.TrimSpace(item.Title),
			Image:      strings.TrimSpace(item.Image),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
		}
	}
	return orderDocument{
		UserRef: strings.TrimSpace(order.UserID),
		CartRef: strings.TrimSpace(order.CartRef),
		Items:   items,
		Address: addressDocument{
			AddressLine: strings.TrimSpace(order.Address.AddressLine),
			City:        strings.TrimSpace(order.Address.City),
			Pincode:     strings.TrimSpace(order.Address.Pincode),
			Phone:       strings.TrimSpace(order.Address.Phone),
			Country:     strings.TrimSpace(order.Address.Country),
			Notes:       strings.TrimSpace(order.Address.Notes),
		},
		Status:         string(order.Status),
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentRef:     strings.TrimSpace(order.PaymentRef),
		TaxAmount:      order.TaxAmount,
		ShippingAmount: order.ShippingAmount,
		TotalAmount:    order.TotalAmount,
		IsPaid:         order.IsPaid,
		StockAdjusted:  order.StockAdjusted,
		ManualReview:   order.ManualReview,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
		PaidAt:         order.PaidAt,
		ShippedAt:      order.ShippedAt,
		DeliveredAt:    order.DeliveredAt,
		CancelledAt:    order.CancelledAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductRef),
			Title:     strings.TrimSpace(item.Title),
			Image:     strings.TrimSpace(item.Image),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}
	return domain.Order{
		ID:      id,
		UserID:  strings.TrimSpace(d.UserRef),
		CartRef: strings.TrimSpace(d.CartRef),
		Items:   items,
		Address: domain.Address{
			AddressLine: strings.TrimSpace(d.Address.AddressLine),
			City:        strings.TrimSpace(d.Address.City),
			Pincode:     strings.TrimSpace(d.Address.Pincode),
			Phone:       strings.TrimSpace(d.Address.Phone),
			Country:     strings.TrimSpace(d.Address.Country),
			Notes:       strings.TrimSpace(d.Address.Notes),
		},
		Status:         domain.OrderStatus(d.Status),
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:  domain.PaymentStatus(d.PaymentStatus),
		PaymentRef:     strings.TrimSpace(d.PaymentRef),
		TaxAmount:      d.TaxAmount,
		ShippingAmount: d.ShippingAmount,
		TotalAmount:    d.TotalAmount,
		IsPaid:         d.IsPaid,
		StockAdjusted:  d.StockAdjusted,
		ManualReview:   d.ManualReview,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		PaidAt:         d.PaidAt,
		ShippedAt:      d.ShippedAt,
		DeliveredAt:    d.DeliveredAt,
		CancelledAt:    d.CancelledAt,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
