package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/fitmart/api/internal/domain"
	pfirestore "github.com/fitmart/api/internal/platform/firestore"
	"github.com/fitmart/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists shopping carts. A user has at most one active cart;
// the order transaction deletes it on commit.
type CartRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{provider: provider, base: base}, nil
}

// Get loads the cart by document id.
func (r *CartRepository) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart get: cart id is required")
	}
	doc, err := r.base.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetByUser loads the user's active cart.
func (r *CartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart get: user id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userRef", "==", userID).Limit(1)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	if len(docs) == 0 {
		return domain.Cart{}, pfirestore.WrapError("carts.getByUser",
			status.Errorf(codes.NotFound, "cart for user %s not found", userID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Upsert writes the cart document.
func (r *CartRepository) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart upsert: cart id is required")
	}
	if strings.TrimSpace(cart.UserID) == "" {
		return domain.Cart{}, errors.New("cart upsert: user id is required")
	}

	doc := newCartDocument(cart)
	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Cart{}, err
	}
	saved := doc.toDomain(cartID)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Delete removes the cart. Deleting an absent cart is not an error.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return errors.New("cart delete: cart id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	if _, err := client.Collection(cartCollection).Doc(cartID).Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type cartDocument struct {
	UserRef   string             `firestore:"userRef"`
	Items     []cartItemDocument `firestore:"items"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductRef string `firestore:"productRef"`
	Quantity   int    `firestore:"qty"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartItemDocument{
			ProductRef: strings.TrimSpace(item.ProductID),
			Quantity:   item.Quantity,
		}
	}
	createdAt := cart.CreatedAt.UTC()
	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	if createdAt.IsZero() {
		createdAt = updatedAt
	}
	return cartDocument{
		UserRef:   strings.TrimSpace(cart.UserID),
		Items:     items,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

func (d cartDocument) toDomain(id string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ProductID: strings.TrimSpace(item.ProductRef),
			Quantity:  item.Quantity,
		}
	}
	return domain.Cart{
		ID:        id,
		UserID:    strings.TrimSpace(d.UserRef),
		Items:     items,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
