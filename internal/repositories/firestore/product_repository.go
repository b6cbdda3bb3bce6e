package firestore

import (
	"context"
	"errors"
	"fmt"
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
	productCollection = "products"
)

// ProductRepository reads catalog documents and owns the standalone atomic
// stock adjustment used by cancellation and back-office restocks.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{provider: provider, base: base}, nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product find: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs loads the given products keyed by id; missing ids are absent from
// the result rather than an error.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		refs = append(refs, client.Collection(productCollection).Doc(id))
	}
	if len(refs) == 0 {
		return map[string]domain.Product{}, nil
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}

	out := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		out[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return out, nil
}

// AdjustStock applies every adjustment in a single transaction. All guards
// are evaluated before any write so the group either fully commits or leaves
// stock untouched.
func (r *ProductRepository) AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(adjustments) == 0 {
		return nil
	}

	now := time.Now().UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		writes := make([]pending, 0, len(adjustments))
		for _, adj := range adjustments {
			productID := strings.TrimSpace(adj.ProductID)
			if productID == "" {
				return repositories.NewStockError(repositories.StockErrorUnknown, "", "stock adjust: product id is required", nil)
			}
			ref, err := r.base.DocumentRef(ctx, productID)
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
			next := doc.TotalStock + adj.Delta
			if next < 0 {
				return repositories.NewStockError(repositories.StockErrorInsufficient, productID, fmt.Sprintf("insufficient stock for %s", productID), nil)
			}
			doc.TotalStock = next
			doc.UpdatedAt = now
			writes = append(writes, pending{ref: ref, doc: doc})
		}
		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStockError("products.adjustStock", err)
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Title      string    `firestore:"title"`
	Category   string    `firestore:"category"`
	Image      string    `firestore:"image,omitempty"`
	Price      int64     `firestore:"price"`
	SalePrice  int64     `firestore:"salePrice,omitempty"`
	TotalStock int       `firestore:"totalStock"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		Title:         strings.TrimSpace(d.Title),
		Category:      strings.TrimSpace(d.Category),
		Image:         strings.TrimSpace(d.Image),
		Price:         d.Price,
		SalePrice:     d.SalePrice,
		StockQuantity: d.TotalStock,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
