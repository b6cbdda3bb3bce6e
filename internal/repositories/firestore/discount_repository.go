package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/fitmart/api/internal/domain"
	pfirestore "github.com/fitmart/api/internal/platform/firestore"
	"github.com/fitmart/api/internal/repositories"
)

const (
	discountCollection = "discounts"
)

// DiscountRepository stores category discounts. The collection stays small so
// listings are unpaged beyond the requested size.
type DiscountRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[discountDocument]
}

// NewDiscountRepository constructs a Firestore-backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[discountDocument](provider, discountCollection, nil, nil)
	return &DiscountRepository{provider: provider, base: base}, nil
}

// Insert creates the discount document.
func (r *DiscountRepository) Insert(ctx context.Context, discount domain.Discount) error {
	if r == nil || r.base == nil {
		return errors.New("discount repository not initialised")
	}
	if strings.TrimSpace(discount.ID) == "" {
		return errors.New("discount insert: discount id is required")
	}
	ref, err := r.base.DocumentRef(ctx, discount.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newDiscountDocument(discount)); err != nil {
		return pfirestore.WrapError("discounts.insert", err)
	}
	return nil
}

// Update rewrites the discount document.
func (r *DiscountRepository) Update(ctx context.Context, discount domain.Discount) error {
	if r == nil || r.base == nil {
		return errors.New("discount repository not initialised")
	}
	if strings.TrimSpace(discount.ID) == "" {
		return errors.New("discount update: discount id is required")
	}
	if _, err := r.base.Set(ctx, discount.ID, newDiscountDocument(discount)); err != nil {
		return err
	}
	return nil
}

// Delete removes the discount.
func (r *DiscountRepository) Delete(ctx context.Context, discountID string) error {
	if r == nil || r.provider == nil {
		return errors.New("discount repository not initialised")
	}
	discountID = strings.TrimSpace(discountID)
	if discountID == "" {
		return errors.New("discount delete: discount id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("discounts.delete", err)
	}
	if _, err := client.Collection(discountCollection).Doc(discountID).Delete(ctx); err != nil {
		return pfirestore.WrapError("discounts.delete", err)
	}
	return nil
}

// FindByID loads a single discount.
func (r *DiscountRepository) FindByID(ctx context.Context, discountID string) (domain.Discount, error) {
	if r == nil || r.base == nil {
		return domain.Discount{}, errors.New("discount repository not initialised")
	}
	discountID = strings.TrimSpace(discountID)
	if discountID == "" {
		return domain.Discount{}, errors.New("discount find: discount id is required")
	}
	doc, err := r.base.Get(ctx, discountID)
	if err != nil {
		return domain.Discount{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns discounts matching the filter.
func (r *DiscountRepository) List(ctx context.Context, filter repositories.DiscountListFilter) (domain.CursorPage[domain.Discount], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Discount]{}, errors.New("discount repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category := strings.TrimSpace(filter.Category); category != "" {
			q = q.Where("category", "==", category)
		}
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		return q.Limit(pageSize)
	})
	if err != nil {
		return domain.CursorPage[domain.Discount]{}, err
	}

	discounts := make([]domain.Discount, 0, len(docs))
	for _, doc := range docs {
		discounts = append(discounts, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.Discount]{Items: discounts}, nil
}

// Helper structures ---------------------------------------------------------

type discountDocument struct {
	Category   string    `firestore:"category"`
	Percentage int       `firestore:"percentage"`
	Active     bool      `firestore:"active"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func newDiscountDocument(discount domain.Discount) discountDocument {
	return discountDocument{
		Category:   strings.TrimSpace(discount.Category),
		Percentage: discount.Percentage,
		Active:     discount.Active,
		CreatedAt:  discount.CreatedAt.UTC(),
		UpdatedAt:  discount.UpdatedAt.UTC(),
	}
}

func (d discountDocument) toDomain(id string) domain.Discount {
	return domain.Discount{
		ID:         id,
		Category:   strings.TrimSpace(d.Category),
		Percentage: d.Percentage,
		Active:     d.Active,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

var _ repositories.DiscountRepository = (*DiscountRepository)(nil)
