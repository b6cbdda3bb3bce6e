package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fitmart/api/internal/domain"
	"github.com/fitmart/api/internal/repositories"
)

const discountIDPrefix = "dsc_"

var (
	// ErrDiscountInvalidInput signals the caller provided invalid data.
	ErrDiscountInvalidInput = errors.New("discount: invalid input")
	// ErrDiscountNotFound indicates the discount could not be located.
	ErrDiscountNotFound = errors.New("discount: not found")
)

// DiscountServiceDeps bundles collaborators required to construct the discount service.
type DiscountServiceDeps struct {
	Discounts   repositories.DiscountRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type discountService struct {
	discounts repositories.DiscountRepository
	clock     func() time.Time
	newID     func() string
}

// NewDiscountService wires dependencies into a concrete DiscountService implementation.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount service: discount repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &discountService{
		discounts: deps.Discounts,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (s *discountService) CreateDiscount(ctx context.Context, cmd UpsertDiscountCommand) (Discount, error) {
	if err := validateDiscount(cmd); err != nil {
		return Discount{}, err
	}

	now := s.clock()
	discount := domain.Discount{
		ID:         discountIDPrefix + s.newID(),
		Category:   strings.TrimSpace(cmd.Category),
		Percentage: cmd.Percentage,
		Active:     cmd.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.discounts.Insert(ctx, discount); err != nil {
		return Discount{}, err
	}
	return discount, nil
}

func (s *discountService) UpdateDiscount(ctx context.Context, cmd UpsertDiscountCommand) (Discount, error) {
	discountID := strings.TrimSpace(cmd.DiscountID)
	if discountID == "" {
		return Discount{}, fmt.Errorf("%w: discount id is required", ErrDiscountInvalidInput)
	}
	if err := validateDiscount(cmd); err != nil {
		return Discount{}, err
	}

	discount, err := s.discounts.FindByID(ctx, discountID)
	if err != nil {
		return Discount{}, s.mapNotFound(err, discountID)
	}

	discount.Category = strings.TrimSpace(cmd.Category)
	discount.Percentage = cmd.Percentage
	discount.Active = cmd.Active
	discount.UpdatedAt = s.clock()

	if err := s.discounts.Update(ctx, discount); err != nil {
		return Discount{}, err
	}
	return discount, nil
}

func (s *discountService) DeleteDiscount(ctx context.Context, discountID string) error {
	discountID = strings.TrimSpace(discountID)
	if discountID == "" {
		return fmt.Errorf("%w: discount id is required", ErrDiscountInvalidInput)
	}
	if err := s.discounts.Delete(ctx, discountID); err != nil {
		return s.mapNotFound(err, discountID)
	}
	return nil
}

func (s *discountService) GetDiscount(ctx context.Context, discountID string) (Discount, error) {
	discountID = strings.TrimSpace(discountID)
	if discountID == "" {
		return Discount{}, fmt.Errorf("%w: discount id is required", ErrDiscountInvalidInput)
	}

	discount, err := s.discounts.FindByID(ctx, discountID)
	if err != nil {
		return Discount{}, s.mapNotFound(err, discountID)
	}
	return discount, nil
}

func (s *discountService) ListDiscounts(ctx context.Context, filter DiscountListFilter) (domain.CursorPage[Discount], error) {
	return s.discounts.List(ctx, filter)
}

func (s *discountService) mapNotFound(err error, discountID string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrDiscountNotFound, discountID)
	}
	return err
}

func validateDiscount(cmd UpsertDiscountCommand) error {
	if strings.TrimSpace(cmd.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrDiscountInvalidInput)
	}
	if cmd.Percentage <= 0 || cmd.Percentage >= 100 {
		return fmt.Errorf("%w: percentage must be between 1 and 99", ErrDiscountInvalidInput)
	}
	return nil
}
