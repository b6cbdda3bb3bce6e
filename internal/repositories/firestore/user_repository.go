package firestore

import (
	"context"
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
	userCollection = "users"
)

// UserRepository stores storefront accounts.
type UserRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{provider: provider, base: base}, nil
}

// Insert creates the account document. A duplicate id surfaces as a conflict.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user insert: user id is required")
	}
	ref, err := r.base.DocumentRef(ctx, user.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newUserDocument(user)); err != nil {
		return pfirestore.WrapError("users.insert", err)
	}
	return nil
}

// Update rewrites the account document.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user update: user id is required")
	}
	if _, err := r.base.Set(ctx, user.ID, newUserDocument(user)); err != nil {
		return err
	}
	return nil
}

// FindByID loads an account by document id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("user find: user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByEmail loads an account by its lowercased email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, errors.New("user find: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.findByEmail",
			status.Errorf(codes.NotFound, "user with email %s not found", email))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns accounts for the back office, newest first.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.User]{}, errors.New("user repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.User]{}, pfirestore.WrapError("users.list", err)
	}

	query := client.Collection(userCollection).Query
	if filter.Role != nil {
		query = query.Where("role", "==", string(*filter.Role))
	}
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.User]{}, pfirestore.WrapError("users.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var users []domain.User
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.User]{}, pfirestore.WrapError("users.list", err)
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.User]{}, fmt.Errorf("decode user %s: %w", snap.Ref.ID, err)
		}
		users = append(users, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(users) > pageSize
	if hasMore {
		users = users[:pageSize]
	}
	var nextToken string
	if hasMore && len(users) > 0 {
		last := users[len(users)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt.UTC()})
		if err != nil {
			return domain.CursorPage[domain.User]{}, pfirestore.WrapError("users.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.User]{Items: users, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type userDocument struct {
	UserName     string     `firestore:"userName"`
	Email        string     `firestore:"email"`
	PasswordHash string     `firestore:"passwordHash"`
	Role         string     `firestore:"role"`
	Verified     bool       `firestore:"verified"`
	OTPHash      string     `firestore:"otpHash,omitempty"`
	OTPExpiresAt *time.Time `firestore:"otpExpiresAt,omitempty"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
}

func newUserDocument(user domain.User) userDocument {
	return userDocument{
		UserName:     strings.TrimSpace(user.UserName),
		Email:        strings.ToLower(strings.TrimSpace(user.Email)),
		PasswordHash: user.PasswordHash,
		Role:         string(user.Role),
		Verified:     user.Verified,
		OTPHash:      user.OTPHash,
		OTPExpiresAt: user.OTPExpiresAt,
		CreatedAt:    user.CreatedAt.UTC(),
		UpdatedAt:    user.UpdatedAt.UTC(),
	}
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{
		ID:           id,
		UserName:     strings.TrimSpace(d.UserName),
		Email:        strings.TrimSpace(d.Email),
		PasswordHash: d.PasswordHash,
		Role:         domain.UserRole(d.Role),
		Verified:     d.Verified,
		OTPHash:      d.OTPHash,
		OTPExpiresAt: d.OTPExpiresAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

var _ repositories.UserRepository = (*UserRepository)(nil)
