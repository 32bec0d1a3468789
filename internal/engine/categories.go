package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/apperr"
	"github.com/finledger/finledger/internal/database/repository"
)

// CategoryInput describes a new user category.
type CategoryInput struct {
	Name      string
	Type      string
	Icon      *string
	SortOrder int
}

var categoryTypes = map[string]bool{"income": true, "expense": true, "transfer": true}

// CreateCategory creates a user category. System categories are seeded at
// startup and never pass through here.
func (e *Engine) CreateCategory(ctx context.Context, ownerID string, in CategoryInput) (*repository.Category, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.NewValidationError("category name is required")
	}
	if !categoryTypes[in.Type] {
		return nil, apperr.NewValidationError("unknown category type %q", in.Type)
	}

	var cat repository.Category
	err := e.withTx(func(r *repos) error {
		cat = repository.Category{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Name:      strings.TrimSpace(in.Name),
			Type:      in.Type,
			Icon:      in.Icon,
			SortOrder: in.SortOrder,
			CreatedAt: r.now,
			UpdatedAt: r.now,
		}
		if err := r.categories.Upsert(ctx, cat); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityCategory, cat.ID, OpCreate, cat)
	})
	if err != nil {
		return nil, err
	}
	return &cat, nil
}

// DeleteCategory refuses to delete system categories and categories still
// referenced by transactions.
func (e *Engine) DeleteCategory(ctx context.Context, ownerID, id string) error {
	return e.withTx(func(r *repos) error {
		cat, err := r.categories.Get(ctx, id)
		if err != nil {
			return err
		}
		if cat == nil || cat.OwnerID != ownerID {
			return apperr.NewNotFoundError("category", id)
		}
		if cat.IsSystem {
			return apperr.NewConflictError("category %q is a system category", id)
		}
		n, err := r.categories.TransactionCount(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.NewConflictError("category %q has %d transactions", id, n)
		}
		if err := r.categories.Delete(ctx, id); err != nil {
			return err
		}
		return r.recordChange(ctx, EntityCategory, id, OpDelete, cat)
	})
}

// ListCategories returns the owner's categories.
func (e *Engine) ListCategories(ctx context.Context, ownerID string) ([]repository.Category, error) {
	return e.read().categories.List(ctx, ownerID)
}
