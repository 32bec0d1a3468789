package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/finledger/finledger/internal/database/repository"
)

type seedCategory struct {
	name  string
	ctype string
}

var systemCategories = []seedCategory{
	{"Salary", "income"},
	{"Interest", "income"},
	{"Other Income", "income"},
	{"Groceries", "expense"},
	{"Rent", "expense"},
	{"Utilities", "expense"},
	{"Transport", "expense"},
	{"Dining", "expense"},
	{"Shopping", "expense"},
	{"Health", "expense"},
	{"Entertainment", "expense"},
	{"EMI", "expense"},
	{"Other Expense", "expense"},
	{"Transfer", "transfer"},
}

// SeedDefaults ensures the immutable system categories exist for the owner.
// It is idempotent and safe to run on every startup: system category ids are
// derived deterministically from their names so re-seeding never duplicates.
func SeedDefaults(ctx context.Context, db *sql.DB, ownerID string) error {
	catRepo := repository.NewCategoryRepo(db)
	now := Now()
	for idx, sc := range systemCategories {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("syscat:"+ownerID+":"+sc.name)).String()
		cat := repository.Category{
			ID:        id,
			OwnerID:   ownerID,
			Name:      sc.name,
			Type:      sc.ctype,
			IsSystem:  true,
			SortOrder: idx,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := catRepo.Upsert(ctx, cat); err != nil {
			return err
		}
	}
	return nil
}
