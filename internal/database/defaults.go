package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tobyv/ledgerline/internal/database/repository"
)

// SeedDefaults ensures baseline categories exist for new databases.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	catRepo := repository.NewCategoryRepo(db)
	existing, err := catRepo.List(ctx)
	if err == nil && len(existing) > 0 {
		return nil
	}
	defaults := []struct {
		name   string
		income bool
	}{
		{"Income", true},
		{"Groceries", false},
		{"Restaurants", false},
		{"Transport", false},
		{"Bills", false},
		{"Subscriptions", false},
		{"Savings", false},
		{"General", false},
	}
	for idx, d := range defaults {
		cat := repository.Category{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("cat:"+d.name)).String(),
			Name:      d.name,
			IsIncome:  d.income,
			SortOrder: int64(idx),
		}
		if err := catRepo.Upsert(ctx, cat); err != nil {
			return err
		}
	}
	return nil
}
