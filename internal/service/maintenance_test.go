package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tobyv/ledgerline/internal/database"
	"github.com/tobyv/ledgerline/internal/database/repository"
)

func TestResetWipesDataKeepsSchema(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := database.OpenMigrated(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	accts := &AccountService{DB: db}
	a, err := accts.CreateAccount(ctx, "Checking", false)
	require.NoError(t, err)

	batch := &BatchService{DB: db}
	_, err = batch.BatchUpdate(ctx, BatchArgs{
		Added: []repository.Transaction{{ID: uuid.NewString(), Account: a.ID, Amount: -1, Date: "2026-01-01"}},
	})
	require.NoError(t, err)

	m := &MaintenanceService{DB: db}
	require.NoError(t, m.Reset(ctx))

	var n int
	for _, table := range []string{"transactions", "payees", "accounts", "categories", "category_rules"} {
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		require.Zero(t, n, "table %s should be empty", table)
	}

	// schema intact: inserts still work
	b, err := accts.CreateAccount(ctx, "Fresh", false)
	require.NoError(t, err)
	require.NotNil(t, b)
}
