package service

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tobyv/ledgerline/internal/database"
	"github.com/tobyv/ledgerline/internal/database/repository"
	"github.com/tobyv/ledgerline/internal/syncbus"
)

// AccountService creates and lists accounts. Every account gets a
// companion transfer payee in the same transaction; pointing a
// transaction at that payee is what makes it a transfer.
type AccountService struct {
	DB  *sql.DB
	Bus *syncbus.Bus
}

func (s *AccountService) CreateAccount(ctx context.Context, name string, offBudget bool) (*repository.Account, error) {
	a := repository.Account{
		ID:        uuid.NewString(),
		Name:      name,
		OffBudget: offBudget,
	}
	err := database.WithTx(s.DB, func(tx *sql.Tx) error {
		if err := repository.NewAccountRepo(tx).Insert(ctx, a); err != nil {
			return err
		}
		return repository.NewPayeeRepo(tx).Insert(ctx, repository.Payee{
			ID:           uuid.NewString(),
			Name:         name,
			TransferAcct: &a.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	if s.Bus != nil {
		s.Bus.Publish(syncbus.SyncEventName, syncbus.Event{
			Type:   syncbus.TypeApplied,
			Tables: []string{"accounts", "payees"},
		})
	}
	return &a, nil
}

func (s *AccountService) ListAccounts(ctx context.Context) ([]repository.Account, error) {
	return repository.NewAccountRepo(s.DB).List(ctx)
}
