package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tobyv/ledgerline/internal/database/repository"
	"github.com/tobyv/ledgerline/internal/service"
	"github.com/tobyv/ledgerline/internal/syncbus"
)

func seedCmd() *cobra.Command {
	var months int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with demo accounts and transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			return seedDemo(cmd.Context(), db, months)
		},
	}
	cmd.Flags().IntVar(&months, "months", 3, "months of history to generate")
	return cmd
}

var demoPayees = []struct {
	name     string
	category string
	min, max int64
}{
	{"Green Grocer", "Groceries", 1200, 9500},
	{"Corner Cafe", "Restaurants", 450, 3200},
	{"Metro Transit", "Transport", 250, 700},
	{"City Power", "Bills", 4000, 12000},
	{"Streamflix", "Subscriptions", 999, 1899},
	{"General Store", "General", 500, 6000},
}

// seedDemo builds a small but realistic dataset: a few accounts with
// their transfer payees, regular spending against learned payees, a
// monthly salary and a monthly transfer into savings. Everything goes
// through the batch engine so sort orders, mirrors and rules come out
// exactly as they would in normal use.
func seedDemo(ctx context.Context, db *sql.DB, months int) error {
	bus := syncbus.New()
	accounts := &service.AccountService{DB: db, Bus: bus}
	batch := &service.BatchService{DB: db, Bus: bus, Learner: &service.Learner{DB: db}}

	checking, err := accounts.CreateAccount(ctx, "Checking", false)
	if err != nil {
		return err
	}
	savings, err := accounts.CreateAccount(ctx, "Savings", false)
	if err != nil {
		return err
	}
	if _, err := accounts.CreateAccount(ctx, "Mortgage", true); err != nil {
		return err
	}

	payeeRepo := repository.NewPayeeRepo(db)
	catRepo := repository.NewCategoryRepo(db)
	cats, err := catRepo.List(ctx)
	if err != nil {
		return err
	}
	catByName := make(map[string]string, len(cats))
	for _, c := range cats {
		catByName[c.Name] = c.ID
	}

	payeeIDs := make([]string, len(demoPayees))
	for i, p := range demoPayees {
		id := uuid.NewString()
		if err := payeeRepo.Insert(ctx, repository.Payee{ID: id, Name: p.name}); err != nil {
			return err
		}
		payeeIDs[i] = id
	}
	employer := uuid.NewString()
	if err := payeeRepo.Insert(ctx, repository.Payee{ID: employer, Name: "Acme Corp"}); err != nil {
		return err
	}
	toSavings, err := payeeRepo.TransferPayeeFor(ctx, savings.ID)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(42))
	start := time.Now().AddDate(0, -months, 0)
	var added []repository.Transaction

	for day := 0; day < months*30; day++ {
		date := start.AddDate(0, 0, day).Format("2006-01-02")
		for n := rng.Intn(3); n > 0; n-- {
			i := rng.Intn(len(demoPayees))
			p := demoPayees[i]
			cat := catByName[p.category]
			added = append(added, repository.Transaction{
				ID:       uuid.NewString(),
				Account:  checking.ID,
				Amount:   -(p.min + rng.Int63n(p.max-p.min)),
				Date:     date,
				Payee:    &payeeIDs[i],
				Category: &cat,
			})
		}
		if start.AddDate(0, 0, day).Day() == 1 {
			income := catByName["Income"]
			added = append(added, repository.Transaction{
				ID:       uuid.NewString(),
				Account:  checking.ID,
				Amount:   420000,
				Date:     date,
				Payee:    &employer,
				Category: &income,
			})
			added = append(added, repository.Transaction{
				ID:      uuid.NewString(),
				Account: checking.ID,
				Amount:  -50000,
				Date:    date,
				Payee:   &toSavings.ID,
			})
		}
	}

	res, err := batch.BatchUpdate(ctx, service.BatchArgs{
		Added:           added,
		RunTransfers:    true,
		LearnCategories: true,
	})
	if err != nil {
		return err
	}
	logrus.WithField("transactions", len(res.Added)).Info("demo data seeded")
	if len(res.Errors) > 0 {
		return fmt.Errorf("seed finished with %d row errors", len(res.Errors))
	}
	return nil
}
