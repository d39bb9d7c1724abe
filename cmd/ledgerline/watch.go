package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tobyv/ledgerline/internal/database/repository"
	"github.com/tobyv/ledgerline/internal/live"
	"github.com/tobyv/ledgerline/internal/query"
	"github.com/tobyv/ledgerline/internal/service"
	"github.com/tobyv/ledgerline/internal/syncbus"
)

func watchCmd() *cobra.Command {
	var mutate bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to a live transaction query and print updates",
		Long: "Runs a paged live query over the transactions table and prints a line " +
			"whenever its data changes. With --mutate, a background loop keeps writing " +
			"random batches so the subscription has something to react to.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			return watch(cmd.Context(), db, cfg.Query.PageSize, mutate)
		},
	}
	cmd.Flags().BoolVar(&mutate, "mutate", false, "write random batches while watching")
	return cmd
}

func watch(ctx context.Context, db *sql.DB, pageSize int, mutate bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	bus := syncbus.New()
	exec := query.NewExecutor(db)

	q := query.New("transactions").OrderBy("sort_order", query.Desc)
	pq := live.NewPagedQuery(live.PagedConfig{
		Config: live.Config{
			Runner: exec,
			Bus:    bus,
			Query:  q,
			OnData: func(data, prev []query.Row) {
				fmt.Printf("rows loaded: %d (was %d)\n", len(data), len(prev))
			},
			OnError: func(err error) {
				logrus.WithError(err).Error("live query fetch failed")
			},
		},
		PageCount: pageSize,
	})
	if err := pq.Run(ctx); err != nil {
		return err
	}
	defer pq.Unsubscribe()
	fmt.Printf("subscribed, %d total rows\n", pq.TotalCount())

	if !mutate {
		<-ctx.Done()
		return nil
	}

	batch := &service.BatchService{DB: db, Bus: bus, Learner: &service.Learner{DB: db}}
	accts, err := repository.NewAccountRepo(db).List(ctx)
	if err != nil {
		return err
	}
	if len(accts) == 0 {
		return fmt.Errorf("no accounts; run `ledgerline seed` first")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			acct := accts[rng.Intn(len(accts))]
			_, err := batch.BatchUpdate(ctx, service.BatchArgs{
				Added: []repository.Transaction{{
					ID:      uuid.NewString(),
					Account: acct.ID,
					Amount:  -rng.Int63n(10000),
					Date:    time.Now().Format("2006-01-02"),
				}},
				RunTransfers: true,
			})
			if err != nil {
				logrus.WithError(err).Error("batch write failed")
			}
		}
	}
}
