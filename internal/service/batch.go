package service

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/tobyv/ledgerline/internal/database"
	"github.com/tobyv/ledgerline/internal/database/repository"
	"github.com/tobyv/ledgerline/internal/sortorder"
	"github.com/tobyv/ledgerline/internal/syncbus"
)

// BatchService applies transaction mutations atomically and publishes
// one sync event per committed batch, so live queries refetch once no
// matter how many rows changed.
type BatchService struct {
	DB      *sql.DB
	Bus     *syncbus.Bus
	Learner *Learner
	Log     logrus.FieldLogger
}

// BatchArgs is one batch of transaction mutations.
type BatchArgs struct {
	Added   []repository.Transaction
	Updated []repository.TransactionUpdate
	Deleted []string

	// RunTransfers reconciles transfer mirrors after the batch commits.
	RunTransfers bool
	// LearnCategories records payee-to-category associations from the
	// categorized rows in this batch.
	LearnCategories bool
	// DetectOrphanPayees publishes payees this batch left without any
	// transaction.
	DetectOrphanPayees bool
}

// BatchError is a per-row error surfaced in the result.
type BatchError struct {
	ID      string
	Message string
}

// BatchResult holds the post-commit state of every touched row.
type BatchResult struct {
	Added   []repository.Transaction
	Updated []repository.Transaction
	Deleted []repository.Transaction
	Errors  []BatchError
}

// BatchUpdate applies adds, updates and deletes in one transaction.
// Deleting a split parent deletes its children too. Added rows without
// a sort order get one allocated per date. Categories are dropped from
// split parents and off-budget accounts. When enabled, transfer mirrors
// are reconciled in a follow-up transaction and orphaned payees are
// announced on the bus.
func (s *BatchService) BatchUpdate(ctx context.Context, args BatchArgs) (BatchResult, error) {
	var res BatchResult
	txRepo := repository.NewTransactionRepo(s.DB)

	// Expand deletes: removing a split parent removes the whole split.
	deleted := append([]string(nil), args.Deleted...)
	if len(deleted) > 0 {
		children, err := txRepo.ChildIDs(ctx, deleted)
		if err != nil {
			return res, err
		}
		deleted = appendMissing(deleted, children)
	}

	// Snapshot rows about to disappear; transfer teardown and orphan
	// detection need their pre-delete state.
	deletedRows, err := txRepo.GetMany(ctx, deleted)
	if err != nil {
		return res, err
	}

	// Payees the updates are about to repoint away from. Only these can
	// become orphans through this batch.
	candidatePayees := make(map[string]struct{})
	for _, u := range args.Updated {
		if _, ok := u.Fields["payee"]; !ok {
			continue
		}
		cur, err := txRepo.Get(ctx, u.ID)
		if err != nil {
			return res, err
		}
		if cur != nil && cur.Payee != nil {
			candidatePayees[*cur.Payee] = struct{}{}
		}
	}
	for _, t := range deletedRows {
		if t.Payee != nil {
			candidatePayees[*t.Payee] = struct{}{}
		}
	}

	added := append([]repository.Transaction(nil), args.Added...)

	err = s.batch(ctx, func(tx *sql.Tx) error {
		repo := repository.NewTransactionRepo(tx)
		accounts := repository.NewAccountRepo(tx)

		if err := s.assignSortOrders(ctx, repo, added); err != nil {
			return err
		}

		offBudget := make(map[string]bool)
		accountOff := func(id string) (bool, error) {
			if off, ok := offBudget[id]; ok {
				return off, nil
			}
			a, err := accounts.Get(ctx, id)
			if err != nil {
				return false, err
			}
			off := a != nil && a.OffBudget
			offBudget[id] = off
			return off, nil
		}

		for i := range added {
			if added[i].Category != nil {
				off, err := accountOff(added[i].Account)
				if err != nil {
					return err
				}
				if added[i].IsParent || off {
					added[i].Category = nil
				}
			}
			if err := repo.Insert(ctx, added[i]); err != nil {
				return err
			}
		}

		for _, id := range deleted {
			if err := repo.Delete(ctx, id); err != nil {
				return err
			}
		}

		for _, u := range args.Updated {
			fields := u.Fields
			if v, ok := fields["category"]; ok && v != nil {
				drop, err := s.mustDropCategory(ctx, repo, accountOff, u)
				if err != nil {
					return err
				}
				if drop {
					fields = cloneFields(fields)
					fields["category"] = nil
				}
			}
			if err := repo.Update(ctx, u.ID, fields); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	addedIDs := transactionIDs(args.Added)
	updatedIDs := make([]string, 0, len(args.Updated))
	for _, u := range args.Updated {
		updatedIDs = append(updatedIDs, u.ID)
	}

	res.Deleted = deletedRows
	if res.Added, err = txRepo.GetMany(ctx, addedIDs); err != nil {
		return res, err
	}
	if res.Updated, err = txRepo.GetMany(ctx, updatedIDs); err != nil {
		return res, err
	}

	if args.RunTransfers && len(res.Added)+len(res.Updated)+len(res.Deleted) > 0 {
		err = s.batch(ctx, func(tx *sql.Tx) error {
			eng := newTransferEngine(tx)
			for i := range res.Added {
				if err := eng.OnInsert(ctx, &res.Added[i]); err != nil {
					return err
				}
			}
			for i := range res.Updated {
				if err := eng.OnUpdate(ctx, &res.Updated[i]); err != nil {
					return err
				}
			}
			for i := range res.Deleted {
				if err := eng.OnDelete(ctx, &res.Deleted[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		// Re-read: reconciliation may have linked, repointed or cleared
		// the rows we just returned.
		if res.Added, err = txRepo.GetMany(ctx, addedIDs); err != nil {
			return res, err
		}
		if res.Updated, err = txRepo.GetMany(ctx, updatedIDs); err != nil {
			return res, err
		}
	}

	if args.LearnCategories && s.Learner != nil {
		learn := append([]repository.Transaction(nil), res.Added...)
		touched := make(map[string]struct{})
		for _, u := range args.Updated {
			if _, ok := u.Fields["category"]; ok {
				touched[u.ID] = struct{}{}
			}
		}
		for _, t := range res.Updated {
			if _, ok := touched[t.ID]; ok {
				learn = append(learn, t)
			}
		}
		if err := s.Learner.LearnFromTransactions(ctx, learn); err != nil {
			s.logger().WithError(err).Warn("category learning failed")
		}
	}

	if args.DetectOrphanPayees && len(candidatePayees) > 0 {
		orphaned, err := repository.NewPayeeRepo(s.DB).Orphaned(ctx)
		if err != nil {
			return res, err
		}
		var became []string
		for _, id := range orphaned {
			if _, ok := candidatePayees[id]; ok {
				became = append(became, id)
			}
		}
		if len(became) > 0 && s.Bus != nil {
			s.Bus.Publish(syncbus.OrphanedPayeesName, became)
		}
	}

	for _, u := range args.Updated {
		if u.Err != "" {
			res.Errors = append(res.Errors, BatchError{ID: u.ID, Message: u.Err})
		}
	}
	return res, nil
}

// batch runs fn in a transaction and, on commit, announces the change
// on the bus so subscribed queries refetch.
func (s *BatchService) batch(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := database.WithTx(s.DB, fn); err != nil {
		return err
	}
	if s.Bus != nil {
		s.Bus.Publish(syncbus.SyncEventName, syncbus.Event{
			Type:   syncbus.TypeApplied,
			Tables: []string{"transactions"},
		})
	}
	return nil
}

// assignSortOrders allocates sort orders for added rows that lack one,
// seeding each date's counter from the rows already stored on that date.
func (s *BatchService) assignSortOrders(ctx context.Context, repo *repository.TransactionRepo, added []repository.Transaction) error {
	var need []int
	var dates []string
	seen := make(map[string]struct{})
	for i := range added {
		if added[i].SortOrder != nil {
			continue
		}
		need = append(need, i)
		if _, ok := seen[added[i].Date]; !ok {
			seen[added[i].Date] = struct{}{}
			dates = append(dates, added[i].Date)
		}
	}
	if len(need) == 0 {
		return nil
	}

	stored, err := repo.ByDates(ctx, dates)
	if err != nil {
		return err
	}
	existing := make([]sortorder.Row, len(stored))
	for i, t := range stored {
		existing[i] = sortorder.Row{Date: t.Date, SortOrder: t.SortOrder}
	}
	add := make([]sortorder.Row, len(need))
	for i, idx := range need {
		add[i] = sortorder.Row{Date: added[idx].Date}
	}

	assigned, err := sortorder.AssignBatch(add, existing)
	if err != nil {
		return err
	}
	for i, idx := range need {
		so := assigned[i].SortOrder
		added[idx].SortOrder = &so
		if assigned[i].SeqAtLimit {
			s.logger().WithFields(logrus.Fields{
				"date": added[idx].Date,
				"id":   added[idx].ID,
			}).Warn("sort-order sequence saturated for date")
		}
	}
	return nil
}

// mustDropCategory decides whether an update that sets a category must
// have it cleared instead: split parents and off-budget accounts never
// carry one. The patch may itself change the account or parent flag, so
// patched values win over stored ones.
func (s *BatchService) mustDropCategory(ctx context.Context, repo *repository.TransactionRepo, accountOff func(string) (bool, error), u repository.TransactionUpdate) (bool, error) {
	cur, err := repo.Get(ctx, u.ID)
	if err != nil {
		return false, err
	}
	if cur == nil {
		return false, nil
	}

	isParent := cur.IsParent
	if v, ok := u.Fields["is_parent"]; ok {
		isParent = truthy(v)
	}
	if isParent {
		return true, nil
	}

	account := cur.Account
	if v, ok := u.Fields["account"]; ok {
		if s, ok := v.(string); ok {
			account = s
		}
	}
	return accountOff(account)
}

func (s *BatchService) logger() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	default:
		return false
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func transactionIDs(ts []repository.Transaction) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func appendMissing(base, extra []string) []string {
	have := make(map[string]struct{}, len(base))
	for _, id := range base {
		have[id] = struct{}{}
	}
	for _, id := range extra {
		if _, ok := have[id]; !ok {
			have[id] = struct{}{}
			base = append(base, id)
		}
	}
	return base
}
