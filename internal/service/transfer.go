package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tobyv/ledgerline/internal/database/repository"
)

// transferAction is the four-way dispatch over (transfer account
// present, transfer_id present). Keeping it a closed enum makes the
// table exhaustive at the switch sites.
type transferAction int

const (
	transferNone transferAction = iota
	transferAdd
	transferRemove
	transferUpdate
)

func reconcileAction(hasAccount, hasTransferID bool) transferAction {
	switch {
	case hasAccount && !hasTransferID:
		return transferAdd
	case !hasAccount && hasTransferID:
		return transferRemove
	case hasAccount && hasTransferID:
		return transferUpdate
	default:
		return transferNone
	}
}

// transferEngine keeps a transaction's mirror in the counterpart account
// consistent. It always runs inside the batch transaction.
type transferEngine struct {
	transactions *repository.TransactionRepo
	payees       *repository.PayeeRepo
	accounts     *repository.AccountRepo

	// offbudget per account, cached for the life of one batch
	budgetStatus map[string]bool
}

func newTransferEngine(db repository.DBTX) *transferEngine {
	return &transferEngine{
		transactions: repository.NewTransactionRepo(db),
		payees:       repository.NewPayeeRepo(db),
		accounts:     repository.NewAccountRepo(db),
		budgetStatus: make(map[string]bool),
	}
}

// transferredAccount resolves the transfer destination via the
// transaction's payee: a payee with transfer_acct set means "transfer
// to/from that account".
func (e *transferEngine) transferredAccount(ctx context.Context, t *repository.Transaction) (*string, error) {
	if t.Payee == nil {
		return nil, nil
	}
	p, err := e.payees.Get(ctx, *t.Payee)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return p.TransferAcct, nil
}

// OnInsert creates the mirror side for a freshly added transfer
// transaction.
func (e *transferEngine) OnInsert(ctx context.Context, t *repository.Transaction) error {
	dest, err := e.transferredAccount(ctx, t)
	if err != nil {
		return err
	}
	if dest == nil || t.TransferID != nil {
		return nil
	}
	return e.addTransfer(ctx, t, *dest)
}

// OnUpdate reconciles the mirror after t changed.
func (e *transferEngine) OnUpdate(ctx context.Context, t *repository.Transaction) error {
	dest, err := e.transferredAccount(ctx, t)
	if err != nil {
		return err
	}
	switch reconcileAction(dest != nil, t.TransferID != nil) {
	case transferAdd:
		// a split parent never carries a transfer directly; the children do
		if t.IsParent {
			return nil
		}
		return e.addTransfer(ctx, t, *dest)
	case transferRemove:
		return e.removeTransfer(ctx, t)
	case transferUpdate:
		if t.IsParent {
			return e.removeTransfer(ctx, t)
		}
		return e.updateTransfer(ctx, t, *dest)
	case transferNone:
		return nil
	default:
		return fmt.Errorf("service: unhandled transfer action")
	}
}

// OnDelete tears down the mirror of a deleted transfer transaction.
func (e *transferEngine) OnDelete(ctx context.Context, t *repository.Transaction) error {
	if t.TransferID == nil {
		return nil
	}
	return e.detachMirror(ctx, *t.TransferID)
}

func (e *transferEngine) addTransfer(ctx context.Context, t *repository.Transaction, dest string) error {
	if t.IsParent {
		return nil
	}
	srcPayee, err := e.payees.TransferPayeeFor(ctx, t.Account)
	if err != nil {
		return err
	}
	var mirrorPayee *string
	if srcPayee != nil {
		mirrorPayee = &srcPayee.ID
	}

	mirror := repository.Transaction{
		ID:         uuid.NewString(),
		Account:    dest,
		Amount:     -t.Amount,
		Date:       t.Date,
		Payee:      mirrorPayee,
		TransferID: &t.ID,
		Notes:      t.Notes,
		Schedule:   t.Schedule,
	}
	if err := e.transactions.Insert(ctx, mirror); err != nil {
		return err
	}

	fields := map[string]any{"transfer_id": mirror.ID}
	clear, err := e.equalBudgetStatus(ctx, t.Account, dest)
	if err != nil {
		return err
	}
	if clear {
		fields["category"] = nil
		t.Category = nil
	}
	if err := e.transactions.Update(ctx, t.ID, fields); err != nil {
		return err
	}
	t.TransferID = &mirror.ID
	return nil
}

func (e *transferEngine) updateTransfer(ctx context.Context, t *repository.Transaction, dest string) error {
	mirror, err := e.transactions.Get(ctx, *t.TransferID)
	if err != nil {
		return err
	}
	if mirror == nil {
		// mirror vanished out from under us; relink from scratch
		t.TransferID = nil
		return e.addTransfer(ctx, t, dest)
	}

	srcPayee, err := e.payees.TransferPayeeFor(ctx, t.Account)
	if err != nil {
		return err
	}
	var mirrorPayee any
	if srcPayee != nil {
		mirrorPayee = srcPayee.ID
	}
	fields := map[string]any{
		"account":  dest,
		"amount":   -t.Amount,
		"date":     t.Date,
		"notes":    nullable(t.Notes),
		"schedule": nullable(t.Schedule),
		"payee":    mirrorPayee,
	}
	if err := e.transactions.Update(ctx, mirror.ID, fields); err != nil {
		return err
	}

	clear, err := e.equalBudgetStatus(ctx, t.Account, dest)
	if err != nil {
		return err
	}
	if clear && t.Category != nil {
		if err := e.transactions.Update(ctx, t.ID, map[string]any{"category": nil}); err != nil {
			return err
		}
		t.Category = nil
	}
	return nil
}

func (e *transferEngine) removeTransfer(ctx context.Context, t *repository.Transaction) error {
	if t.TransferID != nil {
		if err := e.detachMirror(ctx, *t.TransferID); err != nil {
			return err
		}
	}
	if err := e.transactions.Update(ctx, t.ID, map[string]any{"transfer_id": nil}); err != nil {
		return err
	}
	t.TransferID = nil
	return nil
}

// detachMirror removes the counterpart row. A mirror that is itself a
// split child is unlinked instead of deleted; deleting it would orphan
// its split group.
func (e *transferEngine) detachMirror(ctx context.Context, mirrorID string) error {
	mirror, err := e.transactions.Get(ctx, mirrorID)
	if err != nil || mirror == nil {
		return err
	}
	if mirror.IsChild {
		return e.transactions.Update(ctx, mirror.ID, map[string]any{"transfer_id": nil, "payee": nil})
	}
	return e.transactions.Delete(ctx, mirror.ID)
}

// equalBudgetStatus reports whether both accounts are on-budget or both
// off-budget. A transfer between equals is pure money movement and
// carries no category; the asymmetric case behaves like income/expense
// and keeps it.
func (e *transferEngine) equalBudgetStatus(ctx context.Context, a, b string) (bool, error) {
	offA, err := e.offBudget(ctx, a)
	if err != nil {
		return false, err
	}
	offB, err := e.offBudget(ctx, b)
	if err != nil {
		return false, err
	}
	return offA == offB, nil
}

func (e *transferEngine) offBudget(ctx context.Context, accountID string) (bool, error) {
	if off, ok := e.budgetStatus[accountID]; ok {
		return off, nil
	}
	a, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		return false, err
	}
	off := a != nil && a.OffBudget
	e.budgetStatus[accountID] = off
	return off, nil
}

// nullable maps a *string onto its column value.
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
