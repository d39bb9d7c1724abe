package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

const transactionCols = "id, account, amount, date, payee, category, transfer_id, is_parent, is_child, parent_id, sort_order, cleared, notes, schedule"

// transactionPatchCols are the columns a partial update may touch.
var transactionPatchCols = map[string]bool{
	"account":     true,
	"amount":      true,
	"date":        true,
	"payee":       true,
	"category":    true,
	"transfer_id": true,
	"is_parent":   true,
	"is_child":    true,
	"parent_id":   true,
	"sort_order":  true,
	"cleared":     true,
	"notes":       true,
	"schedule":    true,
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db DBTX
}

func NewTransactionRepo(db DBTX) *TransactionRepo { return &TransactionRepo{db: db} }

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(`+transactionCols+`)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		t.ID, t.Account, t.Amount, t.Date, t.Payee, t.Category, t.TransferID,
		boolInt(t.IsParent), boolInt(t.IsChild), t.ParentID, t.SortOrder,
		boolInt(t.Cleared), t.Notes, t.Schedule)
	return err
}

// Update applies a partial patch. Unknown columns are rejected rather
// than interpolated.
func (r *TransactionRepo) Update(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		if !transactionPatchCols[c] {
			return fmt.Errorf("repository: cannot update column %q", c)
		}
		cols = append(cols, c)
	}
	// deterministic statement text for a given field set
	sort.Strings(cols)

	var set []string
	var args []any
	for _, c := range cols {
		set = append(set, c+" = ?")
		args = append(args, normalizeValue(fields[c]))
	}
	args = append(args, id)
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	return err
}

func (r *TransactionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	return err
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionCols+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetMany returns the rows for ids, in the order given, skipping ids
// that no longer exist.
func (r *TransactionRepo) GetMany(ctx context.Context, ids []string) ([]Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE id IN (`+placeholders(len(ids))+`)`,
		toAnySlice(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]Transaction, len(ids))
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(byID))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// ChildIDs returns the ids of split children whose parent is in
// parentIDs.
func (r *TransactionRepo) ChildIDs(ctx context.Context, parentIDs []string) ([]string, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM transactions WHERE parent_id IN (`+placeholders(len(parentIDs))+`)`,
		toAnySlice(parentIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ByDates returns all transactions on the given dates. The sort-order
// allocator seeds its per-date counters from these.
func (r *TransactionRepo) ByDates(ctx context.Context, dates []string) ([]Transaction, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE date IN (`+placeholders(len(dates))+`)`,
		toAnySlice(dates)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountByPayee reports how many transactions reference a payee.
func (r *TransactionRepo) CountByPayee(ctx context.Context, payeeID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE payee = ?`, payeeID).Scan(&n)
	return n, err
}

// scanner handles both Row and Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var payee, category, transferID, parentID, notes, schedule sql.NullString
	var sortOrder sql.NullInt64
	var isParent, isChild, cleared int64
	if err := row.Scan(&t.ID, &t.Account, &t.Amount, &t.Date, &payee, &category,
		&transferID, &isParent, &isChild, &parentID, &sortOrder, &cleared,
		&notes, &schedule); err != nil {
		return Transaction{}, err
	}
	t.Payee = nullStr(payee)
	t.Category = nullStr(category)
	t.TransferID = nullStr(transferID)
	t.ParentID = nullStr(parentID)
	t.Notes = nullStr(notes)
	t.Schedule = nullStr(schedule)
	if sortOrder.Valid {
		t.SortOrder = &sortOrder.Int64
	}
	t.IsParent = isParent != 0
	t.IsChild = isChild != 0
	t.Cleared = cleared != 0
	return t, nil
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// normalizeValue maps Go values onto their column representations.
func normalizeValue(v any) any {
	if b, ok := v.(bool); ok {
		return boolInt(b)
	}
	return v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
