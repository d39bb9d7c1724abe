package repository

import (
	"context"
	"database/sql"
)

// PayeeRepo handles payees, including the transfer payees that stand in
// for accounts.
type PayeeRepo struct {
	db DBTX
}

func NewPayeeRepo(db DBTX) *PayeeRepo { return &PayeeRepo{db: db} }

func (r *PayeeRepo) Insert(ctx context.Context, p Payee) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO payees(id, name, transfer_acct) VALUES(?, ?, ?);
	`, p.ID, p.Name, p.TransferAcct)
	return err
}

func (r *PayeeRepo) Get(ctx context.Context, id string) (*Payee, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, transfer_acct FROM payees WHERE id = ?`, id)
	p, err := scanPayee(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// TransferPayeeFor returns the payee that represents transfers to/from
// accountID, or nil if the account has none.
func (r *PayeeRepo) TransferPayeeFor(ctx context.Context, accountID string) (*Payee, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, transfer_acct FROM payees WHERE transfer_acct = ?`, accountID)
	p, err := scanPayee(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Orphaned returns ids of regular payees no transaction references
// anymore. Transfer payees are never orphans; they belong to their
// account.
func (r *PayeeRepo) Orphaned(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT p.id FROM payees p
	LEFT JOIN transactions t ON t.payee = p.id
	WHERE p.transfer_acct IS NULL
	GROUP BY p.id
	HAVING COUNT(t.id) = 0;
	`)
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

func scanPayee(row scanner) (Payee, error) {
	var p Payee
	var transferAcct sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &transferAcct); err != nil {
		return Payee{}, err
	}
	p.TransferAcct = nullStr(transferAcct)
	return p, nil
}
