package repository

import (
	"context"
	"database/sql"
)

// CategoryRepo handles categories.
type CategoryRepo struct {
	db DBTX
}

func NewCategoryRepo(db DBTX) *CategoryRepo { return &CategoryRepo{db: db} }

func (r *CategoryRepo) Upsert(ctx context.Context, c Category) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO categories(id, name, is_income, sort_order) VALUES(?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_income = excluded.is_income, sort_order = excluded.sort_order;
	`, c.ID, c.Name, boolInt(c.IsIncome), c.SortOrder)
	return err
}

func (r *CategoryRepo) Get(ctx context.Context, id string) (*Category, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, is_income, sort_order FROM categories WHERE id = ?`, id)
	var c Category
	var isIncome int64
	if err := row.Scan(&c.ID, &c.Name, &isIncome, &c.SortOrder); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.IsIncome = isIncome != 0
	return &c, nil
}

func (r *CategoryRepo) List(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, is_income, sort_order FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		var isIncome int64
		if err := rows.Scan(&c.ID, &c.Name, &isIncome, &c.SortOrder); err != nil {
			return nil, err
		}
		c.IsIncome = isIncome != 0
		out = append(out, c)
	}
	return out, rows.Err()
}
