package repository

import (
	"context"
	"database/sql"
)

// CategoryRuleRepo stores learned payee-name to category associations.
type CategoryRuleRepo struct {
	db DBTX
}

func NewCategoryRuleRepo(db DBTX) *CategoryRuleRepo { return &CategoryRuleRepo{db: db} }

// Upsert records that payeeName was categorized as categoryID, bumping
// the hit count when the association already exists.
func (r *CategoryRuleRepo) Upsert(ctx context.Context, id, payeeName, categoryID string) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO category_rules(id, payee_name, category, hits, updated_at)
	VALUES(?, ?, ?, 1, CURRENT_TIMESTAMP)
	ON CONFLICT(payee_name) DO UPDATE SET
	  category = excluded.category,
	  hits = hits + 1,
	  updated_at = CURRENT_TIMESTAMP;
	`, id, payeeName, categoryID)
	return err
}

// FindExact returns the rule for an exact payee name, or nil.
func (r *CategoryRuleRepo) FindExact(ctx context.Context, payeeName string) (*CategoryRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, payee_name, category, hits FROM category_rules WHERE payee_name = ?`, payeeName)
	var cr CategoryRule
	if err := row.Scan(&cr.ID, &cr.PayeeName, &cr.Category, &cr.Hits); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &cr, nil
}

// All returns every learned rule.
func (r *CategoryRuleRepo) All(ctx context.Context) ([]CategoryRule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, payee_name, category, hits FROM category_rules ORDER BY hits DESC, payee_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CategoryRule
	for rows.Next() {
		var cr CategoryRule
		if err := rows.Scan(&cr.ID, &cr.PayeeName, &cr.Category, &cr.Hits); err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}
