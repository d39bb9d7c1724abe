package query

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Result is a query response plus the tables the result depends on.
// Dependencies drive live-query invalidation.
type Result struct {
	Data         []Row
	Dependencies []string
}

// Executor runs descriptors against a SQLite database.
type Executor struct {
	db *sql.DB
}

func NewExecutor(db *sql.DB) *Executor { return &Executor{db: db} }

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("query: invalid identifier %q", name)
	}
	return nil
}

var condOps = map[string]string{
	"$eq":   "=",
	"$ne":   "!=",
	"$lt":   "<",
	"$lte":  "<=",
	"$gt":   ">",
	"$gte":  ">=",
	"$like": "LIKE",
}

// RunQuery executes q and returns its rows (or aggregate value row) along
// with the dependency table set.
func (e *Executor) RunQuery(ctx context.Context, q *Query) (Result, error) {
	if err := checkIdent(q.table); err != nil {
		return Result{}, err
	}

	where, args, err := buildWhere(q.conds)
	if err != nil {
		return Result{}, err
	}

	var sel string
	switch {
	case q.calc != nil:
		sel, err = buildCalc(q.calc)
		if err != nil {
			return Result{}, err
		}
	case len(q.selects) > 0:
		for _, f := range q.selects {
			if err := checkIdent(f); err != nil {
				return Result{}, err
			}
		}
		sel = strings.Join(q.selects, ", ")
	default:
		sel = "*"
	}

	stmt := "SELECT " + sel + " FROM " + q.table
	if where != "" {
		stmt += " WHERE " + where
	}
	if len(q.order) > 0 {
		terms := make([]string, 0, len(q.order))
		for _, o := range q.order {
			if err := checkIdent(o.Field); err != nil {
				return Result{}, err
			}
			dir := "ASC"
			if o.Dir == Desc {
				dir = "DESC"
			}
			terms = append(terms, o.Field+" "+dir)
		}
		stmt += " ORDER BY " + strings.Join(terms, ", ")
	}
	if q.limit != nil {
		stmt += fmt.Sprintf(" LIMIT %d", *q.limit)
		if q.offset != nil {
			stmt += fmt.Sprintf(" OFFSET %d", *q.offset)
		}
	} else if q.offset != nil {
		// sqlite requires LIMIT before OFFSET
		stmt += fmt.Sprintf(" LIMIT -1 OFFSET %d", *q.offset)
	}

	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, fmt.Errorf("query %s: %w", q.table, err)
	}
	defer rows.Close()

	data, err := scanRows(rows)
	if err != nil {
		return Result{}, err
	}
	return Result{Data: data, Dependencies: []string{q.table}}, nil
}

func buildWhere(conds []Cond) (string, []any, error) {
	var parts []string
	var args []any
	for _, c := range conds {
		if err := checkIdent(c.Field); err != nil {
			return "", nil, err
		}
		switch c.Op {
		case "$oneof":
			vals, ok := c.Value.([]any)
			if !ok {
				if ss, sok := c.Value.([]string); sok {
					vals = make([]any, len(ss))
					for i, s := range ss {
						vals[i] = s
					}
				} else {
					return "", nil, fmt.Errorf("query: $oneof wants a slice, got %T", c.Value)
				}
			}
			if len(vals) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			parts = append(parts, c.Field+" IN ("+placeholders(len(vals))+")")
			args = append(args, vals...)
		case "$eq":
			if c.Value == nil {
				parts = append(parts, c.Field+" IS NULL")
				continue
			}
			parts = append(parts, c.Field+" = ?")
			args = append(args, c.Value)
		case "$ne":
			if c.Value == nil {
				parts = append(parts, c.Field+" IS NOT NULL")
				continue
			}
			parts = append(parts, c.Field+" != ?")
			args = append(args, c.Value)
		default:
			op, ok := condOps[c.Op]
			if !ok {
				return "", nil, fmt.Errorf("query: unknown operator %q", c.Op)
			}
			parts = append(parts, c.Field+" "+op+" ?")
			args = append(args, c.Value)
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

func buildCalc(c *Calc) (string, error) {
	switch c.Op {
	case "$count":
		if c.Field == "*" || c.Field == "" {
			return "COUNT(*) AS value", nil
		}
		if err := checkIdent(c.Field); err != nil {
			return "", err
		}
		return "COUNT(" + c.Field + ") AS value", nil
	case "$sum":
		if err := checkIdent(c.Field); err != nil {
			return "", err
		}
		return "COALESCE(SUM(" + c.Field + "), 0) AS value", nil
	default:
		return "", fmt.Errorf("query: unknown calculation %q", c.Op)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			r[c] = v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
