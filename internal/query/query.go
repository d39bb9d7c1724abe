// Package query provides an immutable query descriptor over a single
// table and a SQLite executor for it. Live subscriptions hold one
// descriptor instance for their lifetime and derive paging windows from
// it without mutating the original.
package query

import (
	"encoding/json"
	"sort"
)

// Dir is a sort direction.
type Dir string

const (
	Asc  Dir = "asc"
	Desc Dir = "desc"
)

// Order is one ORDER BY term.
type Order struct {
	Field string `json:"field"`
	Dir   Dir    `json:"dir"`
}

// Cond is one normalized filter condition. Op is one of the $-operators
// accepted by Filter.
type Cond struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Calc describes an aggregate query ($count or $sum) replacing row output.
type Calc struct {
	Op    string `json:"op"`
	Field string `json:"field"`
}

// Query describes a read against one table. The zero value is not usable;
// start from New. All builder methods return a modified copy.
type Query struct {
	table   string
	conds   []Cond
	selects []string
	calc    *Calc
	order   []Order
	limit   *int
	offset  *int
}

// New starts a query against table.
func New(table string) *Query {
	return &Query{table: table}
}

func (q *Query) clone() *Query {
	c := *q
	c.conds = append([]Cond(nil), q.conds...)
	c.selects = append([]string(nil), q.selects...)
	c.order = append([]Order(nil), q.order...)
	if q.calc != nil {
		calc := *q.calc
		c.calc = &calc
	}
	if q.limit != nil {
		n := *q.limit
		c.limit = &n
	}
	if q.offset != nil {
		n := *q.offset
		c.offset = &n
	}
	return &c
}

// Filter adds conditions, AND-ed with any existing ones. A bare value
// means equality; a map value holds operators, e.g.
// {"amount": map[string]any{"$gte": 500}}. Fields are visited in sorted
// order so the generated SQL is stable.
func (q *Query) Filter(conds map[string]any) *Query {
	c := q.clone()
	fields := make([]string, 0, len(conds))
	for f := range conds {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		switch v := conds[f].(type) {
		case map[string]any:
			ops := make([]string, 0, len(v))
			for op := range v {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				c.conds = append(c.conds, Cond{Field: f, Op: op, Value: v[op]})
			}
		default:
			c.conds = append(c.conds, Cond{Field: f, Op: "$eq", Value: v})
		}
	}
	return c
}

// Select restricts output to the given fields.
func (q *Query) Select(fields ...string) *Query {
	c := q.clone()
	c.selects = append([]string(nil), fields...)
	return c
}

// Calculate turns the query into an aggregate. Use "$count" with field
// "*" or "$sum" with a column name. Any Select is ignored.
func (q *Query) Calculate(op, field string) *Query {
	c := q.clone()
	c.calc = &Calc{Op: op, Field: field}
	c.order = nil
	c.limit = nil
	c.offset = nil
	return c
}

// OrderBy appends an ORDER BY term.
func (q *Query) OrderBy(field string, dir Dir) *Query {
	c := q.clone()
	c.order = append(c.order, Order{Field: field, Dir: dir})
	return c
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	c := q.clone()
	c.limit = &n
	return c
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	c := q.clone()
	c.offset = &n
	return c
}

// Unpaged drops any limit and offset.
func (q *Query) Unpaged() *Query {
	c := q.clone()
	c.limit = nil
	c.offset = nil
	return c
}

// Table returns the queried table name.
func (q *Query) Table() string { return q.table }

// OrderSpecs returns the ORDER BY terms in order.
func (q *Query) OrderSpecs() []Order { return append([]Order(nil), q.order...) }

// Conds returns the normalized filter conditions.
func (q *Query) Conds() []Cond { return append([]Cond(nil), q.conds...) }

// IsCalculate reports whether this is an aggregate query.
func (q *Query) IsCalculate() bool { return q.calc != nil }

// CalcSpec returns the aggregate spec, or nil.
func (q *Query) CalcSpec() *Calc {
	if q.calc == nil {
		return nil
	}
	c := *q.calc
	return &c
}

// LimitValue returns the limit, if set.
func (q *Query) LimitValue() (int, bool) {
	if q.limit == nil {
		return 0, false
	}
	return *q.limit, true
}

// OffsetValue returns the offset, if set.
func (q *Query) OffsetValue() (int, bool) {
	if q.offset == nil {
		return 0, false
	}
	return *q.offset, true
}

// Serialize renders a stable JSON form, for logging and debugging. Query
// identity is by instance, never by serialized form.
func (q *Query) Serialize() string {
	b, _ := json.Marshal(struct {
		Table   string   `json:"table"`
		Conds   []Cond   `json:"filter,omitempty"`
		Selects []string `json:"select,omitempty"`
		Calc    *Calc    `json:"calculate,omitempty"`
		Order   []Order  `json:"orderBy,omitempty"`
		Limit   *int     `json:"limit,omitempty"`
		Offset  *int     `json:"offset,omitempty"`
	}{q.table, q.conds, q.selects, q.calc, q.order, q.limit, q.offset})
	return string(b)
}
