package repository

import (
	"context"
	"database/sql"
)

// DBTX is the slice of database/sql shared by *sql.DB and *sql.Tx, so
// every repository works both standalone and inside a batch transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Account represents an account row.
type Account struct {
	ID        string
	Name      string
	OffBudget bool
	Closed    bool
	SortOrder int64
}

// Payee represents a payee row. A payee with TransferAcct set means
// "a transfer to/from that account"; one is created alongside each
// account.
type Payee struct {
	ID           string
	Name         string
	TransferAcct *string
}

// Category represents a category row.
type Category struct {
	ID        string
	Name      string
	IsIncome  bool
	SortOrder int64
}

// Transaction represents a transaction row. Dates are YYYY-MM-DD
// strings; amounts are integer cents.
type Transaction struct {
	ID         string
	Account    string
	Amount     int64
	Date       string
	Payee      *string
	Category   *string
	TransferID *string
	IsParent   bool
	IsChild    bool
	ParentID   *string
	SortOrder  *int64
	Cleared    bool
	Notes      *string
	Schedule   *string
}

// TransactionUpdate is a partial patch for one transaction. Fields maps
// column names to new values; a nil value clears the column. Err carries
// an error attached upstream (rule application) that the batch engine
// surfaces in its result without acting on.
type TransactionUpdate struct {
	ID     string
	Fields map[string]any
	Err    string
}

// CategoryRule is a learned payee-name to category association.
type CategoryRule struct {
	ID        string
	PayeeName string
	Category  string
	Hits      int64
}
