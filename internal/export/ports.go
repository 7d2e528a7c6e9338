// Package export defines the outbound ledger: expenses and payments are
// appended, one row each, to an external bookkeeping destination.
package export

import (
	"context"

	"conti/internal/core"
)

// Entry is one ledger row. Expenses carry a category and no counterparty;
// payments carry From and To.
type Entry struct {
	Kind      string // "expense" or "payment"
	ID        string
	Date      core.Date
	Household string
	Title     string
	Category  string
	Amount    core.Money
	From      string
	To        string
}

// LedgerWriter appends entries to the external ledger.
type LedgerWriter interface {
	AppendEntry(ctx context.Context, entry Entry) (rowRef string, err error)
}
