// Package sales creates sales invoices: multi-line consumption against
// the stock ledger plus invoice numbering, all in one atomic unit.
package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice models the sale document header.
type Invoice struct {
	ID         int64
	Number     string
	OrgID      int64
	BranchID   int64
	CustomerID int64
	Total      decimal.Decimal
	Note       string
	CreatedBy  int64
	CreatedAt  time.Time
	Lines      []InvoiceLine
}

// InvoiceLine models one sold batch.
type InvoiceLine struct {
	ID          int64
	InvoiceID   int64
	VariantID   int64
	BatchNumber string
	Qty         int64
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// ErrNoLines rejects invoices without line items.
var ErrNoLines = errors.New("sales: at least one line is required")

// ErrNotFound indicates a missing invoice.
var ErrNotFound = errors.New("sales: invoice not found")
