// Package procurement posts purchases into the stock ledger and manages
// purchase orders up to goods receipt.
package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockline-erp/stockline/internal/ledger"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusOpen      POStatus = "OPEN"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Purchase models a direct purchase posting (goods already in hand).
type Purchase struct {
	ID         int64
	Number     string
	OrgID      int64
	BranchID   int64
	SupplierID int64
	Total      decimal.Decimal
	Note       string
	CreatedBy  int64
	CreatedAt  time.Time
	Lines      []PurchaseLine
}

// PurchaseLine models one received batch.
type PurchaseLine struct {
	ID          int64
	PurchaseID  int64
	VariantID   int64
	BatchNumber string
	ExpiryDate  *time.Time
	Qty         int64
	Prices      ledger.PriceFields
}

// PurchaseOrder models an order placed with a supplier.
type PurchaseOrder struct {
	ID           int64
	Number       string
	OrgID        int64
	BranchID     int64
	SupplierID   int64
	Status       POStatus
	ExpectedDate *time.Time
	Note         string
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []POLine
}

// POLine models one ordered variant. Batch and expiry are assigned at
// receipt, not at ordering.
type POLine struct {
	ID        int64
	POID      int64
	VariantID int64
	Qty       int64
	Prices    ledger.PriceFields
}

// ErrNoLines rejects documents without line items.
var ErrNoLines = errors.New("procurement: at least one line is required")

// ErrNotFound indicates a missing purchase or purchase order.
var ErrNotFound = errors.New("procurement: not found")

// ErrPONotOpen rejects receiving or cancelling a purchase order that
// already reached a terminal status.
var ErrPONotOpen = errors.New("procurement: purchase order not open")

// ErrLineMismatch rejects a receipt referencing unknown PO lines.
var ErrLineMismatch = errors.New("procurement: receipt line does not match purchase order")
