// Package ledger implements the per-branch, per-batch stock ledger: the
// persisted quantity-bearing records and the movement operations that
// mutate them under row locks.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Identity uniquely addresses one stock record.
type Identity struct {
	VariantID   int64  `json:"variant_id"`
	BranchID    int64  `json:"branch_id"`
	BatchNumber string `json:"batch_number"`
}

// String renders the identity for logs and error messages.
func (id Identity) String() string {
	return fmt.Sprintf("%d/%d/%s", id.VariantID, id.BranchID, id.BatchNumber)
}

// Less imposes the global lock ordering. Documents touching more than one
// record must acquire locks in this order to avoid deadlocks.
func (id Identity) Less(other Identity) bool {
	if id.VariantID != other.VariantID {
		return id.VariantID < other.VariantID
	}
	if id.BranchID != other.BranchID {
		return id.BranchID < other.BranchID
	}
	return id.BatchNumber < other.BatchNumber
}

// PriceFields carries the monetary attributes of a stock record. The
// latest receive overwrites them.
type PriceFields struct {
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	MRP           decimal.Decimal `json:"mrp"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
}

// StockRecord is the atomic unit of inventory. Quantities never go
// negative after a committed operation.
type StockRecord struct {
	ID            int64
	VariantID     int64
	BranchID      int64
	BatchNumber   string
	ExpiryDate    *time.Time
	QtyAvailable  int64
	QtyReserved   int64
	PurchasePrice decimal.Decimal
	MRP           decimal.Decimal
	SellingPrice  decimal.Decimal
	UpdatedAt     time.Time
}

// Identity returns the record's key.
func (r StockRecord) Identity() Identity {
	return Identity{VariantID: r.VariantID, BranchID: r.BranchID, BatchNumber: r.BatchNumber}
}

// Prices returns the record's monetary fields.
func (r StockRecord) Prices() PriceFields {
	return PriceFields{PurchasePrice: r.PurchasePrice, MRP: r.MRP, SellingPrice: r.SellingPrice}
}

// Level summarises the quantities of one record.
type Level struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
}

// MovementKind enumerates ledger movements.
type MovementKind string

const (
	// MovementReceive is an inbound movement (purchase, PO receipt, transfer arrival).
	MovementReceive MovementKind = "RECEIVE"
	// MovementConsume is an outbound movement (sale).
	MovementConsume MovementKind = "CONSUME"
	// MovementAdjust is a manual correction, positive or negative.
	MovementAdjust MovementKind = "ADJUST"
	// MovementReserve quarantines quantity for a pending transfer.
	MovementReserve MovementKind = "RESERVE"
	// MovementRelease returns reserved quantity on cancellation.
	MovementRelease MovementKind = "RELEASE"
	// MovementCommit removes reserved quantity when a transfer completes.
	MovementCommit MovementKind = "COMMIT"
)

// Movement is the journal row written alongside every quantity change.
type Movement struct {
	ID            int64
	Kind          MovementKind
	VariantID     int64
	BranchID      int64
	BatchNumber   string
	QtyDelta      int64
	ReservedDelta int64
	RefModule     string
	RefID         string
	ActorID       int64
	Note          string
	PostedAt      time.Time
}

// Ref carries document context threaded through movement operations into
// the journal.
type Ref struct {
	Module  string
	ID      string
	ActorID int64
	Note    string
}

// ErrInvalidQuantity indicates a non-positive quantity where a positive
// one is required, or a zero adjustment delta.
var ErrInvalidQuantity = errors.New("ledger: invalid quantity")

// ErrIdentityRequired indicates a request that did not address a record:
// variant, branch and batch must all be set.
var ErrIdentityRequired = errors.New("ledger: variant, branch and batch required")

// ErrRecordNotFound indicates a missing stock record.
var ErrRecordNotFound = errors.New("ledger: stock record not found")

// ErrInsufficientStock is the sentinel matched by errors.Is; the concrete
// failure is always an *InsufficientStockError.
var ErrInsufficientStock = errors.New("ledger: insufficient stock")

// InsufficientStockError reports a rejected movement with the quantities
// that were observed under the row lock.
type InsufficientStockError struct {
	Identity  Identity
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for %s: available %d, requested %d", e.Identity, e.Available, e.Requested)
}

// Unwrap lets errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
