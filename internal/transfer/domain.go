// Package transfer orchestrates inter-branch stock transfers: reserve on
// create, commit on receive, release on cancel, with a guarded lifecycle
// in between.
package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/stockline-erp/stockline/internal/ledger"
)

// Status represents the lifecycle of a transfer request.
type Status string

const (
	// StatusPending holds reservations against the source branch.
	StatusPending Status = "PENDING"
	// StatusInTransit means the source branch dispatched the goods. No
	// stock moves on dispatch; the reservation already holds it.
	StatusInTransit Status = "IN_TRANSIT"
	// StatusReceived is terminal: reservations committed to the destination.
	StatusReceived Status = "RECEIVED"
	// StatusCancelled is terminal: reservations released back to the source.
	StatusCancelled Status = "CANCELLED"
)

// transitions is the full transition table. Anything absent is illegal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusReceived},
}

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInTransit, StatusReceived, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leads out of the status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo consults the transition table.
func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// TransferRequest groups line items moving stock between two branches.
type TransferRequest struct {
	ID           int64
	Number       string
	OrgID        int64
	FromBranchID int64
	ToBranchID   int64
	Status       Status
	Note         string
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Items        []TransferItem
}

// TransferItem holds one reservation against a source stock record.
// Prices and expiry are captured from the source record at reservation
// time and carried onto the destination record on commit.
type TransferItem struct {
	ID          int64
	TransferID  int64
	VariantID   int64
	BatchNumber string
	Qty         int64
	ExpiryDate  *time.Time
	Prices      ledger.PriceFields
}

// SourceIdentity addresses the stock record the item reserves.
func (t TransferRequest) SourceIdentity(item TransferItem) ledger.Identity {
	return ledger.Identity{VariantID: item.VariantID, BranchID: t.FromBranchID, BatchNumber: item.BatchNumber}
}

// DestinationIdentity addresses the record the item lands on.
func (t TransferRequest) DestinationIdentity(item TransferItem) ledger.Identity {
	return ledger.Identity{VariantID: item.VariantID, BranchID: t.ToBranchID, BatchNumber: item.BatchNumber}
}

// ErrNotFound indicates a missing transfer.
var ErrNotFound = errors.New("transfer: not found")

// ErrSameBranch rejects transfers where source and destination match.
var ErrSameBranch = errors.New("transfer: source and destination branch must differ")

// ErrNoItems rejects transfers without line items.
var ErrNoItems = errors.New("transfer: at least one item required")

// ErrBranchNotAllowed rejects a transition triggered by the wrong branch:
// only the source dispatches, only the destination receives.
var ErrBranchNotAllowed = errors.New("transfer: acting branch not allowed for this transition")

// ErrInvalidTransition is the sentinel matched by errors.Is; the concrete
// failure is always an *InvalidTransitionError.
var ErrInvalidTransition = errors.New("transfer: invalid transition")

// InvalidTransitionError reports a rejected status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transfer: invalid transition from %s to %s", e.From, e.To)
}

// Unwrap lets errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
