package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/numbering"
	"github.com/stockline-erp/stockline/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (TransferRequest, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LevelInvalidator drops cached stock levels after committed movements.
type LevelInvalidator interface {
	InvalidateLevel(ctx context.Context, ids ...ledger.Identity)
}

// Service orchestrates the transfer lifecycle.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	levels LevelInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, levels LevelInvalidator) *Service {
	return &Service{repo: repo, audit: audit, levels: levels}
}

// CreateItemInput describes one requested line.
type CreateItemInput struct {
	VariantID   int64
	BatchNumber string
	Qty         int64
}

// CreateInput describes a transfer creation request.
type CreateInput struct {
	OrgID        int64
	FromBranchID int64
	ToBranchID   int64
	Items        []CreateItemInput
	ActorID      int64
	Note         string
}

// Create opens the transfer in PENDING, reserving every line against its
// source record inside one atomic unit. If any reservation fails, nothing
// persists.
func (s *Service) Create(ctx context.Context, input CreateInput) (TransferRequest, error) {
	if input.OrgID == 0 || input.FromBranchID == 0 || input.ToBranchID == 0 {
		return TransferRequest{}, errors.New("transfer: org and branches required")
	}
	if input.FromBranchID == input.ToBranchID {
		return TransferRequest{}, ErrSameBranch
	}
	if len(input.Items) == 0 {
		return TransferRequest{}, ErrNoItems
	}
	for _, item := range input.Items {
		if item.VariantID == 0 || item.BatchNumber == "" {
			return TransferRequest{}, errors.New("transfer: variant and batch required on every item")
		}
		if item.Qty <= 0 {
			return TransferRequest{}, fmt.Errorf("%w: transfer qty %d", ledger.ErrInvalidQuantity, item.Qty)
		}
	}

	refID := uuid.NewString()
	t := TransferRequest{
		OrgID:        input.OrgID,
		FromBranchID: input.FromBranchID,
		ToBranchID:   input.ToBranchID,
		Status:       StatusPending,
		Note:         input.Note,
		CreatedBy:    input.ActorID,
	}
	items := make([]TransferItem, len(input.Items))
	for i, item := range input.Items {
		items[i] = TransferItem{VariantID: item.VariantID, BatchNumber: item.BatchNumber, Qty: item.Qty}
	}
	// Fixed lock order across the document's rows.
	sort.Slice(items, func(i, j int) bool {
		return t.SourceIdentity(items[i]).Less(t.SourceIdentity(items[j]))
	})

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := numbering.AllocateTx(ctx, tx.Counters(), numbering.CounterKey{
			OrgID:    input.OrgID,
			BranchID: input.FromBranchID,
			DocType:  numbering.DocTypeTransfer,
		})
		if err != nil {
			return err
		}
		t.Number = number
		if err := tx.Insert(ctx, &t); err != nil {
			return err
		}
		ref := ledger.Ref{Module: "TRANSFER", ID: refID, ActorID: input.ActorID, Note: t.Number}
		store := tx.Ledger()
		for i := range items {
			rec, err := ledger.ApplyReserve(ctx, store, t.SourceIdentity(items[i]), items[i].Qty, ref)
			if err != nil {
				return err
			}
			items[i].ExpiryDate = rec.ExpiryDate
			items[i].Prices = rec.Prices()
		}
		return tx.InsertItems(ctx, t.ID, items)
	})
	if err != nil {
		return TransferRequest{}, err
	}
	t.Items = items

	s.invalidate(ctx, t)
	s.recordAudit(ctx, input.ActorID, "transfer:create", t)
	return t, nil
}

// Transition moves the transfer to target, applying the stock effects of
// the transition in the same atomic unit as the status change. A failed
// transition leaves status and reservations untouched.
func (s *Service) Transition(ctx context.Context, transferID int64, target Status, actorBranch int64, actorID int64) (TransferRequest, error) {
	if !target.IsValid() {
		return TransferRequest{}, &InvalidTransitionError{From: "", To: target}
	}
	var t TransferRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		t, err = tx.GetForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if !t.Status.CanTransitionTo(target) {
			return &InvalidTransitionError{From: t.Status, To: target}
		}
		switch target {
		case StatusInTransit:
			// Pure status change; the reservation already holds the stock.
			if actorBranch != t.FromBranchID {
				return ErrBranchNotAllowed
			}
		case StatusReceived:
			if actorBranch != t.ToBranchID {
				return ErrBranchNotAllowed
			}
			if err := s.applyReceive(ctx, tx, t, actorID); err != nil {
				return err
			}
		case StatusCancelled:
			if err := s.applyCancel(ctx, tx, t, actorID); err != nil {
				return err
			}
		}
		if err := tx.SetStatus(ctx, transferID, target); err != nil {
			return err
		}
		t.Status = target
		return nil
	})
	if err != nil {
		return TransferRequest{}, err
	}

	s.invalidate(ctx, t)
	s.recordAudit(ctx, actorID, fmt.Sprintf("transfer:%s", target), t)
	return t, nil
}

// Get loads one transfer.
func (s *Service) Get(ctx context.Context, id int64) (TransferRequest, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) applyReceive(ctx context.Context, tx TxRepository, t TransferRequest, actorID int64) error {
	items := sortedItems(t)
	ref := ledger.Ref{Module: "TRANSFER", ID: "", ActorID: actorID, Note: t.Number}
	store := tx.Ledger()
	for _, item := range items {
		_, _, err := ledger.ApplyCommitReservation(ctx, store, t.SourceIdentity(item), item.Qty,
			t.DestinationIdentity(item), item.ExpiryDate, item.Prices, ref)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyCancel(ctx context.Context, tx TxRepository, t TransferRequest, actorID int64) error {
	items := sortedItems(t)
	ref := ledger.Ref{Module: "TRANSFER", ID: "", ActorID: actorID, Note: t.Number}
	store := tx.Ledger()
	for _, item := range items {
		if _, err := ledger.ApplyRelease(ctx, store, t.SourceIdentity(item), item.Qty, ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, t TransferRequest) {
	if s.levels == nil {
		return
	}
	for _, item := range t.Items {
		s.levels.InvalidateLevel(ctx, t.SourceIdentity(item), t.DestinationIdentity(item))
	}
}

func sortedItems(t TransferRequest) []TransferItem {
	items := make([]TransferItem, len(t.Items))
	copy(items, t.Items)
	sort.Slice(items, func(i, j int) bool {
		return t.SourceIdentity(items[i]).Less(t.SourceIdentity(items[j]))
	})
	return items
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, t TransferRequest) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: fmt.Sprintf("%d", t.ID),
		Meta: map[string]any{
			"number":      t.Number,
			"from_branch": t.FromBranchID,
			"to_branch":   t.ToBranchID,
			"status":      string(t.Status),
			"items":       len(t.Items),
		},
	})
}
