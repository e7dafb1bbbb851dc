package procurement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/numbering"
	"github.com/stockline-erp/stockline/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LevelInvalidator drops cached stock levels after committed movements.
type LevelInvalidator interface {
	InvalidateLevel(ctx context.Context, ids ...ledger.Identity)
}

// Service posts purchases and drives purchase orders through receipt.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	levels LevelInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, levels LevelInvalidator) *Service {
	return &Service{repo: repo, audit: audit, levels: levels}
}

// PurchaseLineInput describes one received batch.
type PurchaseLineInput struct {
	VariantID   int64
	BatchNumber string
	ExpiryDate  *time.Time
	Qty         int64
	Prices      ledger.PriceFields
}

// PostPurchaseInput describes a direct purchase posting.
type PostPurchaseInput struct {
	OrgID      int64
	BranchID   int64
	SupplierID int64
	Lines      []PurchaseLineInput
	ActorID    int64
	Note       string
}

// PostPurchase records goods already received from a supplier: every
// batch is upserted into the ledger, the purchase number is allocated
// and the document rows inserted, all in one atomic unit.
func (s *Service) PostPurchase(ctx context.Context, input PostPurchaseInput) (Purchase, error) {
	if input.OrgID == 0 || input.BranchID == 0 {
		return Purchase{}, errors.New("procurement: org and branch required")
	}
	lines, err := buildPurchaseLines(input.Lines)
	if err != nil {
		return Purchase{}, err
	}

	refID := uuid.NewString()
	p := Purchase{
		OrgID:      input.OrgID,
		BranchID:   input.BranchID,
		SupplierID: input.SupplierID,
		Note:       input.Note,
		CreatedBy:  input.ActorID,
	}

	// Fixed lock order across the document's rows.
	order := sortedLineOrder(input.BranchID, lines)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		store := tx.Ledger()
		ref := ledger.Ref{Module: "PROCUREMENT", ID: refID, ActorID: input.ActorID, Note: input.Note}
		total := decimal.Zero
		for _, i := range order {
			id := purchaseIdentity(input.BranchID, lines[i])
			if _, err := ledger.ApplyReceive(ctx, store, id, lines[i].Qty, lines[i].ExpiryDate, lines[i].Prices, ref); err != nil {
				return err
			}
			total = total.Add(lines[i].Prices.PurchasePrice.Mul(decimal.NewFromInt(lines[i].Qty)))
		}
		number, err := numbering.AllocateTx(ctx, tx.Counters(), numbering.CounterKey{
			OrgID:    input.OrgID,
			BranchID: input.BranchID,
			DocType:  numbering.DocTypePurchase,
		})
		if err != nil {
			return err
		}
		p.Number = number
		p.Total = total
		if err := tx.InsertPurchase(ctx, &p); err != nil {
			return err
		}
		return tx.InsertPurchaseLines(ctx, p.ID, lines)
	})
	if err != nil {
		return Purchase{}, err
	}
	p.Lines = lines

	s.invalidatePurchase(ctx, input.BranchID, lines)
	s.recordAudit(ctx, input.ActorID, "procurement:purchase", "purchase", p.ID, map[string]any{
		"number":    p.Number,
		"branch_id": input.BranchID,
		"total":     p.Total.String(),
		"lines":     len(lines),
	})
	return p, nil
}

// POLineInput describes one ordered variant.
type POLineInput struct {
	VariantID int64
	Qty       int64
	Prices    ledger.PriceFields
}

// CreatePOInput describes a purchase order creation request.
type CreatePOInput struct {
	OrgID        int64
	BranchID     int64
	SupplierID   int64
	ExpectedDate *time.Time
	Lines        []POLineInput
	ActorID      int64
	Note         string
}

// CreatePurchaseOrder allocates a PO number and stores the order in OPEN
// status. No stock moves until the order is received.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if input.OrgID == 0 || input.BranchID == 0 {
		return PurchaseOrder{}, errors.New("procurement: org and branch required")
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, ErrNoLines
	}
	lines := make([]POLine, len(input.Lines))
	for i, line := range input.Lines {
		if line.VariantID == 0 {
			return PurchaseOrder{}, errors.New("procurement: variant required on every line")
		}
		if line.Qty <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: order qty %d", ledger.ErrInvalidQuantity, line.Qty)
		}
		lines[i] = POLine{VariantID: line.VariantID, Qty: line.Qty, Prices: line.Prices}
	}

	po := PurchaseOrder{
		OrgID:        input.OrgID,
		BranchID:     input.BranchID,
		SupplierID:   input.SupplierID,
		Status:       POStatusOpen,
		ExpectedDate: input.ExpectedDate,
		Note:         input.Note,
		CreatedBy:    input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := numbering.AllocateTx(ctx, tx.Counters(), numbering.CounterKey{
			OrgID:    input.OrgID,
			BranchID: input.BranchID,
			DocType:  numbering.DocTypePurchaseOrder,
		})
		if err != nil {
			return err
		}
		po.Number = number
		if err := tx.InsertPO(ctx, &po); err != nil {
			return err
		}
		return tx.InsertPOLines(ctx, po.ID, lines)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines = lines

	s.recordAudit(ctx, input.ActorID, "procurement:po-create", "purchase_order", po.ID, map[string]any{
		"number":    po.Number,
		"branch_id": input.BranchID,
		"lines":     len(lines),
	})
	return po, nil
}

// ReceiveLineInput assigns a batch to an ordered line at goods receipt.
type ReceiveLineInput struct {
	POLineID    int64
	BatchNumber string
	ExpiryDate  *time.Time
}

// ReceivePOInput describes a goods receipt against an open order.
type ReceivePOInput struct {
	POID    int64
	Lines   []ReceiveLineInput
	ActorID int64
	Note    string
}

// ReceivePurchaseOrder locks the order, verifies it is still open, posts
// every ordered quantity into the ledger under the batch assigned at
// receipt, and closes the order. Receipt is all-or-nothing.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, input ReceivePOInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, ErrNoLines
	}
	batches := make(map[int64]ReceiveLineInput, len(input.Lines))
	for _, line := range input.Lines {
		if line.BatchNumber == "" {
			return PurchaseOrder{}, errors.New("procurement: batch required on every receipt line")
		}
		batches[line.POLineID] = line
	}

	refID := uuid.NewString()
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		if po.Status != POStatusOpen {
			return fmt.Errorf("%w: status %s", ErrPONotOpen, po.Status)
		}
		if len(batches) != len(po.Lines) {
			return fmt.Errorf("%w: got %d receipt lines for %d ordered", ErrLineMismatch, len(batches), len(po.Lines))
		}
		lines := make([]PurchaseLine, len(po.Lines))
		for i, ordered := range po.Lines {
			recv, ok := batches[ordered.ID]
			if !ok {
				return fmt.Errorf("%w: line %d has no receipt", ErrLineMismatch, ordered.ID)
			}
			lines[i] = PurchaseLine{
				VariantID:   ordered.VariantID,
				BatchNumber: recv.BatchNumber,
				ExpiryDate:  recv.ExpiryDate,
				Qty:         ordered.Qty,
				Prices:      ordered.Prices,
			}
		}

		store := tx.Ledger()
		ref := ledger.Ref{Module: "PROCUREMENT", ID: refID, ActorID: input.ActorID, Note: input.Note}
		for _, i := range sortedLineOrder(po.BranchID, lines) {
			id := purchaseIdentity(po.BranchID, lines[i])
			if _, err := ledger.ApplyReceive(ctx, store, id, lines[i].Qty, lines[i].ExpiryDate, lines[i].Prices, ref); err != nil {
				return err
			}
		}
		return tx.SetPOStatus(ctx, po.ID, POStatusReceived)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = POStatusReceived

	if s.levels != nil {
		for _, line := range po.Lines {
			if recv, ok := batches[line.ID]; ok {
				s.levels.InvalidateLevel(ctx, ledger.Identity{
					VariantID:   line.VariantID,
					BranchID:    po.BranchID,
					BatchNumber: recv.BatchNumber,
				})
			}
		}
	}
	s.recordAudit(ctx, input.ActorID, "procurement:po-receive", "purchase_order", po.ID, map[string]any{
		"number":    po.Number,
		"branch_id": po.BranchID,
		"lines":     len(po.Lines),
	})
	return po, nil
}

// CancelPurchaseOrder cancels an order that has not been received yet.
func (s *Service) CancelPurchaseOrder(ctx context.Context, poID, actorID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusOpen {
			return fmt.Errorf("%w: status %s", ErrPONotOpen, po.Status)
		}
		return tx.SetPOStatus(ctx, po.ID, POStatusCancelled)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = POStatusCancelled

	s.recordAudit(ctx, actorID, "procurement:po-cancel", "purchase_order", po.ID, map[string]any{
		"number": po.Number,
	})
	return po, nil
}

// GetPurchase loads one posted purchase.
func (s *Service) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// GetPurchaseOrder loads one purchase order.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

func buildPurchaseLines(inputs []PurchaseLineInput) ([]PurchaseLine, error) {
	if len(inputs) == 0 {
		return nil, ErrNoLines
	}
	lines := make([]PurchaseLine, len(inputs))
	for i, line := range inputs {
		if line.VariantID == 0 || line.BatchNumber == "" {
			return nil, errors.New("procurement: variant and batch required on every line")
		}
		if line.Qty <= 0 {
			return nil, fmt.Errorf("%w: purchase qty %d", ledger.ErrInvalidQuantity, line.Qty)
		}
		lines[i] = PurchaseLine{
			VariantID:   line.VariantID,
			BatchNumber: line.BatchNumber,
			ExpiryDate:  line.ExpiryDate,
			Qty:         line.Qty,
			Prices:      line.Prices,
		}
	}
	return lines, nil
}

func sortedLineOrder(branchID int64, lines []PurchaseLine) []int {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return purchaseIdentity(branchID, lines[order[a]]).Less(purchaseIdentity(branchID, lines[order[b]]))
	})
	return order
}

func purchaseIdentity(branchID int64, line PurchaseLine) ledger.Identity {
	return ledger.Identity{VariantID: line.VariantID, BranchID: branchID, BatchNumber: line.BatchNumber}
}

func (s *Service) invalidatePurchase(ctx context.Context, branchID int64, lines []PurchaseLine) {
	if s.levels == nil {
		return
	}
	for _, line := range lines {
		s.levels.InvalidateLevel(ctx, purchaseIdentity(branchID, line))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
