package sales

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/numbering"
	"github.com/stockline-erp/stockline/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Invoice, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LevelInvalidator drops cached stock levels after committed movements.
type LevelInvalidator interface {
	InvalidateLevel(ctx context.Context, ids ...ledger.Identity)
}

// Service creates sales invoices.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	levels LevelInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, levels LevelInvalidator) *Service {
	return &Service{repo: repo, audit: audit, levels: levels}
}

// LineInput describes one requested sale line. A zero UnitPrice defaults
// to the stock record's current selling price, read under the row lock.
type LineInput struct {
	VariantID   int64
	BatchNumber string
	Qty         int64
	UnitPrice   decimal.Decimal
}

// CreateInput describes an invoice creation request.
type CreateInput struct {
	OrgID      int64
	BranchID   int64
	CustomerID int64
	Lines      []LineInput
	ActorID    int64
	Note       string
}

// CreateInvoice runs the whole sale in one atomic unit: every target
// record is locked in identity order, availability is validated against
// the locked values, all consumptions apply, the invoice number is
// allocated and the document rows inserted. Any line failing rolls the
// entire document back, including the number.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInput) (Invoice, error) {
	if input.OrgID == 0 || input.BranchID == 0 {
		return Invoice{}, errors.New("sales: org and branch required")
	}
	if len(input.Lines) == 0 {
		return Invoice{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if line.VariantID == 0 || line.BatchNumber == "" {
			return Invoice{}, errors.New("sales: variant and batch required on every line")
		}
		if line.Qty <= 0 {
			return Invoice{}, fmt.Errorf("%w: sale qty %d", ledger.ErrInvalidQuantity, line.Qty)
		}
	}

	refID := uuid.NewString()
	inv := Invoice{
		OrgID:      input.OrgID,
		BranchID:   input.BranchID,
		CustomerID: input.CustomerID,
		Note:       input.Note,
		CreatedBy:  input.ActorID,
	}
	lines := make([]InvoiceLine, len(input.Lines))
	for i, line := range input.Lines {
		lines[i] = InvoiceLine{
			VariantID:   line.VariantID,
			BatchNumber: line.BatchNumber,
			Qty:         line.Qty,
			UnitPrice:   line.UnitPrice,
		}
	}

	// Fixed lock order across the document's rows.
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return s.identity(input.BranchID, lines[order[a]]).Less(s.identity(input.BranchID, lines[order[b]]))
	})

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		store := tx.Ledger()
		ref := ledger.Ref{Module: "SALES", ID: refID, ActorID: input.ActorID, Note: input.Note}
		total := decimal.Zero
		for _, i := range order {
			rec, err := ledger.ApplyConsume(ctx, store, s.identity(input.BranchID, lines[i]), lines[i].Qty, ref)
			if err != nil {
				return err
			}
			if lines[i].UnitPrice.IsZero() {
				lines[i].UnitPrice = rec.SellingPrice
			}
			lines[i].LineTotal = lines[i].UnitPrice.Mul(decimal.NewFromInt(lines[i].Qty))
			total = total.Add(lines[i].LineTotal)
		}
		number, err := numbering.AllocateTx(ctx, tx.Counters(), numbering.CounterKey{
			OrgID:    input.OrgID,
			BranchID: input.BranchID,
			DocType:  numbering.DocTypeSale,
		})
		if err != nil {
			return err
		}
		inv.Number = number
		inv.Total = total
		if err := tx.InsertInvoice(ctx, &inv); err != nil {
			return err
		}
		return tx.InsertLines(ctx, inv.ID, lines)
	})
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines = lines

	if s.levels != nil {
		for _, line := range lines {
			s.levels.InvalidateLevel(ctx, s.identity(input.BranchID, line))
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "sales:invoice",
			Entity:   "sales_invoice",
			EntityID: fmt.Sprintf("%d", inv.ID),
			Meta: map[string]any{
				"number":    inv.Number,
				"branch_id": input.BranchID,
				"total":     inv.Total.String(),
				"lines":     len(lines),
			},
		})
	}
	return inv, nil
}

// Get loads one invoice.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) identity(branchID int64, line InvoiceLine) ledger.Identity {
	return ledger.Identity{VariantID: line.VariantID, BranchID: branchID, BatchNumber: line.BatchNumber}
}
