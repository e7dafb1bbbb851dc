package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/numbering"
	"github.com/stockline-erp/stockline/internal/platform/db"
)

// Repository persists invoices in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service,
// with the ledger and counter stores bound to the same transaction.
type TxRepository interface {
	Ledger() ledger.TxStore
	Counters() numbering.TxStore
	InsertInvoice(ctx context.Context, inv *Invoice) error
	InsertLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxStore {
	return ledger.NewTxStore(r.tx)
}

func (r *txRepository) Counters() numbering.TxStore {
	return numbering.NewTxStore(r.tx)
}

// WithTx executes the callback inside a repeatable-read transaction,
// retrying from scratch on serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
	}
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads one invoice with lines.
func (r *Repository) Get(ctx context.Context, id int64) (Invoice, error) {
	if r == nil {
		return Invoice{}, errors.New("sales repository not initialised")
	}
	var inv Invoice
	err := r.pool.QueryRow(ctx, `SELECT id, number, org_id, branch_id, customer_id, total, note, created_by, created_at
FROM sales_invoices WHERE id=$1`, id).
		Scan(&inv.ID, &inv.Number, &inv.OrgID, &inv.BranchID, &inv.CustomerID, &inv.Total, &inv.Note, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, variant_id, batch_number, qty, unit_price, line_total
FROM sales_invoice_lines WHERE invoice_id=$1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.VariantID, &line.BatchNumber, &line.Qty, &line.UnitPrice, &line.LineTotal); err != nil {
			return Invoice{}, err
		}
		inv.Lines = append(inv.Lines, line)
	}
	return inv, rows.Err()
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv *Invoice) error {
	return r.tx.QueryRow(ctx, `INSERT INTO sales_invoices (number, org_id, branch_id, customer_id, total, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		inv.Number, inv.OrgID, inv.BranchID, inv.CustomerID, inv.Total, inv.Note, inv.CreatedBy).
		Scan(&inv.ID, &inv.CreatedAt)
}

func (r *txRepository) InsertLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error {
	for i := range lines {
		err := r.tx.QueryRow(ctx, `INSERT INTO sales_invoice_lines (invoice_id, variant_id, batch_number, qty, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			invoiceID, lines[i].VariantID, lines[i].BatchNumber, lines[i].Qty, lines[i].UnitPrice, lines[i].LineTotal).
			Scan(&lines[i].ID)
		if err != nil {
			return err
		}
		lines[i].InvoiceID = invoiceID
	}
	return nil
}
