package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/numbering"
	"github.com/stockline-erp/stockline/internal/platform/db"
)

// Repository persists purchases and purchase orders in PostgreSQL.
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
	InsertPurchase(ctx context.Context, p *Purchase) error
	InsertPurchaseLines(ctx context.Context, purchaseID int64, lines []PurchaseLine) error
	InsertPO(ctx context.Context, po *PurchaseOrder) error
	InsertPOLines(ctx context.Context, poID int64, lines []POLine) error
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	SetPOStatus(ctx context.Context, id int64, status POStatus) error
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
		return errors.New("procurement repository not initialised")
	}
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetPurchase loads one posted purchase with lines.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	if r == nil {
		return Purchase{}, errors.New("procurement repository not initialised")
	}
	var p Purchase
	err := r.pool.QueryRow(ctx, `SELECT id, number, org_id, branch_id, supplier_id, total, note, created_by, created_at
FROM purchases WHERE id=$1`, id).
		Scan(&p.ID, &p.Number, &p.OrgID, &p.BranchID, &p.SupplierID, &p.Total, &p.Note, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, purchase_id, variant_id, batch_number, expiry_date, qty, purchase_price, mrp, selling_price
FROM purchase_lines WHERE purchase_id=$1 ORDER BY id`, id)
	if err != nil {
		return Purchase{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line PurchaseLine
		if err := rows.Scan(&line.ID, &line.PurchaseID, &line.VariantID, &line.BatchNumber, &line.ExpiryDate,
			&line.Qty, &line.Prices.PurchasePrice, &line.Prices.MRP, &line.Prices.SellingPrice); err != nil {
			return Purchase{}, err
		}
		p.Lines = append(p.Lines, line)
	}
	return p, rows.Err()
}

// GetPO loads one purchase order with lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	if r == nil {
		return PurchaseOrder{}, errors.New("procurement repository not initialised")
	}
	return scanPO(ctx, r.pool, id, "")
}

func (r *txRepository) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(ctx, r.tx, id, " FOR UPDATE")
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanPO(ctx context.Context, q querier, id int64, suffix string) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := q.QueryRow(ctx, `SELECT id, number, org_id, branch_id, supplier_id, status, expected_date, note, created_by, created_at, updated_at
FROM purchase_orders WHERE id=$1`+suffix, id).
		Scan(&po.ID, &po.Number, &po.OrgID, &po.BranchID, &po.SupplierID, &po.Status, &po.ExpectedDate,
			&po.Note, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, po_id, variant_id, qty, purchase_price, mrp, selling_price
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.VariantID, &line.Qty,
			&line.Prices.PurchasePrice, &line.Prices.MRP, &line.Prices.SellingPrice); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, line)
	}
	return po, rows.Err()
}

func (r *txRepository) InsertPurchase(ctx context.Context, p *Purchase) error {
	return r.tx.QueryRow(ctx, `INSERT INTO purchases (number, org_id, branch_id, supplier_id, total, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		p.Number, p.OrgID, p.BranchID, p.SupplierID, p.Total, p.Note, p.CreatedBy).
		Scan(&p.ID, &p.CreatedAt)
}

func (r *txRepository) InsertPurchaseLines(ctx context.Context, purchaseID int64, lines []PurchaseLine) error {
	for i := range lines {
		err := r.tx.QueryRow(ctx, `INSERT INTO purchase_lines (purchase_id, variant_id, batch_number, expiry_date, qty, purchase_price, mrp, selling_price)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			purchaseID, lines[i].VariantID, lines[i].BatchNumber, lines[i].ExpiryDate, lines[i].Qty,
			lines[i].Prices.PurchasePrice, lines[i].Prices.MRP, lines[i].Prices.SellingPrice).
			Scan(&lines[i].ID)
		if err != nil {
			return err
		}
		lines[i].PurchaseID = purchaseID
	}
	return nil
}

func (r *txRepository) InsertPO(ctx context.Context, po *PurchaseOrder) error {
	return r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, org_id, branch_id, supplier_id, status, expected_date, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		po.Number, po.OrgID, po.BranchID, po.SupplierID, po.Status, po.ExpectedDate, po.Note, po.CreatedBy).
		Scan(&po.ID, &po.CreatedAt, &po.UpdatedAt)
}

func (r *txRepository) InsertPOLines(ctx context.Context, poID int64, lines []POLine) error {
	for i := range lines {
		err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, variant_id, qty, purchase_price, mrp, selling_price)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			poID, lines[i].VariantID, lines[i].Qty,
			lines[i].Prices.PurchasePrice, lines[i].Prices.MRP, lines[i].Prices.SellingPrice).
			Scan(&lines[i].ID)
		if err != nil {
			return err
		}
		lines[i].POID = poID
	}
	return nil
}

func (r *txRepository) SetPOStatus(ctx context.Context, id int64, status POStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
