package transfer

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/numbering"
	"github.com/stockline-erp/stockline/internal/platform/db"
)

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service.
// Ledger and Counters are bound to the same transaction, so reservations,
// number allocation and the transfer rows commit or roll back together.
type TxRepository interface {
	Ledger() ledger.TxStore
	Counters() numbering.TxStore
	Insert(ctx context.Context, t *TransferRequest) error
	InsertItems(ctx context.Context, transferID int64, items []TransferItem) error
	GetForUpdate(ctx context.Context, id int64) (TransferRequest, error)
	SetStatus(ctx context.Context, id int64, status Status) error
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
		return errors.New("transfer repository not initialised")
	}
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads one transfer with its items, without locking.
func (r *Repository) Get(ctx context.Context, id int64) (TransferRequest, error) {
	if r == nil {
		return TransferRequest{}, errors.New("transfer repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `SELECT id, number, org_id, from_branch_id, to_branch_id, status, note, created_by, created_at, updated_at
FROM stock_transfers WHERE id=$1`, id)
	t, err := scanTransfer(row)
	if err != nil {
		return TransferRequest{}, err
	}
	t.Items, err = loadItems(ctx, r.pool, id)
	return t, err
}

func (r *txRepository) Insert(ctx context.Context, t *TransferRequest) error {
	return r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (number, org_id, from_branch_id, to_branch_id, status, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		t.Number, t.OrgID, t.FromBranchID, t.ToBranchID, string(t.Status), t.Note, t.CreatedBy).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *txRepository) InsertItems(ctx context.Context, transferID int64, items []TransferItem) error {
	for i := range items {
		err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfer_items (transfer_id, variant_id, batch_number, qty, expiry_date, purchase_price, mrp, selling_price)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			transferID, items[i].VariantID, items[i].BatchNumber, items[i].Qty, items[i].ExpiryDate,
			items[i].Prices.PurchasePrice, items[i].Prices.MRP, items[i].Prices.SellingPrice).
			Scan(&items[i].ID)
		if err != nil {
			return err
		}
		items[i].TransferID = transferID
	}
	return nil
}

// GetForUpdate locks the transfer header for the rest of the transaction,
// serializing concurrent transitions of the same transfer.
func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (TransferRequest, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, number, org_id, from_branch_id, to_branch_id, status, note, created_by, created_at, updated_at
FROM stock_transfers WHERE id=$1 FOR UPDATE`, id)
	t, err := scanTransfer(row)
	if err != nil {
		return TransferRequest{}, err
	}
	t.Items, err = loadItems(ctx, r.tx, id)
	return t, err
}

func (r *txRepository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_transfers SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, transferID int64) ([]TransferItem, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, variant_id, batch_number, qty, expiry_date, purchase_price, mrp, selling_price
FROM stock_transfer_items WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []TransferItem{}
	for rows.Next() {
		var item TransferItem
		if err := rows.Scan(&item.ID, &item.TransferID, &item.VariantID, &item.BatchNumber, &item.Qty,
			&item.ExpiryDate, &item.Prices.PurchasePrice, &item.Prices.MRP, &item.Prices.SellingPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (TransferRequest, error) {
	var t TransferRequest
	err := row.Scan(&t.ID, &t.Number, &t.OrgID, &t.FromBranchID, &t.ToBranchID, &t.Status, &t.Note,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransferRequest{}, ErrNotFound
		}
		return TransferRequest{}, err
	}
	return t, nil
}
