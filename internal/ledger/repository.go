package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/platform/db"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxStore exposes the transactional storage operations the movement
// operations are built on. GetForUpdate is the locking read: it blocks
// concurrent mutators of the same identity until the transaction ends.
type TxStore interface {
	GetForUpdate(ctx context.Context, id Identity) (StockRecord, error)
	Insert(ctx context.Context, rec *StockRecord) error
	Update(ctx context.Context, rec StockRecord) error
	InsertMovement(ctx context.Context, mv Movement) error
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds a TxStore to an open transaction. Composing modules
// (sales, procurement, transfers) use this to run movement operations
// inside their own atomic unit.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction,
// retrying from scratch on serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

// GetRecord reads one stock record without locking.
func (r *Repository) GetRecord(ctx context.Context, id Identity) (StockRecord, error) {
	if r == nil {
		return StockRecord{}, errors.New("ledger repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `SELECT id, variant_id, branch_id, batch_number, expiry_date, qty_available, qty_reserved, purchase_price, mrp, selling_price, updated_at
FROM stock_records WHERE variant_id=$1 AND branch_id=$2 AND batch_number=$3`, id.VariantID, id.BranchID, id.BatchNumber)
	return scanRecord(row)
}

// ListExpiring returns records whose batches expire within the horizon,
// soonest first. Used by the nightly expiry scan.
func (r *Repository) ListExpiring(ctx context.Context, within time.Duration, limit int) ([]StockRecord, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	if limit <= 0 {
		limit = 200
	}
	cutoff := time.Now().UTC().Add(within)
	rows, err := r.pool.Query(ctx, `SELECT id, variant_id, branch_id, batch_number, expiry_date, qty_available, qty_reserved, purchase_price, mrp, selling_price, updated_at
FROM stock_records
WHERE expiry_date IS NOT NULL AND expiry_date <= $1 AND (qty_available > 0 OR qty_reserved > 0)
ORDER BY expiry_date ASC
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []StockRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListMovements pages through the journal of one record, newest first.
func (r *Repository) ListMovements(ctx context.Context, id Identity, page, perPage int) ([]Movement, shared.Pagination, error) {
	if r == nil {
		return nil, shared.Pagination{}, errors.New("ledger repository not initialised")
	}
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements
WHERE variant_id=$1 AND branch_id=$2 AND batch_number=$3`, id.VariantID, id.BranchID, id.BatchNumber).Scan(&total)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	p := shared.NewPagination(page, perPage, total)
	rows, err := r.pool.Query(ctx, `SELECT id, kind, variant_id, branch_id, batch_number, qty_delta, reserved_delta, ref_module, COALESCE(ref_id::text, ''), actor_id, note, posted_at
FROM stock_movements
WHERE variant_id=$1 AND branch_id=$2 AND batch_number=$3
ORDER BY posted_at DESC, id DESC
LIMIT $4 OFFSET $5`, id.VariantID, id.BranchID, id.BatchNumber, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.Kind, &mv.VariantID, &mv.BranchID, &mv.BatchNumber, &mv.QtyDelta,
			&mv.ReservedDelta, &mv.RefModule, &mv.RefID, &mv.ActorID, &mv.Note, &mv.PostedAt); err != nil {
			return nil, shared.Pagination{}, err
		}
		movements = append(movements, mv)
	}
	return movements, p, rows.Err()
}

func (s *txStore) GetForUpdate(ctx context.Context, id Identity) (StockRecord, error) {
	row := s.tx.QueryRow(ctx, `SELECT id, variant_id, branch_id, batch_number, expiry_date, qty_available, qty_reserved, purchase_price, mrp, selling_price, updated_at
FROM stock_records WHERE variant_id=$1 AND branch_id=$2 AND batch_number=$3 FOR UPDATE`, id.VariantID, id.BranchID, id.BatchNumber)
	return scanRecord(row)
}

func (s *txStore) Insert(ctx context.Context, rec *StockRecord) error {
	return s.tx.QueryRow(ctx, `INSERT INTO stock_records (variant_id, branch_id, batch_number, expiry_date, qty_available, qty_reserved, purchase_price, mrp, selling_price, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		rec.VariantID, rec.BranchID, rec.BatchNumber, rec.ExpiryDate, rec.QtyAvailable, rec.QtyReserved, rec.PurchasePrice, rec.MRP, rec.SellingPrice).Scan(&rec.ID)
}

func (s *txStore) Update(ctx context.Context, rec StockRecord) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_records
SET expiry_date=$4, qty_available=$5, qty_reserved=$6, purchase_price=$7, mrp=$8, selling_price=$9, updated_at=NOW()
WHERE variant_id=$1 AND branch_id=$2 AND batch_number=$3`,
		rec.VariantID, rec.BranchID, rec.BatchNumber, rec.ExpiryDate, rec.QtyAvailable, rec.QtyReserved, rec.PurchasePrice, rec.MRP, rec.SellingPrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *txStore) InsertMovement(ctx context.Context, mv Movement) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_movements (kind, variant_id, branch_id, batch_number, qty_delta, reserved_delta, ref_module, ref_id, actor_id, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		string(mv.Kind), mv.VariantID, mv.BranchID, mv.BatchNumber, mv.QtyDelta, mv.ReservedDelta, mv.RefModule, nullUUID(mv.RefID), mv.ActorID, mv.Note, mv.PostedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (StockRecord, error) {
	var rec StockRecord
	err := row.Scan(&rec.ID, &rec.VariantID, &rec.BranchID, &rec.BatchNumber, &rec.ExpiryDate,
		&rec.QtyAvailable, &rec.QtyReserved, &rec.PurchasePrice, &rec.MRP, &rec.SellingPrice, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrRecordNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

func nullUUID(value string) any {
	if value == "" {
		return nil
	}
	return value
}
