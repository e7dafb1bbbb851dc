package numbering

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/platform/db"
)

// Repository persists document counters in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxStore exposes counter storage bound to one transaction. GetForUpdate
// is the locking read: the capture-then-increment in AllocateTx runs
// entirely under that row lock.
type TxStore interface {
	GetForUpdate(ctx context.Context, key CounterKey) (Counter, error)
	Insert(ctx context.Context, counter Counter) error
	SetNextValue(ctx context.Context, key CounterKey, next int64) error
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds a TxStore to an open transaction so document creation
// allocates its number inside the same atomic unit.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction,
// retrying from scratch on serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("numbering repository not initialised")
	}
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

func (s *txStore) GetForUpdate(ctx context.Context, key CounterKey) (Counter, error) {
	counter := Counter{Key: key}
	err := s.tx.QueryRow(ctx, `SELECT next_value, format FROM document_counters
WHERE org_id=$1 AND branch_id=$2 AND doc_type=$3 FOR UPDATE`, key.OrgID, key.BranchID, string(key.DocType)).
		Scan(&counter.NextValue, &counter.Format)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Counter{}, ErrCounterNotFound
		}
		return Counter{}, err
	}
	return counter, nil
}

func (s *txStore) Insert(ctx context.Context, counter Counter) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO document_counters (org_id, branch_id, doc_type, next_value, format)
VALUES ($1,$2,$3,$4,$5)`, counter.Key.OrgID, counter.Key.BranchID, string(counter.Key.DocType), counter.NextValue, counter.Format)
	return err
}

func (s *txStore) SetNextValue(ctx context.Context, key CounterKey, next int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE document_counters SET next_value=$4
WHERE org_id=$1 AND branch_id=$2 AND doc_type=$3`, key.OrgID, key.BranchID, string(key.DocType), next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCounterNotFound
	}
	return nil
}
