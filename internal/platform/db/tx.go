package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConcurrencyConflict is returned when a transaction keeps losing
// serialization or deadlock races after the bounded retries in WithTxRetry.
var ErrConcurrencyConflict = errors.New("platform/db: concurrency conflict")

const maxTxAttempts = 3

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// WithTxRetry runs fn through WithTx, re-running it from scratch when the
// store reports a serialization failure (40001), deadlock (40P01) or
// unique violation (23505). The last covers lazy-creation races: a
// FOR UPDATE read of a row that does not exist yet locks nothing, so two
// first-writers of the same identity can both reach the insert; the loser
// re-runs and finds the row. The callback must re-read everything it
// depends on. After maxTxAttempts the conflict surfaces as
// ErrConcurrencyConflict.
func WithTxRetry(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = WithTx(ctx, pool, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "23505"
}
