package numbering

import (
	"context"
	"errors"
	"math"
	"time"
)

// RepositoryPort abstracts repository usage for the allocator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// Allocator mints document numbers. Counter state lives only in the
// store; nothing is cached in memory between requests, the row lock is
// the whole synchronization story.
type Allocator struct {
	repo RepositoryPort
}

// NewAllocator builds Allocator.
func NewAllocator(repo RepositoryPort) *Allocator {
	return &Allocator{repo: repo}
}

// Allocate mints one number in its own transaction. Document creation
// paths should prefer AllocateTx inside their own atomic unit so a failed
// document never reports a number as used.
func (a *Allocator) Allocate(ctx context.Context, key CounterKey) (string, error) {
	var number string
	err := a.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		var err error
		number, err = AllocateTx(ctx, store, key)
		return err
	})
	return number, err
}

// AllocateTx captures the counter's next value and increments it under
// the same row lock, then renders the captured value. Two concurrent
// allocators can never observe the same value: the second blocks on the
// locking read until the first commits or rolls back. The counter row is
// created lazily on first allocation; the insert takes the row lock for
// the rest of the transaction.
func AllocateTx(ctx context.Context, store TxStore, key CounterKey) (string, error) {
	counter, err := store.GetForUpdate(ctx, key)
	if errors.Is(err, ErrCounterNotFound) {
		counter = Counter{Key: key, NextValue: 1, Format: DefaultFormat(key.DocType)}
		if err := store.Insert(ctx, counter); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	if counter.NextValue == math.MaxInt64 {
		return "", ErrAllocatorExhausted
	}
	seq := counter.NextValue
	if err := store.SetNextValue(ctx, key, seq+1); err != nil {
		return "", err
	}
	return Render(counter.Format, key, seq, time.Now().UTC()), nil
}
