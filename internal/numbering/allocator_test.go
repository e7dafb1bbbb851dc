package numbering

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryCounters struct {
	counters map[CounterKey]Counter
}

func newMemoryCounters() *memoryCounters {
	return &memoryCounters{counters: make(map[CounterKey]Counter)}
}

func (s *memoryCounters) GetForUpdate(ctx context.Context, key CounterKey) (Counter, error) {
	counter, ok := s.counters[key]
	if !ok {
		return Counter{}, ErrCounterNotFound
	}
	return counter, nil
}

func (s *memoryCounters) Insert(ctx context.Context, counter Counter) error {
	s.counters[counter.Key] = counter
	return nil
}

func (s *memoryCounters) SetNextValue(ctx context.Context, key CounterKey, next int64) error {
	counter, ok := s.counters[key]
	if !ok {
		return ErrCounterNotFound
	}
	counter.NextValue = next
	s.counters[key] = counter
	return nil
}

func (s *memoryCounters) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, s)
}

func TestAllocateSequential(t *testing.T) {
	store := newMemoryCounters()
	ctx := context.Background()
	key := CounterKey{OrgID: 1, BranchID: 1, DocType: DocTypeSale}

	year := time.Now().UTC().Format("2006")
	seen := make(map[string]bool)
	for i := 1; i <= 5; i++ {
		number, err := AllocateTx(ctx, store, key)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("INV/1/%s/%06d", year, i), number)
		require.False(t, seen[number])
		seen[number] = true
	}
	require.Equal(t, int64(6), store.counters[key].NextValue)
}

func TestAllocateCreatesCounterLazily(t *testing.T) {
	store := newMemoryCounters()
	ctx := context.Background()
	key := CounterKey{OrgID: 1, BranchID: 2, DocType: DocTypeTransfer}

	_, err := store.GetForUpdate(ctx, key)
	require.ErrorIs(t, err, ErrCounterNotFound)

	number, err := AllocateTx(ctx, store, key)
	require.NoError(t, err)
	require.Contains(t, number, "TRF/2/")

	counter, err := store.GetForUpdate(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(2), counter.NextValue)
}

func TestAllocateIndependentScopes(t *testing.T) {
	store := newMemoryCounters()
	ctx := context.Background()

	a, err := AllocateTx(ctx, store, CounterKey{OrgID: 1, BranchID: 1, DocType: DocTypeSale})
	require.NoError(t, err)
	b, err := AllocateTx(ctx, store, CounterKey{OrgID: 1, BranchID: 2, DocType: DocTypeSale})
	require.NoError(t, err)
	c, err := AllocateTx(ctx, store, CounterKey{OrgID: 1, BranchID: 1, DocType: DocTypePurchase})
	require.NoError(t, err)

	// Each (org, branch, type) scope counts on its own.
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
	for _, counter := range store.counters {
		require.Equal(t, int64(2), counter.NextValue)
	}
}

func TestAllocateExhausted(t *testing.T) {
	store := newMemoryCounters()
	ctx := context.Background()
	key := CounterKey{OrgID: 1, BranchID: 1, DocType: DocTypeSale}
	store.counters[key] = Counter{Key: key, NextValue: math.MaxInt64, Format: DefaultFormat(DocTypeSale)}

	_, err := AllocateTx(ctx, store, key)
	require.ErrorIs(t, err, ErrAllocatorExhausted)
	// Exhaustion must not burn the counter further.
	require.Equal(t, int64(math.MaxInt64), store.counters[key].NextValue)
}

func TestAllocatorOwnTx(t *testing.T) {
	store := newMemoryCounters()
	allocator := NewAllocator(store)
	ctx := context.Background()

	number, err := allocator.Allocate(ctx, CounterKey{OrgID: 1, BranchID: 1, DocType: DocTypePurchaseOrder})
	require.NoError(t, err)
	require.Contains(t, number, "PO/1/")
}

func TestRenderTokens(t *testing.T) {
	key := CounterKey{OrgID: 3, BranchID: 7, DocType: DocTypeSale}
	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	require.Equal(t, "SALE-3-7-2026-08-42", Render("{TYPE}-{ORG}-{BRANCH}-{YYYY}-{MM}-{SEQ}", key, 42, at))
	require.Equal(t, "INV/7/2026/000042", Render("INV/{BRANCH}/{YYYY}/{SEQ:6}", key, 42, at))
	require.Equal(t, "0042", Render("{SEQ:4}", key, 42, at))
	require.Equal(t, "plain", Render("plain", key, 42, at))
}
