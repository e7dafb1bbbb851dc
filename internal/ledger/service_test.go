package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/internal/shared"
)

type memoryRepo struct {
	store *memoryStore
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{store: newMemoryStore()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, r.store)
}

func (r *memoryRepo) GetRecord(ctx context.Context, id Identity) (StockRecord, error) {
	return r.store.GetForUpdate(ctx, id)
}

func (r *memoryRepo) ListExpiring(ctx context.Context, within time.Duration, limit int) ([]StockRecord, error) {
	cutoff := time.Now().Add(within)
	var out []StockRecord
	for _, rec := range r.store.records {
		if rec.ExpiryDate != nil && rec.ExpiryDate.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, id Identity, page, perPage int) ([]Movement, shared.Pagination, error) {
	var matched []Movement
	for _, mv := range r.store.movements {
		if mv.VariantID == id.VariantID && mv.BranchID == id.BranchID && mv.BatchNumber == id.BatchNumber {
			matched = append(matched, mv)
		}
	}
	// Newest first, same as the SQL ordering.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	p := shared.NewPagination(page, perPage, len(matched))
	start := p.Offset()
	if start >= len(matched) {
		return []Movement{}, p, nil
	}
	end := start + p.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], p, nil
}

func TestServiceReceiveThenLevel(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	rec, err := svc.Receive(ctx, ReceiveInput{
		VariantID: 101, BranchID: 1, BatchNumber: "B-001",
		Qty: 25, Prices: testPrices(), ActorID: 7, RefModule: "PROCUREMENT",
	})
	require.NoError(t, err)
	require.Equal(t, int64(25), rec.QtyAvailable)

	level, err := svc.CurrentLevel(ctx, testIdentity())
	require.NoError(t, err)
	require.Equal(t, Level{Available: 25}, level)
}

func TestServiceConsumeValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Consume(ctx, ConsumeInput{VariantID: 0, BranchID: 1, BatchNumber: "B-001", Qty: 1})
	require.Error(t, err)

	_, err = svc.Consume(ctx, ConsumeInput{VariantID: 101, BranchID: 1, BatchNumber: "B-001", Qty: 1, RefID: "not-a-uuid"})
	require.Error(t, err)

	_, err = svc.Consume(ctx, ConsumeInput{VariantID: 101, BranchID: 1, BatchNumber: "B-001", Qty: 1})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestServiceAdjustMissingRecord(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustInput{VariantID: 101, BranchID: 1, BatchNumber: "B-404", Delta: 5})
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestServiceCurrentLevelMissingRecordIsZero(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	level, err := svc.CurrentLevel(ctx, Identity{VariantID: 999, BranchID: 1, BatchNumber: "NONE"})
	require.NoError(t, err)
	require.Equal(t, Level{}, level)
}

func TestServiceReceiveConsumeSequence(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{VariantID: 101, BranchID: 1, BatchNumber: "B-001", Qty: 40, Prices: testPrices()})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, ReceiveInput{VariantID: 101, BranchID: 1, BatchNumber: "B-001", Qty: 10, Prices: testPrices()})
	require.NoError(t, err)

	rec, err := svc.Consume(ctx, ConsumeInput{VariantID: 101, BranchID: 1, BatchNumber: "B-001", Qty: 30})
	require.NoError(t, err)
	require.Equal(t, int64(20), rec.QtyAvailable)

	level, err := svc.CurrentLevel(ctx, testIdentity())
	require.NoError(t, err)
	require.Equal(t, int64(20), level.Available)
	require.Len(t, repo.store.movements, 3)
}

func TestServiceListMovements(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Receive(ctx, ReceiveInput{VariantID: 101, BranchID: 1, BatchNumber: "B-001", Qty: 10, Prices: testPrices()})
		require.NoError(t, err)
	}
	_, err := svc.Consume(ctx, ConsumeInput{VariantID: 101, BranchID: 1, BatchNumber: "B-001", Qty: 5})
	require.NoError(t, err)

	movements, p, err := svc.ListMovements(ctx, testIdentity(), 1, 4)
	require.NoError(t, err)
	require.Len(t, movements, 4)
	require.Equal(t, 6, p.Total)
	require.Equal(t, 2, p.TotalPages)
	require.Equal(t, MovementConsume, movements[0].Kind)

	movements, _, err = svc.ListMovements(ctx, testIdentity(), 2, 4)
	require.NoError(t, err)
	require.Len(t, movements, 2)

	_, _, err = svc.ListMovements(ctx, Identity{}, 1, 4)
	require.ErrorIs(t, err, ErrIdentityRequired)
}

func TestServiceListExpiring(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	soon := time.Now().Add(48 * time.Hour)
	far := time.Now().Add(90 * 24 * time.Hour)
	repo.store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-SOON", ExpiryDate: &soon, QtyAvailable: 5})
	repo.store.seed(StockRecord{VariantID: 102, BranchID: 1, BatchNumber: "B-FAR", ExpiryDate: &far, QtyAvailable: 5})

	records, err := svc.ListExpiring(ctx, 7*24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "B-SOON", records[0].BatchNumber)
}
