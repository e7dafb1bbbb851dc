package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	records   map[Identity]StockRecord
	movements []Movement
	nextID    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[Identity]StockRecord)}
}

func (s *memoryStore) GetForUpdate(ctx context.Context, id Identity) (StockRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return StockRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

func (s *memoryStore) Insert(ctx context.Context, rec *StockRecord) error {
	s.nextID++
	rec.ID = s.nextID
	s.records[rec.Identity()] = *rec
	return nil
}

func (s *memoryStore) Update(ctx context.Context, rec StockRecord) error {
	if _, ok := s.records[rec.Identity()]; !ok {
		return ErrRecordNotFound
	}
	s.records[rec.Identity()] = rec
	return nil
}

func (s *memoryStore) InsertMovement(ctx context.Context, mv Movement) error {
	s.movements = append(s.movements, mv)
	return nil
}

func (s *memoryStore) seed(rec StockRecord) {
	s.nextID++
	rec.ID = s.nextID
	s.records[rec.Identity()] = rec
}

func testIdentity() Identity {
	return Identity{VariantID: 101, BranchID: 1, BatchNumber: "B-001"}
}

func testPrices() PriceFields {
	return PriceFields{
		PurchasePrice: decimal.RequireFromString("42.500"),
		MRP:           decimal.RequireFromString("60.000"),
		SellingPrice:  decimal.RequireFromString("55.000"),
	}
}

func TestApplyReceiveCreatesRecord(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	expiry := time.Now().AddDate(0, 6, 0)

	rec, err := ApplyReceive(ctx, store, testIdentity(), 100, &expiry, testPrices(), Ref{Module: "PROCUREMENT"})
	require.NoError(t, err)
	require.Equal(t, int64(100), rec.QtyAvailable)
	require.Equal(t, int64(0), rec.QtyReserved)
	require.NotNil(t, rec.ExpiryDate)
	require.True(t, rec.SellingPrice.Equal(decimal.RequireFromString("55.000")))

	require.Len(t, store.movements, 1)
	require.Equal(t, MovementReceive, store.movements[0].Kind)
	require.Equal(t, int64(100), store.movements[0].QtyDelta)
}

func TestApplyReceiveMergesIntoExistingBatch(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyAvailable: 50,
		PurchasePrice: decimal.RequireFromString("40.000")})

	rec, err := ApplyReceive(ctx, store, testIdentity(), 30, nil, testPrices(), Ref{})
	require.NoError(t, err)
	require.Equal(t, int64(80), rec.QtyAvailable)
	// Latest receive wins on prices.
	require.True(t, rec.PurchasePrice.Equal(decimal.RequireFromString("42.500")))
}

func TestApplyReceiveRejectsNonPositiveQty(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	_, err := ApplyReceive(ctx, store, testIdentity(), 0, nil, testPrices(), Ref{})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = ApplyReceive(ctx, store, testIdentity(), -5, nil, testPrices(), Ref{})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Empty(t, store.records)
	require.Empty(t, store.movements)
}

func TestApplyConsumeInsufficientStock(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyAvailable: 10})

	_, err := ApplyConsume(ctx, store, testIdentity(), 11, Ref{})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(10), insufficient.Available)
	require.Equal(t, int64(11), insufficient.Requested)

	// Rejected movement leaves the record untouched.
	require.Equal(t, int64(10), store.records[testIdentity()].QtyAvailable)
	require.Empty(t, store.movements)
}

func TestApplyConsumeExactDepletion(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyAvailable: 10})

	rec, err := ApplyConsume(ctx, store, testIdentity(), 10, Ref{})
	require.NoError(t, err)
	require.Equal(t, int64(0), rec.QtyAvailable)

	_, err = ApplyConsume(ctx, store, testIdentity(), 1, Ref{})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestApplyConsumeMissingRecord(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	_, err := ApplyConsume(ctx, store, testIdentity(), 1, Ref{})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestApplyConsumeIgnoresReserved(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyAvailable: 5, QtyReserved: 20})

	// Reserved quantity is quarantined; only available counts.
	_, err := ApplyConsume(ctx, store, testIdentity(), 6, Ref{})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestApplyAdjust(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyAvailable: 10})

	rec, err := ApplyAdjust(ctx, store, testIdentity(), -4, Ref{Note: "damage"})
	require.NoError(t, err)
	require.Equal(t, int64(6), rec.QtyAvailable)

	rec, err = ApplyAdjust(ctx, store, testIdentity(), 2, Ref{Note: "recount"})
	require.NoError(t, err)
	require.Equal(t, int64(8), rec.QtyAvailable)

	_, err = ApplyAdjust(ctx, store, testIdentity(), -9, Ref{})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(8), store.records[testIdentity()].QtyAvailable)

	_, err = ApplyAdjust(ctx, store, testIdentity(), 0, Ref{})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestApplyAdjustRequiresExistingRecord(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	_, err := ApplyAdjust(ctx, store, testIdentity(), 5, Ref{})
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyAvailable: 10})

	rec, err := ApplyReserve(ctx, store, testIdentity(), 7, Ref{})
	require.NoError(t, err)
	require.Equal(t, int64(3), rec.QtyAvailable)
	require.Equal(t, int64(7), rec.QtyReserved)

	rec, err = ApplyRelease(ctx, store, testIdentity(), 7, Ref{})
	require.NoError(t, err)
	require.Equal(t, int64(10), rec.QtyAvailable)
	require.Equal(t, int64(0), rec.QtyReserved)
}

func TestApplyReserveInsufficient(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyAvailable: 5})

	_, err := ApplyReserve(ctx, store, testIdentity(), 6, Ref{})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(5), store.records[testIdentity()].QtyAvailable)
	require.Equal(t, int64(0), store.records[testIdentity()].QtyReserved)
}

func TestApplyReleaseMoreThanReserved(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyAvailable: 3, QtyReserved: 2})

	_, err := ApplyRelease(ctx, store, testIdentity(), 3, Ref{})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestApplyCommitReservation(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	expiry := time.Now().AddDate(0, 3, 0)
	src := testIdentity()
	dst := Identity{VariantID: 101, BranchID: 2, BatchNumber: "B-001"}
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyReserved: 7,
		ExpiryDate: &expiry, SellingPrice: decimal.RequireFromString("55.000")})

	srcRec, dstRec, err := ApplyCommitReservation(ctx, store, src, 7, dst, &expiry, testPrices(), Ref{})
	require.NoError(t, err)
	require.Equal(t, int64(0), srcRec.QtyReserved)
	require.Equal(t, int64(7), dstRec.QtyAvailable)
	require.NotNil(t, dstRec.ExpiryDate)
	require.True(t, dstRec.SellingPrice.Equal(decimal.RequireFromString("55.000")))

	// Destination merges into an existing batch on a second commit.
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-002", QtyReserved: 3})
	src2 := Identity{VariantID: 101, BranchID: 1, BatchNumber: "B-002"}
	dst2 := Identity{VariantID: 101, BranchID: 2, BatchNumber: "B-002"}
	_, dstRec, err = ApplyCommitReservation(ctx, store, src2, 3, dst2, nil, testPrices(), Ref{})
	require.NoError(t, err)
	require.Equal(t, int64(3), dstRec.QtyAvailable)
}

func TestApplyCommitReservationInsufficient(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	src := testIdentity()
	dst := Identity{VariantID: 101, BranchID: 2, BatchNumber: "B-001"}
	store.seed(StockRecord{VariantID: 101, BranchID: 1, BatchNumber: "B-001", QtyReserved: 2})

	_, _, err := ApplyCommitReservation(ctx, store, src, 5, dst, nil, testPrices(), Ref{})
	require.ErrorIs(t, err, ErrInsufficientStock)
	_, ok := store.records[dst]
	require.False(t, ok)
}

func TestMovementJournal(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	id := testIdentity()
	ref := Ref{Module: "PROCUREMENT", ID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", ActorID: 9, Note: "grn"}

	_, err := ApplyReceive(ctx, store, id, 10, nil, testPrices(), ref)
	require.NoError(t, err)
	_, err = ApplyReserve(ctx, store, id, 4, Ref{Module: "TRANSFER"})
	require.NoError(t, err)
	_, err = ApplyRelease(ctx, store, id, 4, Ref{Module: "TRANSFER"})
	require.NoError(t, err)

	require.Len(t, store.movements, 3)
	require.Equal(t, MovementReceive, store.movements[0].Kind)
	require.Equal(t, "PROCUREMENT", store.movements[0].RefModule)
	require.Equal(t, int64(9), store.movements[0].ActorID)
	require.Equal(t, MovementReserve, store.movements[1].Kind)
	require.Equal(t, int64(-4), store.movements[1].QtyDelta)
	require.Equal(t, int64(4), store.movements[1].ReservedDelta)
	require.Equal(t, MovementRelease, store.movements[2].Kind)
	require.Equal(t, int64(4), store.movements[2].QtyDelta)
	require.Equal(t, int64(-4), store.movements[2].ReservedDelta)

	// Postings without a gateway actor journal actor 0, never a dropped
	// value.
	require.Equal(t, int64(0), store.movements[1].ActorID)
	require.Equal(t, int64(0), store.movements[2].ActorID)
}
