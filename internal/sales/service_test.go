package sales

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/internal/ledger"
	"github.com/stockline-erp/stockline/internal/numbering"
)

type memLedger struct {
	records   map[ledger.Identity]ledger.StockRecord
	movements []ledger.Movement
	nextID    int64
}

func (s *memLedger) GetForUpdate(ctx context.Context, id ledger.Identity) (ledger.StockRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return ledger.StockRecord{}, ledger.ErrRecordNotFound
	}
	return rec, nil
}

func (s *memLedger) Insert(ctx context.Context, rec *ledger.StockRecord) error {
	s.nextID++
	rec.ID = s.nextID
	s.records[rec.Identity()] = *rec
	return nil
}

func (s *memLedger) Update(ctx context.Context, rec ledger.StockRecord) error {
	if _, ok := s.records[rec.Identity()]; !ok {
		return ledger.ErrRecordNotFound
	}
	s.records[rec.Identity()] = rec
	return nil
}

func (s *memLedger) InsertMovement(ctx context.Context, mv ledger.Movement) error {
	s.movements = append(s.movements, mv)
	return nil
}

type memCounters struct {
	counters map[numbering.CounterKey]numbering.Counter
}

func (s *memCounters) GetForUpdate(ctx context.Context, key numbering.CounterKey) (numbering.Counter, error) {
	counter, ok := s.counters[key]
	if !ok {
		return numbering.Counter{}, numbering.ErrCounterNotFound
	}
	return counter, nil
}

func (s *memCounters) Insert(ctx context.Context, counter numbering.Counter) error {
	s.counters[counter.Key] = counter
	return nil
}

func (s *memCounters) SetNextValue(ctx context.Context, key numbering.CounterKey, next int64) error {
	counter, ok := s.counters[key]
	if !ok {
		return numbering.ErrCounterNotFound
	}
	counter.NextValue = next
	s.counters[key] = counter
	return nil
}

type memoryRepo struct {
	stock    *memLedger
	counters *memCounters
	invoices map[int64]Invoice
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stock:    &memLedger{records: make(map[ledger.Identity]ledger.StockRecord)},
		counters: &memCounters{counters: make(map[numbering.CounterKey]numbering.Counter)},
		invoices: make(map[int64]Invoice),
	}
}

func (r *memoryRepo) seed(rec ledger.StockRecord) {
	r.stock.nextID++
	rec.ID = r.stock.nextID
	r.stock.records[rec.Identity()] = rec
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) Ledger() ledger.TxStore      { return tx.repo.stock }
func (tx *memoryTx) Counters() numbering.TxStore { return tx.repo.counters }

func (tx *memoryTx) InsertInvoice(ctx context.Context, inv *Invoice) error {
	tx.repo.nextID++
	inv.ID = tx.repo.nextID
	tx.repo.invoices[inv.ID] = *inv
	return nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error {
	inv := tx.repo.invoices[invoiceID]
	inv.Lines = append([]InvoiceLine(nil), lines...)
	tx.repo.invoices[invoiceID] = inv
	return nil
}

// WithTx snapshots state before the callback and restores it when the
// callback fails, mirroring a rolled back transaction.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	records := make(map[ledger.Identity]ledger.StockRecord, len(r.stock.records))
	for k, v := range r.stock.records {
		records[k] = v
	}
	movements := append([]ledger.Movement(nil), r.stock.movements...)
	counters := make(map[numbering.CounterKey]numbering.Counter, len(r.counters.counters))
	for k, v := range r.counters.counters {
		counters[k] = v
	}
	invoices := make(map[int64]Invoice, len(r.invoices))
	for k, v := range r.invoices {
		invoices[k] = v
	}
	nextID := r.nextID

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.stock.records = records
		r.stock.movements = movements
		r.counters.counters = counters
		r.invoices = invoices
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

func seedBatch(repo *memoryRepo, variantID int64, batch string, qty int64, selling string) {
	repo.seed(ledger.StockRecord{
		VariantID:    variantID,
		BranchID:     1,
		BatchNumber:  batch,
		QtyAvailable: qty,
		SellingPrice: decimal.RequireFromString(selling),
	})
}

func TestCreateInvoice(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	seedBatch(repo, 101, "B-001", 100, "55.000")
	seedBatch(repo, 102, "B-002", 50, "12.500")

	inv, err := svc.CreateInvoice(context.Background(), CreateInput{
		OrgID:    1,
		BranchID: 1,
		Lines: []LineInput{
			{VariantID: 101, BatchNumber: "B-001", Qty: 2},
			{VariantID: 102, BatchNumber: "B-002", Qty: 4, UnitPrice: decimal.RequireFromString("10.000")},
		},
		ActorID: 7,
	})
	require.NoError(t, err)
	require.Contains(t, inv.Number, "INV/1/")
	require.Len(t, inv.Lines, 2)

	// Zero unit price defaults to the record's selling price.
	require.True(t, inv.Lines[0].UnitPrice.Equal(decimal.RequireFromString("55.000")))
	require.True(t, inv.Lines[1].UnitPrice.Equal(decimal.RequireFromString("10.000")))
	require.True(t, inv.Total.Equal(decimal.RequireFromString("150.000")))

	require.Equal(t, int64(98), repo.stock.records[ledger.Identity{VariantID: 101, BranchID: 1, BatchNumber: "B-001"}].QtyAvailable)
	require.Equal(t, int64(46), repo.stock.records[ledger.Identity{VariantID: 102, BranchID: 1, BatchNumber: "B-002"}].QtyAvailable)
}

func TestCreateInvoiceAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	seedBatch(repo, 101, "B-001", 100, "55.000")
	seedBatch(repo, 102, "B-002", 3, "12.500")
	seedBatch(repo, 103, "B-003", 60, "20.000")

	_, err := svc.CreateInvoice(context.Background(), CreateInput{
		OrgID:    1,
		BranchID: 1,
		Lines: []LineInput{
			{VariantID: 101, BatchNumber: "B-001", Qty: 10},
			{VariantID: 102, BatchNumber: "B-002", Qty: 5},
			{VariantID: 103, BatchNumber: "B-003", Qty: 1},
		},
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	// No line survives, no journal rows, no number consumed.
	require.Equal(t, int64(100), repo.stock.records[ledger.Identity{VariantID: 101, BranchID: 1, BatchNumber: "B-001"}].QtyAvailable)
	require.Equal(t, int64(3), repo.stock.records[ledger.Identity{VariantID: 102, BranchID: 1, BatchNumber: "B-002"}].QtyAvailable)
	require.Equal(t, int64(60), repo.stock.records[ledger.Identity{VariantID: 103, BranchID: 1, BatchNumber: "B-003"}].QtyAvailable)
	require.Empty(t, repo.stock.movements)
	require.Empty(t, repo.invoices)
	require.Empty(t, repo.counters.counters)
}

func TestCreateInvoiceSequentialNumbers(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	seedBatch(repo, 101, "B-001", 100, "55.000")

	first, err := svc.CreateInvoice(context.Background(), CreateInput{
		OrgID: 1, BranchID: 1,
		Lines: []LineInput{{VariantID: 101, BatchNumber: "B-001", Qty: 1}},
	})
	require.NoError(t, err)
	second, err := svc.CreateInvoice(context.Background(), CreateInput{
		OrgID: 1, BranchID: 1,
		Lines: []LineInput{{VariantID: 101, BatchNumber: "B-001", Qty: 1}},
	})
	require.NoError(t, err)
	require.NotEqual(t, first.Number, second.Number)
	require.Less(t, first.Number, second.Number)
}

func TestCreateInvoiceValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateInvoice(ctx, CreateInput{OrgID: 1, BranchID: 1})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.CreateInvoice(ctx, CreateInput{OrgID: 1, BranchID: 1,
		Lines: []LineInput{{VariantID: 101, BatchNumber: "B-001", Qty: 0}}})
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)

	_, err = svc.CreateInvoice(ctx, CreateInput{OrgID: 1, BranchID: 1,
		Lines: []LineInput{{VariantID: 0, BatchNumber: "B-001", Qty: 1}}})
	require.Error(t, err)
}
