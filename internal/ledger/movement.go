package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Movement operations mutate stock records inside the caller's atomic
// unit. Every operation takes its own locking read, re-validates the
// business rule against the locked value, applies a single write and
// journals the change. Callers composing several operations in one
// document must apply them in Identity order (see Identity.Less).

// ApplyReceive adds qty to the record's available quantity, creating the
// record when the identity is new. Price fields are overwritten with the
// latest values; a non-nil expiry overwrites the stored expiry.
func ApplyReceive(ctx context.Context, store TxStore, id Identity, qty int64, expiry *time.Time, prices PriceFields, ref Ref) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, fmt.Errorf("%w: receive qty %d", ErrInvalidQuantity, qty)
	}
	rec, err := store.GetForUpdate(ctx, id)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		rec = StockRecord{
			VariantID:     id.VariantID,
			BranchID:      id.BranchID,
			BatchNumber:   id.BatchNumber,
			ExpiryDate:    expiry,
			QtyAvailable:  qty,
			PurchasePrice: prices.PurchasePrice,
			MRP:           prices.MRP,
			SellingPrice:  prices.SellingPrice,
		}
		if err := store.Insert(ctx, &rec); err != nil {
			return StockRecord{}, err
		}
	case err != nil:
		return StockRecord{}, err
	default:
		rec.QtyAvailable += qty
		rec.PurchasePrice = prices.PurchasePrice
		rec.MRP = prices.MRP
		rec.SellingPrice = prices.SellingPrice
		if expiry != nil {
			rec.ExpiryDate = expiry
		}
		if err := store.Update(ctx, rec); err != nil {
			return StockRecord{}, err
		}
	}
	if err := journal(ctx, store, MovementReceive, id, qty, 0, ref); err != nil {
		return StockRecord{}, err
	}
	return rec, nil
}

// ApplyConsume removes qty from the available quantity. The availability
// check runs against the locked row, so a concurrent consumer cannot
// observe the same stock twice.
func ApplyConsume(ctx context.Context, store TxStore, id Identity, qty int64, ref Ref) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, fmt.Errorf("%w: consume qty %d", ErrInvalidQuantity, qty)
	}
	rec, err := store.GetForUpdate(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return StockRecord{}, &InsufficientStockError{Identity: id, Available: 0, Requested: qty}
	}
	if err != nil {
		return StockRecord{}, err
	}
	if rec.QtyAvailable < qty {
		return StockRecord{}, &InsufficientStockError{Identity: id, Available: rec.QtyAvailable, Requested: qty}
	}
	rec.QtyAvailable -= qty
	if err := store.Update(ctx, rec); err != nil {
		return StockRecord{}, err
	}
	if err := journal(ctx, store, MovementConsume, id, -qty, 0, ref); err != nil {
		return StockRecord{}, err
	}
	return rec, nil
}

// ApplyAdjust applies a signed delta to the available quantity. The record
// must already exist; adjustments never create stock out of nothing.
func ApplyAdjust(ctx context.Context, store TxStore, id Identity, delta int64, ref Ref) (StockRecord, error) {
	if delta == 0 {
		return StockRecord{}, fmt.Errorf("%w: adjustment delta must be non zero", ErrInvalidQuantity)
	}
	rec, err := store.GetForUpdate(ctx, id)
	if err != nil {
		return StockRecord{}, err
	}
	if rec.QtyAvailable+delta < 0 {
		return StockRecord{}, &InsufficientStockError{Identity: id, Available: rec.QtyAvailable, Requested: -delta}
	}
	rec.QtyAvailable += delta
	if err := store.Update(ctx, rec); err != nil {
		return StockRecord{}, err
	}
	if err := journal(ctx, store, MovementAdjust, id, delta, 0, ref); err != nil {
		return StockRecord{}, err
	}
	return rec, nil
}

// ApplyReserve moves qty from available to reserved in a single update,
// quarantining it for a pending transfer.
func ApplyReserve(ctx context.Context, store TxStore, id Identity, qty int64, ref Ref) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, fmt.Errorf("%w: reserve qty %d", ErrInvalidQuantity, qty)
	}
	rec, err := store.GetForUpdate(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return StockRecord{}, &InsufficientStockError{Identity: id, Available: 0, Requested: qty}
	}
	if err != nil {
		return StockRecord{}, err
	}
	if rec.QtyAvailable < qty {
		return StockRecord{}, &InsufficientStockError{Identity: id, Available: rec.QtyAvailable, Requested: qty}
	}
	rec.QtyAvailable -= qty
	rec.QtyReserved += qty
	if err := store.Update(ctx, rec); err != nil {
		return StockRecord{}, err
	}
	if err := journal(ctx, store, MovementReserve, id, -qty, qty, ref); err != nil {
		return StockRecord{}, err
	}
	return rec, nil
}

// ApplyRelease moves qty back from reserved to available when a transfer
// is cancelled.
func ApplyRelease(ctx context.Context, store TxStore, id Identity, qty int64, ref Ref) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, fmt.Errorf("%w: release qty %d", ErrInvalidQuantity, qty)
	}
	rec, err := store.GetForUpdate(ctx, id)
	if err != nil {
		return StockRecord{}, err
	}
	if rec.QtyReserved < qty {
		return StockRecord{}, &InsufficientStockError{Identity: id, Available: rec.QtyReserved, Requested: qty}
	}
	rec.QtyReserved -= qty
	rec.QtyAvailable += qty
	if err := store.Update(ctx, rec); err != nil {
		return StockRecord{}, err
	}
	if err := journal(ctx, store, MovementRelease, id, qty, -qty, ref); err != nil {
		return StockRecord{}, err
	}
	return rec, nil
}

// ApplyCommitReservation permanently removes qty from the source record's
// reserved quantity and receives it on the destination, both inside the
// caller's atomic unit. The two rows are locked in Identity order.
func ApplyCommitReservation(ctx context.Context, store TxStore, src Identity, qty int64, dst Identity, expiry *time.Time, prices PriceFields, ref Ref) (StockRecord, StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, StockRecord{}, fmt.Errorf("%w: commit qty %d", ErrInvalidQuantity, qty)
	}
	if dst.Less(src) {
		// Take the destination lock first so two opposite transfers on the
		// same identity pair cannot deadlock. Missing destination is fine,
		// the receive below creates it.
		if _, err := store.GetForUpdate(ctx, dst); err != nil && !errors.Is(err, ErrRecordNotFound) {
			return StockRecord{}, StockRecord{}, err
		}
	}
	srcRec, err := store.GetForUpdate(ctx, src)
	if errors.Is(err, ErrRecordNotFound) {
		return StockRecord{}, StockRecord{}, &InsufficientStockError{Identity: src, Available: 0, Requested: qty}
	}
	if err != nil {
		return StockRecord{}, StockRecord{}, err
	}
	if srcRec.QtyReserved < qty {
		return StockRecord{}, StockRecord{}, &InsufficientStockError{Identity: src, Available: srcRec.QtyReserved, Requested: qty}
	}
	srcRec.QtyReserved -= qty
	if err := store.Update(ctx, srcRec); err != nil {
		return StockRecord{}, StockRecord{}, err
	}
	if err := journal(ctx, store, MovementCommit, src, 0, -qty, ref); err != nil {
		return StockRecord{}, StockRecord{}, err
	}
	dstRec, err := ApplyReceive(ctx, store, dst, qty, expiry, prices, ref)
	if err != nil {
		return StockRecord{}, StockRecord{}, err
	}
	return srcRec, dstRec, nil
}

func journal(ctx context.Context, store TxStore, kind MovementKind, id Identity, qtyDelta, reservedDelta int64, ref Ref) error {
	return store.InsertMovement(ctx, Movement{
		Kind:          kind,
		VariantID:     id.VariantID,
		BranchID:      id.BranchID,
		BatchNumber:   id.BatchNumber,
		QtyDelta:      qtyDelta,
		ReservedDelta: reservedDelta,
		RefModule:     ref.Module,
		RefID:         ref.ID,
		ActorID:       ref.ActorID,
		Note:          ref.Note,
		PostedAt:      time.Now().UTC(),
	})
}
