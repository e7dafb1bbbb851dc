package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stockline-erp/stockline/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetRecord(ctx context.Context, id Identity) (StockRecord, error)
	ListExpiring(ctx context.Context, within time.Duration, limit int) ([]StockRecord, error)
	ListMovements(ctx context.Context, id Identity, page, perPage int) ([]Movement, shared.Pagination, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes the stock ledger to controllers: single-record receive,
// consume and adjust postings plus level reads. Multi-line documents
// (sales, purchases, transfers) compose the movement operations inside
// their own transactions instead.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	levels      *LevelCache
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, levels *LevelCache) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, levels: levels}
}

// ReceiveInput describes an inbound posting for one batch.
type ReceiveInput struct {
	VariantID   int64
	BranchID    int64
	BatchNumber string
	ExpiryDate  *time.Time
	Qty         int64
	Prices      PriceFields
	ActorID     int64
	RefModule   string
	RefID       string
	Note        string
}

// ConsumeInput describes an outbound posting for one batch.
type ConsumeInput struct {
	VariantID   int64
	BranchID    int64
	BatchNumber string
	Qty         int64
	ActorID     int64
	RefModule   string
	RefID       string
	Note        string
}

// AdjustInput describes a manual correction, positive or negative.
type AdjustInput struct {
	VariantID   int64
	BranchID    int64
	BatchNumber string
	Delta       int64
	ActorID     int64
	RefModule   string
	RefID       string
	Note        string
}

// Receive posts an inbound movement, creating the record when the
// identity is new.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (StockRecord, error) {
	id := Identity{VariantID: input.VariantID, BranchID: input.BranchID, BatchNumber: input.BatchNumber}
	if err := validIdentity(id); err != nil {
		return StockRecord{}, err
	}
	ref, err := s.ref(input.RefModule, input.RefID, input.ActorID, input.Note)
	if err != nil {
		return StockRecord{}, err
	}
	key, inserted, err := s.guard(ctx, MovementReceive, id, input.RefID)
	if err != nil {
		return StockRecord{}, err
	}
	var rec StockRecord
	err = s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		rec, err = ApplyReceive(ctx, store, id, input.Qty, input.ExpiryDate, input.Prices, ref)
		return err
	})
	if err != nil {
		s.unguard(ctx, inserted, key)
		return StockRecord{}, err
	}
	s.finish(ctx, MovementReceive, id, input.Qty, input.ActorID, input.Note)
	return rec, nil
}

// Consume posts an outbound movement.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (StockRecord, error) {
	id := Identity{VariantID: input.VariantID, BranchID: input.BranchID, BatchNumber: input.BatchNumber}
	if err := validIdentity(id); err != nil {
		return StockRecord{}, err
	}
	ref, err := s.ref(input.RefModule, input.RefID, input.ActorID, input.Note)
	if err != nil {
		return StockRecord{}, err
	}
	key, inserted, err := s.guard(ctx, MovementConsume, id, input.RefID)
	if err != nil {
		return StockRecord{}, err
	}
	var rec StockRecord
	err = s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		rec, err = ApplyConsume(ctx, store, id, input.Qty, ref)
		return err
	})
	if err != nil {
		s.unguard(ctx, inserted, key)
		return StockRecord{}, err
	}
	s.finish(ctx, MovementConsume, id, -input.Qty, input.ActorID, input.Note)
	return rec, nil
}

// Adjust posts a manual correction.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (StockRecord, error) {
	id := Identity{VariantID: input.VariantID, BranchID: input.BranchID, BatchNumber: input.BatchNumber}
	if err := validIdentity(id); err != nil {
		return StockRecord{}, err
	}
	ref, err := s.ref(input.RefModule, input.RefID, input.ActorID, input.Note)
	if err != nil {
		return StockRecord{}, err
	}
	key, inserted, err := s.guard(ctx, MovementAdjust, id, input.RefID)
	if err != nil {
		return StockRecord{}, err
	}
	var rec StockRecord
	err = s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		rec, err = ApplyAdjust(ctx, store, id, input.Delta, ref)
		return err
	})
	if err != nil {
		s.unguard(ctx, inserted, key)
		return StockRecord{}, err
	}
	s.finish(ctx, MovementAdjust, id, input.Delta, input.ActorID, input.Note)
	return rec, nil
}

// CurrentLevel reads the available and reserved quantities of one record.
// A missing record reports zero levels. Served through the cache when one
// is configured.
func (s *Service) CurrentLevel(ctx context.Context, id Identity) (Level, error) {
	if err := validIdentity(id); err != nil {
		return Level{}, err
	}
	return s.levels.Get(ctx, id, func(ctx context.Context) (Level, error) {
		rec, err := s.repo.GetRecord(ctx, id)
		if errors.Is(err, ErrRecordNotFound) {
			return Level{}, nil
		}
		if err != nil {
			return Level{}, err
		}
		return Level{Available: rec.QtyAvailable, Reserved: rec.QtyReserved}, nil
	})
}

// ListExpiring lists batches expiring within the horizon.
func (s *Service) ListExpiring(ctx context.Context, within time.Duration, limit int) ([]StockRecord, error) {
	return s.repo.ListExpiring(ctx, within, limit)
}

// ListMovements pages through the movement journal of one record.
func (s *Service) ListMovements(ctx context.Context, id Identity, page, perPage int) ([]Movement, shared.Pagination, error) {
	if err := validIdentity(id); err != nil {
		return nil, shared.Pagination{}, err
	}
	return s.repo.ListMovements(ctx, id, page, perPage)
}

// InvalidateLevel drops the cached level after an out-of-band mutation
// (transfer, sale, purchase posting).
func (s *Service) InvalidateLevel(ctx context.Context, ids ...Identity) {
	for _, id := range ids {
		s.levels.Invalidate(ctx, id)
	}
}

func (s *Service) ref(module, refID string, actorID int64, note string) (Ref, error) {
	if refID != "" {
		if _, err := uuid.Parse(refID); err != nil {
			return Ref{}, fmt.Errorf("ledger: invalid ref id: %w", err)
		}
	}
	return Ref{Module: module, ID: refID, ActorID: actorID, Note: note}, nil
}

// guard inserts the idempotency key before mutating, so a duplicate
// submission of the same document reference is rejected up front.
func (s *Service) guard(ctx context.Context, kind MovementKind, id Identity, refID string) (string, bool, error) {
	if s.idempotency == nil || refID == "" {
		return "", false, nil
	}
	key := fmt.Sprintf("%s:%s:%s", kind, refID, id)
	if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
		return "", false, err
	}
	return key, true, nil
}

func (s *Service) unguard(ctx context.Context, inserted bool, key string) {
	if inserted {
		_ = s.idempotency.Delete(ctx, key)
	}
}

func (s *Service) finish(ctx context.Context, kind MovementKind, id Identity, qty int64, actorID int64, note string) {
	s.levels.Invalidate(ctx, id)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("ledger:%s", kind),
			Entity:   "stock_record",
			EntityID: id.String(),
			Meta: map[string]any{
				"variant_id":   id.VariantID,
				"branch_id":    id.BranchID,
				"batch_number": id.BatchNumber,
				"qty":          qty,
				"note":         note,
			},
		})
	}
}

func validIdentity(id Identity) error {
	if id.VariantID == 0 || id.BranchID == 0 || id.BatchNumber == "" {
		return ErrIdentityRequired
	}
	return nil
}
