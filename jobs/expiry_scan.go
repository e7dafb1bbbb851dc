package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockline-erp/stockline/internal/ledger"
)

const (
	defaultExpiryHorizon = 30 * 24 * time.Hour
	defaultExpiryLimit   = 500
)

// ExpiryScanner lists batches approaching expiry.
type ExpiryScanner interface {
	ListExpiring(ctx context.Context, within time.Duration, limit int) ([]ledger.StockRecord, error)
}

// NewExpiryScanHandler reports batches expiring within the horizon. The
// scan only logs for now; alerting hooks attach here later.
func NewExpiryScanHandler(scanner ExpiryScanner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpiryScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Horizon <= 0 {
			payload.Horizon = defaultExpiryHorizon
		}
		if payload.Limit <= 0 {
			payload.Limit = defaultExpiryLimit
		}
		records, err := scanner.ListExpiring(ctx, payload.Horizon, payload.Limit)
		if err != nil {
			return err
		}
		for _, rec := range records {
			logger.Warn("batch approaching expiry",
				slog.Int64("variant_id", rec.VariantID),
				slog.Int64("branch_id", rec.BranchID),
				slog.String("batch", rec.BatchNumber),
				slog.Int64("qty_available", rec.QtyAvailable),
				slog.Time("expiry_date", *rec.ExpiryDate),
			)
		}
		logger.Info("expiry scan complete",
			slog.Int("flagged", len(records)),
			slog.Duration("horizon", payload.Horizon),
		)
		return nil
	}
}
