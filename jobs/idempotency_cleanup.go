package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const defaultIdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyCleaner purges keys older than the retention window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupHandler purges stale idempotency keys.
func NewIdempotencyCleanupHandler(cleaner IdempotencyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			payload.Retention = defaultIdempotencyRetention
		}
		if err := cleaner.Cleanup(ctx, payload.Retention); err != nil {
			return err
		}
		logger.Info("idempotency cleanup complete", slog.Duration("retention", payload.Retention))
		return nil
	}
}
