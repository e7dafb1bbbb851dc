// Package jobs runs background maintenance for the stock ledger on an
// Asynq worker: the nightly expiry scan and idempotency key cleanup.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpiryScan is the task type for the near-expiry batch scan.
	TaskExpiryScan = "stock:expiry-scan"
	// TaskIdempotencyCleanup is the task type for purging stale
	// idempotency keys.
	TaskIdempotencyCleanup = "stock:idempotency-cleanup"
)

// ExpiryScanPayload bounds one expiry scan run.
type ExpiryScanPayload struct {
	Horizon time.Duration `json:"horizon"`
	Limit   int           `json:"limit"`
}

// NewExpiryScanTask constructs an expiry scan task.
func NewExpiryScanTask(payload ExpiryScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryScan, data), nil
}

// IdempotencyCleanupPayload bounds one cleanup run.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
