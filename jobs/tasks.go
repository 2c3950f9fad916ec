// Package jobs hosts the asynq background tasks: the closing integrity
// scan and housekeeping for idempotency keys.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskClosingIntegrityScan recomputes closing subtotals from member
	// snapshots and reports divergences.
	TaskClosingIntegrityScan = "closing:integrity_scan"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// IntegrityScanPayload narrows the scan to one org when OrgID > 0.
type IntegrityScanPayload struct {
	OrgID int64 `json:"org_id"`
}

// NewIntegrityScanTask constructs an integrity scan task.
func NewIntegrityScanTask(orgID int64) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityScanPayload{OrgID: orgID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClosingIntegrityScan, data), nil
}

// IdempotencyCleanupPayload carries the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
