package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/expedio-erp/expedio/internal/jobs"
	"github.com/expedio-erp/expedio/internal/shared"
)

const defaultRetentionHours = 48

// IdempotencyCleanupJob prunes expired idempotency keys.
type IdempotencyCleanupJob struct {
	Store   *shared.IdempotencyStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionHours <= 0 {
		payload.RetentionHours = defaultRetentionHours
	}

	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	retention := time.Duration(payload.RetentionHours) * time.Hour
	if err := j.Store.Cleanup(ctx, retention); err != nil {
		resultErr = err
		j.logger().Error("idempotency cleanup failed", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("idempotency cleanup done", slog.Duration("retention", retention))
	return resultErr
}

func (j *IdempotencyCleanupJob) metrics() *jobmetrics.Metrics {
	if j == nil {
		return nil
	}
	return j.Metrics
}

func (j *IdempotencyCleanupJob) logger() *slog.Logger {
	if j == nil || j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
