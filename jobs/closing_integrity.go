package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/expedio-erp/expedio/internal/jobs"
	"github.com/expedio-erp/expedio/internal/sales"
)

// IntegrityScanJob recomputes each closing's subtotals from its member
// snapshots and flags batches whose stored figures diverge. Snapshots
// are immutable, so a divergence means something wrote around the
// service layer.
type IntegrityScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{Pool: pool, Logger: logger, Metrics: metrics}
}

type integrityDivergence struct {
	BatchID       int64
	OrgID         int64
	ClosingNumber int64
	Channel       string
	StoredCents   int64
	ComputedCents int64
}

// Handle executes the integrity scan, one goroutine per channel.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskClosingIntegrityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("org_id", payload.OrgID))
	logger.Info("starting closing integrity scan")
	start := time.Now()

	var (
		mu          sync.Mutex
		divergences []integrityDivergence
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range []sales.DeliveryType{sales.DeliveryPickup, sales.DeliveryMotoboy, sales.DeliveryCarrier} {
		channel := channel
		g.Go(func() error {
			found, err := j.scanChannel(gctx, string(channel), payload.OrgID)
			if err != nil {
				return err
			}
			mu.Lock()
			divergences = append(divergences, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		logger.Error("integrity scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, d := range divergences {
		logger.Warn("closing subtotal divergence",
			slog.Int64("batch_id", d.BatchID),
			slog.Int64("org_id", d.OrgID),
			slog.Int64("closing_number", d.ClosingNumber),
			slog.String("channel", d.Channel),
			slog.Int64("stored_cents", d.StoredCents),
			slog.Int64("computed_cents", d.ComputedCents),
		)
		j.metrics().AddDivergences(d.Channel, d.OrgID, 1)
	}

	logger.Info("completed closing integrity scan",
		slog.Int("divergences", len(divergences)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *IntegrityScanJob) scanChannel(ctx context.Context, channel string, orgID int64) ([]integrityDivergence, error) {
	rows, err := j.Pool.Query(ctx, `
		SELECT b.id, b.org_id, b.closing_number, b.total_cents, COALESCE(SUM(m.total_cents), 0)
		FROM closing_batches b
		LEFT JOIN closing_batch_members m ON m.batch_id = b.id
		WHERE b.closing_type = $1 AND ($2 = 0 OR b.org_id = $2)
		GROUP BY b.id
		HAVING b.total_cents <> COALESCE(SUM(m.total_cents), 0)
			OR b.card_cents <> COALESCE(SUM(m.total_cents) FILTER (WHERE m.category = 'card'), 0)
			OR b.pix_cents <> COALESCE(SUM(m.total_cents) FILTER (WHERE m.category = 'pix'), 0)
			OR b.cash_cents <> COALESCE(SUM(m.total_cents) FILTER (WHERE m.category = 'cash'), 0)
			OR b.other_cents <> COALESCE(SUM(m.total_cents) FILTER (WHERE m.category = 'other'), 0)`,
		channel, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []integrityDivergence
	for rows.Next() {
		d := integrityDivergence{Channel: channel}
		if err := rows.Scan(&d.BatchID, &d.OrgID, &d.ClosingNumber, &d.StoredCents, &d.ComputedCents); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j == nil {
		return nil
	}
	return j.Metrics
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j == nil || j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
