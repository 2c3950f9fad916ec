package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SummaryRow aggregates the closings of one channel/status pair.
type SummaryRow struct {
	ClosingType    string `json:"closing_type"`
	Status         string `json:"status"`
	BatchCount     int64  `json:"batch_count"`
	SaleCount      int64  `json:"sale_count"`
	TotalCents     int64  `json:"total_cents"`
	CashCents      int64  `json:"cash_cents"`
	TotalFormatted string `json:"total_formatted"`
	CashFormatted  string `json:"cash_formatted"`
}

// Summary is the reconciliation report for one organization.
type Summary struct {
	OrgID          int64        `json:"org_id"`
	Rows           []SummaryRow `json:"rows"`
	TotalCents     int64        `json:"total_cents"`
	CashCents      int64        `json:"cash_cents"`
	TotalFormatted string       `json:"total_formatted"`
	CashFormatted  string       `json:"cash_formatted"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

// Repository loads the raw aggregates behind the summary.
type Repository interface {
	SummaryRows(ctx context.Context, orgID int64) ([]SummaryRow, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) SummaryRows(ctx context.Context, orgID int64) ([]SummaryRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT closing_type, status, COUNT(*), COALESCE(SUM(sale_count), 0), COALESCE(SUM(total_cents), 0), COALESCE(SUM(cash_cents), 0)
		FROM closing_batches
		WHERE org_id = $1
		GROUP BY closing_type, status
		ORDER BY closing_type, status`, orgID)
	if err != nil {
		return nil, fmt.Errorf("summary rows: %w", err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var row SummaryRow
		if err := rows.Scan(&row.ClosingType, &row.Status, &row.BatchCount, &row.SaleCount, &row.TotalCents, &row.CashCents); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Service builds reconciliation summaries, serving them from the
// versioned cache when possible.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// ReconciliationSummary returns the per-channel closing aggregates for
// an organization with pt-BR formatted totals.
func (s *Service) ReconciliationSummary(ctx context.Context, orgID int64) (Summary, error) {
	key, err := s.cache.BuildKey(ctx, "reports", "summary", strconv.FormatInt(orgID, 10))
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	err = s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (interface{}, error) {
		return s.buildSummary(ctx, orgID)
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// Invalidate bumps the cache version. Closing mutations call this so
// the next summary read reflects them.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) buildSummary(ctx context.Context, orgID int64) (Summary, error) {
	rows, err := s.repo.SummaryRows(ctx, orgID)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{OrgID: orgID, GeneratedAt: s.now().UTC()}
	for i := range rows {
		rows[i].TotalFormatted = FormatBRL(rows[i].TotalCents)
		rows[i].CashFormatted = FormatBRL(rows[i].CashCents)
		summary.TotalCents += rows[i].TotalCents
		summary.CashCents += rows[i].CashCents
	}
	summary.Rows = rows
	summary.TotalFormatted = FormatBRL(summary.TotalCents)
	summary.CashFormatted = FormatBRL(summary.CashCents)
	return summary, nil
}
