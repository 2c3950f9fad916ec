// Package audit exposes the read side of the audit trail written by
// the ledger and closing workflows.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Filters narrows a trail query. Zero values mean "no filter".
type Filters struct {
	Action string
	Entity string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Entry is one audit trail row.
type Entry struct {
	ID       int64          `json:"id"`
	OrgID    int64          `json:"org_id"`
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Repository loads audit entries.
type Repository interface {
	Trail(ctx context.Context, orgID int64, filters Filters) ([]Entry, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Trail(ctx context.Context, orgID int64, filters Filters) ([]Entry, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, actor_id, action, entity, entity_id, meta, at
		FROM audit_logs
		WHERE org_id = $1
			AND ($2 = '' OR action = $2)
			AND ($3 = '' OR entity = $3)
			AND ($4::timestamptz IS NULL OR at >= $4)
			AND ($5::timestamptz IS NULL OR at < $5)
		ORDER BY at DESC, id DESC
		LIMIT $6 OFFSET $7`,
		orgID, filters.Action, filters.Entity, nullableTime(filters.From), nullableTime(filters.To), limit, filters.Offset)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Meta, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
