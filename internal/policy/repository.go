package policy

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Source loads authorization policies for an organization at request time.
type Source interface {
	LedgerPolicy(ctx context.Context, orgID int64) (LedgerPolicy, error)
	ClosingPolicy(ctx context.Context, orgID int64) (ClosingPolicy, error)
}

// PGSource reads policies from the org-scoped allowlist tables.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewSource constructs a PGSource.
func NewSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

var _ Source = (*PGSource)(nil)

// LedgerPolicy loads the auxiliar/admin allowlists for the confirmation ledger.
func (s *PGSource) LedgerPolicy(ctx context.Context, orgID int64) (LedgerPolicy, error) {
	rows, err := s.pool.Query(ctx, `SELECT email, role FROM ledger_allowlist WHERE org_id = $1`, orgID)
	if err != nil {
		return LedgerPolicy{}, err
	}
	defer rows.Close()
	var auxiliar, admin []string
	for rows.Next() {
		var email, role string
		if err := rows.Scan(&email, &role); err != nil {
			return LedgerPolicy{}, err
		}
		switch role {
		case "auxiliar":
			auxiliar = append(auxiliar, email)
		case "admin":
			admin = append(admin, email)
		}
	}
	if err := rows.Err(); err != nil {
		return LedgerPolicy{}, err
	}
	return NewLedgerPolicy(auxiliar, admin), nil
}

// ClosingPolicy loads the per-channel admin allowlists for closing batches.
func (s *PGSource) ClosingPolicy(ctx context.Context, orgID int64) (ClosingPolicy, error) {
	rows, err := s.pool.Query(ctx, `SELECT closing_type, email FROM closing_admins WHERE org_id = $1`, orgID)
	if err != nil {
		return ClosingPolicy{}, err
	}
	defer rows.Close()
	byChannel := make(map[string][]string)
	for rows.Next() {
		var channel, email string
		if err := rows.Scan(&channel, &email); err != nil {
			return ClosingPolicy{}, err
		}
		byChannel[channel] = append(byChannel[channel], email)
	}
	if err := rows.Err(); err != nil {
		return ClosingPolicy{}, err
	}
	return NewClosingPolicy(byChannel), nil
}
