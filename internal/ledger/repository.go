package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence surface for confirmation events.
type Repository interface {
	ListEvents(ctx context.Context, orgID, saleID int64) ([]ConfirmationEvent, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
}

// TxRepository exposes the operations that must run inside one
// transaction so the order precondition and the insert are atomic.
type TxRepository interface {
	// LockSale takes a row lock on the sale so concurrent
	// confirmations for the same sale serialize.
	LockSale(ctx context.Context, orgID, saleID int64) error
	ListEventTypes(ctx context.Context, orgID, saleID int64) ([]ConfirmationType, error)
	InsertEvent(ctx context.Context, ev *ConfirmationEvent) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) ListEvents(ctx context.Context, orgID, saleID int64) ([]ConfirmationEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, sale_id, confirmation_type, amount_cents, actor_id, actor_email, COALESCE(note, ''), created_at
		FROM confirmation_events
		WHERE org_id = $1 AND sale_id = $2
		ORDER BY created_at, id`, orgID, saleID)
	if err != nil {
		return nil, fmt.Errorf("list confirmation events: %w", err)
	}
	defer rows.Close()

	var events []ConfirmationEvent
	for rows.Next() {
		var ev ConfirmationEvent
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.SaleID, &ev.Type, &ev.AmountCents, &ev.ActorID, &ev.ActorEmail, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan confirmation event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *PGRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTxRepository{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) LockSale(ctx context.Context, orgID, saleID int64) error {
	var id int64
	err := r.tx.QueryRow(ctx, `
		SELECT id FROM sales WHERE org_id = $1 AND id = $2 FOR UPDATE`, orgID, saleID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSaleNotFound
	}
	if err != nil {
		return fmt.Errorf("lock sale: %w", err)
	}
	return nil
}

func (r *pgTxRepository) ListEventTypes(ctx context.Context, orgID, saleID int64) ([]ConfirmationType, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT confirmation_type
		FROM confirmation_events
		WHERE org_id = $1 AND sale_id = $2
		ORDER BY created_at, id`, orgID, saleID)
	if err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	defer rows.Close()

	var types []ConfirmationType
	for rows.Next() {
		var t ConfirmationType
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan event type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (r *pgTxRepository) InsertEvent(ctx context.Context, ev *ConfirmationEvent) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO confirmation_events (org_id, sale_id, confirmation_type, amount_cents, actor_id, actor_email, note)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING id, created_at`,
		ev.OrgID, ev.SaleID, ev.Type, ev.AmountCents, ev.ActorID, ev.ActorEmail, ev.Note,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert confirmation event: %w", err)
	}
	return nil
}
