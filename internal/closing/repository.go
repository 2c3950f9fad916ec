package closing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expedio-erp/expedio/internal/sales"
)

// Repository is the persistence surface for closing batches.
type Repository interface {
	GetBatch(ctx context.Context, orgID, batchID int64) (Batch, error)
	ListBatches(ctx context.Context, orgID int64, closingType sales.DeliveryType, limit, offset int) ([]Batch, error)
	ListMembers(ctx context.Context, orgID, batchID int64) ([]Member, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
}

// TxRepository groups the operations that must share one transaction:
// numbering, snapshotting and the confirmation stamps.
type TxRepository interface {
	// NextClosingNumber returns MAX(closing_number)+1 for the channel.
	// The unique index on (org_id, closing_type, closing_number) is
	// the backstop for concurrent callers.
	NextClosingNumber(ctx context.Context, orgID int64, closingType sales.DeliveryType) (int64, error)
	// SalesAlreadyClosed returns the subset of ids already frozen in a
	// batch of the given channel.
	SalesAlreadyClosed(ctx context.Context, orgID int64, closingType sales.DeliveryType, saleIDs []int64) ([]int64, error)
	InsertBatch(ctx context.Context, batch *Batch) error
	InsertMembers(ctx context.Context, orgID int64, members []Member) error
	// GetBatchForUpdate loads a batch holding a row lock for the rest
	// of the transaction.
	GetBatchForUpdate(ctx context.Context, orgID, batchID int64) (Batch, error)
	UpdateBatchStatus(ctx context.Context, batch *Batch) error
}

const batchColumns = `id, org_id, closing_type, closing_number, status, total_cents, card_cents, pix_cents, cash_cents, other_cents,
	sale_count, cash_acknowledged, created_by_id, created_by_email,
	COALESCE(auxiliar_by_email, ''), auxiliar_at, COALESCE(admin_by_email, ''), admin_at, created_at, updated_at`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) GetBatch(ctx context.Context, orgID, batchID int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM closing_batches WHERE org_id = $1 AND id = $2`, orgID, batchID)
	return scanBatch(row)
}

func (r *PGRepository) ListBatches(ctx context.Context, orgID int64, closingType sales.DeliveryType, limit, offset int) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+batchColumns+`
		FROM closing_batches
		WHERE org_id = $1 AND ($2 = '' OR closing_type = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`, orgID, string(closingType), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list closing batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *PGRepository) ListMembers(ctx context.Context, orgID, batchID int64) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.batch_id, m.sale_id, m.romaneio_number, m.lead_name, m.total_cents, m.payment_method, m.category
		FROM closing_batch_members m
		JOIN closing_batches b ON b.id = m.batch_id
		WHERE b.org_id = $1 AND m.batch_id = $2
		ORDER BY m.id`, orgID, batchID)
	if err != nil {
		return nil, fmt.Errorf("list closing members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.BatchID, &m.SaleID, &m.RomaneioNumber, &m.LeadName, &m.TotalCents, &m.PaymentMethod, &m.Category); err != nil {
			return nil, fmt.Errorf("scan closing member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
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

func (r *pgTxRepository) NextClosingNumber(ctx context.Context, orgID int64, closingType sales.DeliveryType) (int64, error) {
	var next int64
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(closing_number), 0) + 1
		FROM closing_batches
		WHERE org_id = $1 AND closing_type = $2`, orgID, closingType).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next closing number: %w", err)
	}
	return next, nil
}

func (r *pgTxRepository) SalesAlreadyClosed(ctx context.Context, orgID int64, closingType sales.DeliveryType, saleIDs []int64) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT m.sale_id
		FROM closing_batch_members m
		JOIN closing_batches b ON b.id = m.batch_id
		WHERE b.org_id = $1 AND b.closing_type = $2 AND m.sale_id = ANY($3)`,
		orgID, closingType, saleIDs)
	if err != nil {
		return nil, fmt.Errorf("check closed sales: %w", err)
	}
	defer rows.Close()

	var closed []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan closed sale id: %w", err)
		}
		closed = append(closed, id)
	}
	return closed, rows.Err()
}

func (r *pgTxRepository) InsertBatch(ctx context.Context, batch *Batch) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO closing_batches (org_id, closing_type, closing_number, status, total_cents, card_cents, pix_cents, cash_cents, other_cents, sale_count, created_by_id, created_by_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		batch.OrgID, batch.ClosingType, batch.ClosingNumber, batch.Status,
		batch.TotalCents, batch.CardCents, batch.PixCents, batch.CashCents, batch.OtherCents,
		batch.SaleCount, batch.CreatedByID, batch.CreatedByEmail,
	).Scan(&batch.ID, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateNumber
		}
		return fmt.Errorf("insert closing batch: %w", err)
	}
	return nil
}

func (r *pgTxRepository) InsertMembers(ctx context.Context, orgID int64, members []Member) error {
	for i := range members {
		m := &members[i]
		err := r.tx.QueryRow(ctx, `
			INSERT INTO closing_batch_members (batch_id, sale_id, romaneio_number, lead_name, total_cents, payment_method, category)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			m.BatchID, m.SaleID, m.RomaneioNumber, m.LeadName, m.TotalCents, m.PaymentMethod, m.Category,
		).Scan(&m.ID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrSaleAlreadyClosed
			}
			return fmt.Errorf("insert closing member: %w", err)
		}
	}
	return nil
}

func (r *pgTxRepository) GetBatchForUpdate(ctx context.Context, orgID, batchID int64) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM closing_batches WHERE org_id = $1 AND id = $2 FOR UPDATE`, orgID, batchID)
	return scanBatch(row)
}

func (r *pgTxRepository) UpdateBatchStatus(ctx context.Context, batch *Batch) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE closing_batches
		SET status = $1, cash_acknowledged = $2,
			auxiliar_by_email = NULLIF($3, ''), auxiliar_at = $4,
			admin_by_email = NULLIF($5, ''), admin_at = $6,
			updated_at = now()
		WHERE org_id = $7 AND id = $8`,
		batch.Status, batch.CashAcknowledged,
		batch.AuxiliarByEmail, batch.AuxiliarAt,
		batch.AdminByEmail, batch.AdminAt,
		batch.OrgID, batch.ID)
	if err != nil {
		return fmt.Errorf("update closing batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(
		&b.ID, &b.OrgID, &b.ClosingType, &b.ClosingNumber, &b.Status,
		&b.TotalCents, &b.CardCents, &b.PixCents, &b.CashCents, &b.OtherCents,
		&b.SaleCount, &b.CashAcknowledged, &b.CreatedByID, &b.CreatedByEmail,
		&b.AuxiliarByEmail, &b.AuxiliarAt, &b.AdminByEmail, &b.AdminAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, fmt.Errorf("scan closing batch: %w", err)
	}
	return b, nil
}
