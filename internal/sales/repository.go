package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the sale does not exist in the requested organization.
var ErrNotFound = errors.New("sales: sale not found")

// Repository provides read-only access to sale records. The sales module is
// the system of record; this workflow never writes to its tables.
type Repository interface {
	GetSale(ctx context.Context, orgID, saleID int64) (Sale, error)
	GetSales(ctx context.Context, orgID int64, ids []int64) ([]Sale, error)
	ListEligibleForClosing(ctx context.Context, orgID int64, deliveryType DeliveryType, limit, offset int) ([]Sale, error)
}

const saleColumns = `id, org_id, romaneio_number, lead_name, total_cents, payment_method, delivery_type, status, delivered_at, created_at`

// PGRepository implements Repository against PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// GetSale fetches a single sale scoped to the organization.
func (r *PGRepository) GetSale(ctx context.Context, orgID, saleID int64) (Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE org_id = $1 AND id = $2`, orgID, saleID)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrNotFound
		}
		return Sale{}, err
	}
	return sale, nil
}

// GetSales fetches the listed sales; ids absent from the result simply do not
// exist for the organization.
func (r *PGRepository) GetSales(ctx context.Context, orgID int64, ids []int64) ([]Sale, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE org_id = $1 AND id = ANY($2)`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

const eligibleForClosingQuery = `SELECT ` + saleColumns + ` FROM sales s
WHERE s.org_id = $1 AND s.delivery_type = $2 AND s.status = 'delivered'
AND NOT EXISTS (
	SELECT 1 FROM closing_batch_members m
	JOIN closing_batches b ON b.id = m.batch_id
	WHERE m.sale_id = s.id AND b.closing_type = s.delivery_type
)
ORDER BY s.delivered_at, s.id
LIMIT $3 OFFSET $4`

// ListEligibleForClosing returns delivered sales of one channel that are not
// yet a member of any closing batch of that channel.
func (r *PGRepository) ListEligibleForClosing(ctx context.Context, orgID int64, deliveryType DeliveryType, limit, offset int) ([]Sale, error) {
	rows, err := r.pool.Query(ctx, eligibleForClosingQuery, orgID, deliveryType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func scanSale(row pgx.Row) (Sale, error) {
	var sale Sale
	err := row.Scan(
		&sale.ID,
		&sale.OrgID,
		&sale.RomaneioNumber,
		&sale.LeadName,
		&sale.TotalCents,
		&sale.PaymentMethod,
		&sale.DeliveryType,
		&sale.Status,
		&sale.DeliveredAt,
		&sale.CreatedAt,
	)
	return sale, err
}
