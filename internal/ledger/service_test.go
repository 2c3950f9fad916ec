package ledger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/expedio-erp/expedio/internal/policy"
	"github.com/expedio-erp/expedio/internal/sales"
	"github.com/expedio-erp/expedio/internal/shared"
)

type memRepository struct {
	events map[int64][]ConfirmationEvent
	nextID int64
}

func newMemRepository() *memRepository {
	return &memRepository{events: make(map[int64][]ConfirmationEvent)}
}

func (r *memRepository) ListEvents(_ context.Context, orgID, saleID int64) ([]ConfirmationEvent, error) {
	var out []ConfirmationEvent
	for _, ev := range r.events[saleID] {
		if ev.OrgID == orgID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *memRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, &memTx{repo: r})
}

type memTx struct {
	repo *memRepository
}

func (t *memTx) LockSale(context.Context, int64, int64) error { return nil }

func (t *memTx) ListEventTypes(_ context.Context, orgID, saleID int64) ([]ConfirmationType, error) {
	var types []ConfirmationType
	for _, ev := range t.repo.events[saleID] {
		if ev.OrgID == orgID {
			types = append(types, ev.Type)
		}
	}
	return types, nil
}

func (t *memTx) InsertEvent(_ context.Context, ev *ConfirmationEvent) error {
	for _, existing := range t.repo.events[ev.SaleID] {
		if existing.OrgID == ev.OrgID && existing.Type == ev.Type {
			return ErrDuplicateEvent
		}
	}
	t.repo.nextID++
	ev.ID = t.repo.nextID
	ev.CreatedAt = time.Now()
	t.repo.events[ev.SaleID] = append(t.repo.events[ev.SaleID], *ev)
	return nil
}

type memSales struct {
	sales map[int64]sales.Sale
}

func (r *memSales) GetSale(_ context.Context, orgID, saleID int64) (sales.Sale, error) {
	s, ok := r.sales[saleID]
	if !ok || s.OrgID != orgID {
		return sales.Sale{}, sales.ErrNotFound
	}
	return s, nil
}

func (r *memSales) GetSales(ctx context.Context, orgID int64, ids []int64) ([]sales.Sale, error) {
	var out []sales.Sale
	for _, id := range ids {
		if s, err := r.GetSale(ctx, orgID, id); err == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSales) ListEligibleForClosing(context.Context, int64, sales.DeliveryType, int, int) ([]sales.Sale, error) {
	return nil, nil
}

type memPolicies struct {
	ledger  policy.LedgerPolicy
	closing policy.ClosingPolicy
}

func (p *memPolicies) LedgerPolicy(context.Context, int64) (policy.LedgerPolicy, error) {
	return p.ledger, nil
}

func (p *memPolicies) ClosingPolicy(context.Context, int64) (policy.ClosingPolicy, error) {
	return p.closing, nil
}

const testOrg = int64(7)

func newTestService(t *testing.T, saleList ...sales.Sale) (*Service, *memRepository) {
	t.Helper()
	repo := newMemRepository()
	salesRepo := &memSales{sales: make(map[int64]sales.Sale)}
	for _, s := range saleList {
		salesRepo.sales[s.ID] = s
	}
	policies := &memPolicies{
		ledger: policy.NewLedgerPolicy(
			[]string{"aux@expedio.com.br"},
			[]string{"admin@expedio.com.br"},
		),
	}
	svc := NewService(repo, salesRepo, policies, nil, nil, slog.Default())
	return svc, repo
}

func deliveredSale(id int64, totalCents int64) sales.Sale {
	return sales.Sale{
		ID:           id,
		OrgID:        testOrg,
		TotalCents:   totalCents,
		Status:       sales.SaleStatusDelivered,
		DeliveryType: sales.DeliveryMotoboy,
	}
}

func auxActor() shared.Actor {
	return shared.Actor{ID: 1, OrgID: testOrg, Email: "aux@expedio.com.br"}
}

func adminActor() shared.Actor {
	return shared.Actor{ID: 2, OrgID: testOrg, Email: "admin@expedio.com.br"}
}

func TestConfirmPaymentFollowsSequence(t *testing.T) {
	svc, _ := newTestService(t, deliveredSale(10, 15000))
	ctx := context.Background()

	events, err := svc.ConfirmPayment(ctx, auxActor(), ConfirmInput{SaleID: 10, Type: TypeReceipt})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, TypeReceipt, events[0].Type)
	require.Equal(t, int64(15000), events[0].AmountCents, "amount defaults to sale total")

	events, err = svc.ConfirmPayment(ctx, auxActor(), ConfirmInput{SaleID: 10, Type: TypeHandover, AmountCents: 14500})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(14500), events[1].AmountCents)

	events, err = svc.ConfirmPayment(ctx, adminActor(), ConfirmInput{SaleID: 10, Type: TypeFinalVerification})
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestConfirmPaymentRejectsOutOfOrder(t *testing.T) {
	svc, _ := newTestService(t, deliveredSale(10, 15000))
	ctx := context.Background()

	_, err := svc.ConfirmPayment(ctx, auxActor(), ConfirmInput{SaleID: 10, Type: TypeHandover})
	require.ErrorIs(t, err, ErrOutOfOrder)

	_, err = svc.ConfirmPayment(ctx, auxActor(), ConfirmInput{SaleID: 10, Type: TypeReceipt})
	require.NoError(t, err)

	// Repeating a recorded stage is out of order too.
	_, err = svc.ConfirmPayment(ctx, auxActor(), ConfirmInput{SaleID: 10, Type: TypeReceipt})
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestConfirmPaymentRejectsAfterFinalization(t *testing.T) {
	svc, _ := newTestService(t, deliveredSale(10, 15000))
	ctx := context.Background()

	for _, typ := range Sequence {
		_, err := svc.ConfirmPayment(ctx, adminActor(), ConfirmInput{SaleID: 10, Type: typ})
		require.NoError(t, err)
	}

	_, err := svc.ConfirmPayment(ctx, adminActor(), ConfirmInput{SaleID: 10, Type: TypeFinalVerification})
	require.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestConfirmPaymentAuthorization(t *testing.T) {
	svc, _ := newTestService(t, deliveredSale(10, 15000))
	ctx := context.Background()

	stranger := shared.Actor{ID: 9, OrgID: testOrg, Email: "intruder@example.com"}
	_, err := svc.ConfirmPayment(ctx, stranger, ConfirmInput{SaleID: 10, Type: TypeReceipt})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.ConfirmPayment(ctx, auxActor(), ConfirmInput{SaleID: 10, Type: TypeReceipt})
	require.NoError(t, err)
	_, err = svc.ConfirmPayment(ctx, auxActor(), ConfirmInput{SaleID: 10, Type: TypeHandover})
	require.NoError(t, err)

	// Final verification is reserved to the admin allowlist.
	_, err = svc.ConfirmPayment(ctx, auxActor(), ConfirmInput{SaleID: 10, Type: TypeFinalVerification})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestConfirmPaymentCancelledSale(t *testing.T) {
	cancelled := deliveredSale(11, 8000)
	cancelled.Status = sales.SaleStatusCancelled
	svc, _ := newTestService(t, cancelled)

	_, err := svc.ConfirmPayment(context.Background(), auxActor(), ConfirmInput{SaleID: 11, Type: TypeReceipt})
	require.ErrorIs(t, err, ErrSaleCancelled)
}

func TestConfirmPaymentUnknownSale(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ConfirmPayment(context.Background(), auxActor(), ConfirmInput{SaleID: 404, Type: TypeReceipt})
	require.ErrorIs(t, err, ErrSaleNotFound)
}

func TestConfirmPaymentBatchIsolatesFailures(t *testing.T) {
	cancelled := deliveredSale(3, 3000)
	cancelled.Status = sales.SaleStatusCancelled
	svc, repo := newTestService(t,
		deliveredSale(1, 1000),
		deliveredSale(2, 2000),
		cancelled,
		deliveredSale(4, 4000),
		deliveredSale(5, 5000),
	)

	results, err := svc.ConfirmPaymentBatch(context.Background(), auxActor(), []int64{1, 2, 3, 4, 5}, TypeReceipt, "")
	require.NoError(t, err)
	require.Len(t, results, 5)

	for _, res := range results {
		if res.SaleID == 3 {
			require.ErrorIs(t, res.Err, ErrSaleCancelled)
			require.Nil(t, res.Event)
			continue
		}
		require.NoError(t, res.Err)
		require.NotNil(t, res.Event)
		require.Equal(t, TypeReceipt, res.Event.Type)
	}

	// The cancelled sale must not leave a partial record behind.
	require.Empty(t, repo.events[3])
	require.Len(t, repo.events[1], 1)
	require.Len(t, repo.events[5], 1)
}

func TestConfirmPaymentBatchEmpty(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ConfirmPaymentBatch(context.Background(), auxActor(), nil, TypeReceipt, "")
	require.Error(t, err)
}
