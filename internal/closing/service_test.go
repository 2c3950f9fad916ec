package closing

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
	batches     map[int64]Batch
	members     map[int64][]Member
	nextBatchID int64
	// forceDuplicates makes the first N inserts fail with a number
	// collision, simulating a concurrent creator.
	forceDuplicates int
}

func newMemRepository() *memRepository {
	return &memRepository{
		batches: make(map[int64]Batch),
		members: make(map[int64][]Member),
	}
}

func (r *memRepository) GetBatch(_ context.Context, orgID, batchID int64) (Batch, error) {
	b, ok := r.batches[batchID]
	if !ok || b.OrgID != orgID {
		return Batch{}, ErrNotFound
	}
	return b, nil
}

func (r *memRepository) ListBatches(_ context.Context, orgID int64, closingType sales.DeliveryType, _, _ int) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if b.OrgID == orgID && (closingType == "" || b.ClosingType == closingType) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memRepository) ListMembers(_ context.Context, orgID, batchID int64) ([]Member, error) {
	if b, ok := r.batches[batchID]; !ok || b.OrgID != orgID {
		return nil, ErrNotFound
	}
	return r.members[batchID], nil
}

func (r *memRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, &memTx{repo: r})
}

type memTx struct {
	repo *memRepository
}

func (t *memTx) NextClosingNumber(_ context.Context, orgID int64, closingType sales.DeliveryType) (int64, error) {
	var max int64
	for _, b := range t.repo.batches {
		if b.OrgID == orgID && b.ClosingType == closingType && b.ClosingNumber > max {
			max = b.ClosingNumber
		}
	}
	return max + 1, nil
}

func (t *memTx) SalesAlreadyClosed(_ context.Context, orgID int64, closingType sales.DeliveryType, saleIDs []int64) ([]int64, error) {
	var closed []int64
	for batchID, members := range t.repo.members {
		b := t.repo.batches[batchID]
		if b.OrgID != orgID || b.ClosingType != closingType {
			continue
		}
		for _, m := range members {
			for _, id := range saleIDs {
				if m.SaleID == id {
					closed = append(closed, id)
				}
			}
		}
	}
	return closed, nil
}

func (t *memTx) InsertBatch(_ context.Context, batch *Batch) error {
	if t.repo.forceDuplicates > 0 {
		t.repo.forceDuplicates--
		return ErrDuplicateNumber
	}
	for _, b := range t.repo.batches {
		if b.OrgID == batch.OrgID && b.ClosingType == batch.ClosingType && b.ClosingNumber == batch.ClosingNumber {
			return ErrDuplicateNumber
		}
	}
	t.repo.nextBatchID++
	batch.ID = t.repo.nextBatchID
	batch.CreatedAt = time.Now()
	batch.UpdatedAt = batch.CreatedAt
	t.repo.batches[batch.ID] = *batch
	return nil
}

func (t *memTx) InsertMembers(_ context.Context, _ int64, members []Member) error {
	for _, m := range members {
		t.repo.members[m.BatchID] = append(t.repo.members[m.BatchID], m)
	}
	return nil
}

func (t *memTx) GetBatchForUpdate(ctx context.Context, orgID, batchID int64) (Batch, error) {
	return t.repo.GetBatch(ctx, orgID, batchID)
}

func (t *memTx) UpdateBatchStatus(_ context.Context, batch *Batch) error {
	if _, ok := t.repo.batches[batch.ID]; !ok {
		return ErrNotFound
	}
	batch.UpdatedAt = time.Now()
	t.repo.batches[batch.ID] = *batch
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

type memPolicies struct{}

func (memPolicies) LedgerPolicy(context.Context, int64) (policy.LedgerPolicy, error) {
	return policy.LedgerPolicy{}, nil
}

func (memPolicies) ClosingPolicy(context.Context, int64) (policy.ClosingPolicy, error) {
	return policy.NewClosingPolicy(map[string][]string{
		"motoboy": {"admin.motoboy@expedio.com.br"},
		"pickup":  {"admin.pickup@expedio.com.br"},
	}), nil
}

const testOrg = int64(7)

func motoboySale(id, totalCents int64, paymentMethod string) sales.Sale {
	return sales.Sale{
		ID:            id,
		OrgID:         testOrg,
		TotalCents:    totalCents,
		PaymentMethod: paymentMethod,
		DeliveryType:  sales.DeliveryMotoboy,
		Status:        sales.SaleStatusDelivered,
	}
}

func newTestService(t *testing.T, saleList ...sales.Sale) (*Service, *memRepository) {
	t.Helper()
	repo := newMemRepository()
	salesRepo := &memSales{sales: make(map[int64]sales.Sale)}
	for _, s := range saleList {
		salesRepo.sales[s.ID] = s
	}
	svc := NewService(repo, salesRepo, memPolicies{}, nil, nil, nil, slog.Default())
	return svc, repo
}

func auxActor() shared.Actor {
	return shared.Actor{ID: 1, OrgID: testOrg, Email: "aux@expedio.com.br", Permissions: []string{shared.PermReportsView}}
}

func motoboyAdmin() shared.Actor {
	return shared.Actor{ID: 2, OrgID: testOrg, Email: "admin.motoboy@expedio.com.br"}
}

func TestSnapshotMemberFreezesSaleFields(t *testing.T) {
	sale := motoboySale(9, 4200, "cash")
	sale.RomaneioNumber = 1042
	sale.LeadName = "Fábio Rocha"

	m := SnapshotMember(sale)
	require.Equal(t, int64(9), m.SaleID)
	require.Equal(t, int64(1042), m.RomaneioNumber)
	require.Equal(t, "Fábio Rocha", m.LeadName)
	require.Equal(t, int64(4200), m.TotalCents)
	require.Equal(t, "cash", m.PaymentMethod)
	require.Equal(t, CategoryCash, m.Category)
}

func TestCreateClosingSnapshotsAndSubtotals(t *testing.T) {
	svc, repo := newTestService(t,
		motoboySale(1, 5000, "credit_card"),
		motoboySale(2, 5000, "pix"),
		motoboySale(3, 5000, "cash"),
	)

	batch, err := svc.CreateClosing(context.Background(), auxActor(), CreateInput{
		ClosingType: sales.DeliveryMotoboy,
		SaleIDs:     []int64{1, 2, 3},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), batch.ClosingNumber)
	require.Equal(t, StatusPending, batch.Status)
	require.Equal(t, int64(15000), batch.TotalCents)
	require.Equal(t, int64(5000), batch.CardCents)
	require.Equal(t, int64(5000), batch.PixCents)
	require.Equal(t, int64(5000), batch.CashCents)
	require.Zero(t, batch.OtherCents)
	require.Equal(t, 3, batch.SaleCount)
	require.Len(t, repo.members[batch.ID], 3)
}

func TestCreateClosingNumbersArePerChannel(t *testing.T) {
	svc, _ := newTestService(t,
		motoboySale(1, 1000, "pix"),
		motoboySale(2, 1000, "pix"),
		sales.Sale{ID: 3, OrgID: testOrg, TotalCents: 1000, PaymentMethod: "pix", DeliveryType: sales.DeliveryPickup, Status: sales.SaleStatusDelivered},
	)
	ctx := context.Background()

	first, err := svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{1}})
	require.NoError(t, err)
	second, err := svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{2}})
	require.NoError(t, err)
	pickup, err := svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryPickup, SaleIDs: []int64{3}})
	require.NoError(t, err)

	require.Equal(t, int64(1), first.ClosingNumber)
	require.Equal(t, int64(2), second.ClosingNumber)
	require.Equal(t, int64(1), pickup.ClosingNumber, "numbering restarts per channel")
}

func TestCreateClosingRetriesNumberCollision(t *testing.T) {
	svc, repo := newTestService(t, motoboySale(1, 1000, "pix"))
	repo.forceDuplicates = 1

	batch, err := svc.CreateClosing(context.Background(), auxActor(), CreateInput{
		ClosingType: sales.DeliveryMotoboy,
		SaleIDs:     []int64{1},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), batch.ClosingNumber)
}

func TestCreateClosingGivesUpAfterRepeatedCollisions(t *testing.T) {
	svc, repo := newTestService(t, motoboySale(1, 1000, "pix"))
	repo.forceDuplicates = maxNumberAttempts

	_, err := svc.CreateClosing(context.Background(), auxActor(), CreateInput{
		ClosingType: sales.DeliveryMotoboy,
		SaleIDs:     []int64{1},
	})
	require.ErrorIs(t, err, ErrDuplicateNumber)
}

func TestCreateClosingValidation(t *testing.T) {
	pending := motoboySale(4, 1000, "pix")
	pending.Status = sales.SaleStatusPending
	svc, _ := newTestService(t,
		motoboySale(1, 1000, "pix"),
		sales.Sale{ID: 2, OrgID: testOrg, TotalCents: 1000, PaymentMethod: "pix", DeliveryType: sales.DeliveryCarrier, Status: sales.SaleStatusDelivered},
		pending,
	)
	ctx := context.Background()

	_, err := svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy})
	require.ErrorIs(t, err, ErrEmptySelection)

	_, err = svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{1, 2}})
	require.ErrorIs(t, err, ErrMixedDeliveryType)

	_, err = svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{4}})
	require.ErrorIs(t, err, ErrSaleNotDelivered)

	_, err = svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{99}})
	require.ErrorIs(t, err, sales.ErrNotFound)
}

func TestCreateClosingRejectsAlreadyClosedSale(t *testing.T) {
	svc, _ := newTestService(t, motoboySale(1, 1000, "pix"))
	ctx := context.Background()

	_, err := svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{1}})
	require.NoError(t, err)

	_, err = svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{1}})
	require.ErrorIs(t, err, ErrSaleAlreadyClosed)
}

func TestConfirmClosingTwoStageFlow(t *testing.T) {
	svc, _ := newTestService(t, motoboySale(1, 5000, "cash"))
	ctx := context.Background()

	batch, err := svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{1}})
	require.NoError(t, err)

	// Admin cannot skip the auxiliar stamp.
	_, err = svc.ConfirmClosing(ctx, motoboyAdmin(), batch.ID, policy.StageAdmin, true)
	require.ErrorIs(t, err, ErrPendingAuxiliar)

	stamped, err := svc.ConfirmClosing(ctx, auxActor(), batch.ID, policy.StageAuxiliar, false)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmedAuxiliar, stamped.Status)
	require.Equal(t, "aux@expedio.com.br", stamped.AuxiliarByEmail)
	require.NotNil(t, stamped.AuxiliarAt)

	// Cash subtotal is non-zero: the admin stamp requires acknowledgment.
	_, err = svc.ConfirmClosing(ctx, motoboyAdmin(), batch.ID, policy.StageAdmin, false)
	require.ErrorIs(t, err, ErrCashNotAcknowledged)

	final, err := svc.ConfirmClosing(ctx, motoboyAdmin(), batch.ID, policy.StageAdmin, true)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmedFinal, final.Status)
	require.True(t, final.CashAcknowledged)
	require.Equal(t, "admin.motoboy@expedio.com.br", final.AdminByEmail)

	// confirmed_final is terminal.
	_, err = svc.ConfirmClosing(ctx, motoboyAdmin(), batch.ID, policy.StageAdmin, true)
	require.ErrorIs(t, err, ErrAlreadyConfirmed)
	_, err = svc.ConfirmClosing(ctx, auxActor(), batch.ID, policy.StageAuxiliar, false)
	require.ErrorIs(t, err, ErrAlreadyConfirmed)
}

func TestConfirmClosingCashlessNeedsNoAcknowledgment(t *testing.T) {
	svc, _ := newTestService(t, motoboySale(1, 5000, "pix"))
	ctx := context.Background()

	batch, err := svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{1}})
	require.NoError(t, err)

	_, err = svc.ConfirmClosing(ctx, auxActor(), batch.ID, policy.StageAuxiliar, false)
	require.NoError(t, err)

	final, err := svc.ConfirmClosing(ctx, motoboyAdmin(), batch.ID, policy.StageAdmin, false)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmedFinal, final.Status)
	require.False(t, final.CashAcknowledged)
}

func TestConfirmClosingAuthorization(t *testing.T) {
	svc, _ := newTestService(t, motoboySale(1, 5000, "pix"))
	ctx := context.Background()

	batch, err := svc.CreateClosing(ctx, auxActor(), CreateInput{ClosingType: sales.DeliveryMotoboy, SaleIDs: []int64{1}})
	require.NoError(t, err)

	// The auxiliar stage requires the reports permission.
	noPerm := shared.Actor{ID: 5, OrgID: testOrg, Email: "other@expedio.com.br"}
	_, err = svc.ConfirmClosing(ctx, noPerm, batch.ID, policy.StageAuxiliar, false)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.ConfirmClosing(ctx, auxActor(), batch.ID, policy.StageAuxiliar, false)
	require.NoError(t, err)

	// The pickup admin is not on the motoboy allowlist.
	pickupAdmin := shared.Actor{ID: 6, OrgID: testOrg, Email: "admin.pickup@expedio.com.br"}
	_, err = svc.ConfirmClosing(ctx, pickupAdmin, batch.ID, policy.StageAdmin, true)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.ConfirmClosing(ctx, motoboyAdmin(), batch.ID, policy.StageAdmin, true)
	require.NoError(t, err)
}

func TestConfirmClosingUnknownBatch(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ConfirmClosing(context.Background(), auxActor(), 404, policy.StageAuxiliar, false)
	require.ErrorIs(t, err, ErrNotFound)
}
