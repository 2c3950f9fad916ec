package closing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/expedio-erp/expedio/internal/observability"
	"github.com/expedio-erp/expedio/internal/policy"
	"github.com/expedio-erp/expedio/internal/sales"
	"github.com/expedio-erp/expedio/internal/shared"
)

// maxNumberAttempts bounds retries when two creators race for the same
// closing number.
const maxNumberAttempts = 3

// SummaryInvalidator expires downstream report caches after a closing
// mutation. Reports implement it; nil disables invalidation.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Service implements the closing batch workflow.
type Service struct {
	repo        Repository
	sales       sales.Repository
	policies    policy.Source
	audit       *shared.AuditLogger
	metrics     *observability.Metrics
	invalidator SummaryInvalidator
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(repo Repository, salesRepo sales.Repository, policies policy.Source, audit *shared.AuditLogger, metrics *observability.Metrics, invalidator SummaryInvalidator, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		sales:       salesRepo,
		policies:    policies,
		audit:       audit,
		metrics:     metrics,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateInput selects the sales to freeze into a new closing.
type CreateInput struct {
	ClosingType sales.DeliveryType
	SaleIDs     []int64
}

// CreateClosing snapshots the selected delivered sales into a new
// numbered batch for the channel. Subtotals are computed from the
// snapshots, so later edits to the sales never change the closing.
func (s *Service) CreateClosing(ctx context.Context, actor shared.Actor, in CreateInput) (Batch, error) {
	batch, err := s.createClosing(ctx, actor, in)
	s.observeClosing("create", err)
	if err != nil {
		return Batch{}, err
	}
	s.invalidateSummary(ctx)
	s.recordAudit(ctx, actor, batch, "closing.create", map[string]any{
		"closing_type":   string(batch.ClosingType),
		"closing_number": batch.ClosingNumber,
		"total_cents":    batch.TotalCents,
		"sale_count":     batch.SaleCount,
	})
	return batch, nil
}

func (s *Service) createClosing(ctx context.Context, actor shared.Actor, in CreateInput) (Batch, error) {
	if len(in.SaleIDs) == 0 {
		return Batch{}, ErrEmptySelection
	}
	if !in.ClosingType.Valid() {
		return Batch{}, fmt.Errorf("%w: %q", ErrInvalidChannel, in.ClosingType)
	}

	selected, err := s.sales.GetSales(ctx, actor.OrgID, in.SaleIDs)
	if err != nil {
		return Batch{}, fmt.Errorf("load sales: %w", err)
	}
	byID := make(map[int64]sales.Sale, len(selected))
	for _, sale := range selected {
		byID[sale.ID] = sale
	}

	batch := Batch{
		OrgID:          actor.OrgID,
		ClosingType:    in.ClosingType,
		Status:         StatusPending,
		CreatedByID:    actor.ID,
		CreatedByEmail: actor.Email,
	}
	members := make([]Member, 0, len(in.SaleIDs))
	for _, id := range in.SaleIDs {
		sale, ok := byID[id]
		if !ok {
			return Batch{}, fmt.Errorf("%w: sale %d", sales.ErrNotFound, id)
		}
		if sale.DeliveryType != in.ClosingType {
			return Batch{}, fmt.Errorf("%w: sale %d is %s", ErrMixedDeliveryType, id, sale.DeliveryType)
		}
		if !sale.Delivered() {
			return Batch{}, fmt.Errorf("%w: sale %d", ErrSaleNotDelivered, id)
		}
		m := SnapshotMember(sale)
		batch.Accumulate(m)
		members = append(members, m)
	}

	for attempt := 1; ; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			closed, err := tx.SalesAlreadyClosed(ctx, actor.OrgID, in.ClosingType, in.SaleIDs)
			if err != nil {
				return err
			}
			if len(closed) > 0 {
				return fmt.Errorf("%w: sale %d", ErrSaleAlreadyClosed, closed[0])
			}
			number, err := tx.NextClosingNumber(ctx, actor.OrgID, in.ClosingType)
			if err != nil {
				return err
			}
			batch.ClosingNumber = number
			if err := tx.InsertBatch(ctx, &batch); err != nil {
				return err
			}
			for i := range members {
				members[i].BatchID = batch.ID
			}
			return tx.InsertMembers(ctx, actor.OrgID, members)
		})
		if errors.Is(err, ErrDuplicateNumber) && attempt < maxNumberAttempts {
			s.logger.Warn("closing number collision, retrying",
				slog.String("closing_type", string(in.ClosingType)),
				slog.Int64("closing_number", batch.ClosingNumber),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return Batch{}, err
		}
		return batch, nil
	}
}

// ConfirmClosing stamps one confirmation stage on a batch. The admin
// stage on a batch with a cash subtotal requires an explicit cash
// acknowledgment.
func (s *Service) ConfirmClosing(ctx context.Context, actor shared.Actor, batchID int64, stage policy.ClosingStage, acknowledgeCash bool) (Batch, error) {
	batch, err := s.confirmClosing(ctx, actor, batchID, stage, acknowledgeCash)
	s.observeClosing("confirm_"+string(stage), err)
	if err != nil {
		return Batch{}, err
	}
	s.invalidateSummary(ctx)
	s.recordAudit(ctx, actor, batch, "closing.confirm", map[string]any{
		"stage":            string(stage),
		"status":           string(batch.Status),
		"acknowledge_cash": acknowledgeCash,
	})
	return batch, nil
}

func (s *Service) confirmClosing(ctx context.Context, actor shared.Actor, batchID int64, stage policy.ClosingStage, acknowledgeCash bool) (Batch, error) {
	if stage != policy.StageAuxiliar && stage != policy.StageAdmin {
		return Batch{}, fmt.Errorf("%w: unknown stage %q", ErrUnauthorized, stage)
	}

	gate, err := s.policies.ClosingPolicy(ctx, actor.OrgID)
	if err != nil {
		return Batch{}, fmt.Errorf("load closing policy: %w", err)
	}

	var stamped Batch
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, actor.OrgID, batchID)
		if err != nil {
			return err
		}
		if !gate.CanConfirm(actor, stage, string(batch.ClosingType)) {
			return ErrUnauthorized
		}

		now := s.now()
		switch stage {
		case policy.StageAuxiliar:
			if batch.Status != StatusPending {
				return ErrAlreadyConfirmed
			}
			batch.Status = StatusConfirmedAuxiliar
			batch.AuxiliarByEmail = actor.Email
			batch.AuxiliarAt = &now
		case policy.StageAdmin:
			switch batch.Status {
			case StatusPending:
				return ErrPendingAuxiliar
			case StatusConfirmedFinal:
				return ErrAlreadyConfirmed
			}
			if batch.CashCents > 0 && !acknowledgeCash {
				return ErrCashNotAcknowledged
			}
			batch.Status = StatusConfirmedFinal
			batch.CashAcknowledged = batch.CashCents > 0 && acknowledgeCash
			batch.AdminByEmail = actor.Email
			batch.AdminAt = &now
		}
		if err := tx.UpdateBatchStatus(ctx, &batch); err != nil {
			return err
		}
		stamped = batch
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	return stamped, nil
}

// GetClosing returns a batch with its frozen member snapshots.
func (s *Service) GetClosing(ctx context.Context, actor shared.Actor, batchID int64) (Batch, []Member, error) {
	batch, err := s.repo.GetBatch(ctx, actor.OrgID, batchID)
	if err != nil {
		return Batch{}, nil, err
	}
	members, err := s.repo.ListMembers(ctx, actor.OrgID, batchID)
	if err != nil {
		return Batch{}, nil, err
	}
	return batch, members, nil
}

// ListClosings pages through an org's batches, optionally filtered by
// channel.
func (s *Service) ListClosings(ctx context.Context, actor shared.Actor, closingType sales.DeliveryType, limit, offset int) ([]Batch, error) {
	return s.repo.ListBatches(ctx, actor.OrgID, closingType, limit, offset)
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) observeClosing(action string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	s.metrics.ObserveClosing(action, outcome)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, batch Batch, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    actor.OrgID,
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "closing_batch",
		EntityID: strconv.FormatInt(batch.ID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
