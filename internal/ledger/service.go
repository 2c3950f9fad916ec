package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/expedio-erp/expedio/internal/observability"
	"github.com/expedio-erp/expedio/internal/policy"
	"github.com/expedio-erp/expedio/internal/sales"
	"github.com/expedio-erp/expedio/internal/shared"
)

// Service implements the confirmation ledger workflow.
type Service struct {
	repo     Repository
	sales    sales.Repository
	policies policy.Source
	audit    *shared.AuditLogger
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewService(repo Repository, salesRepo sales.Repository, policies policy.Source, audit *shared.AuditLogger, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		sales:    salesRepo,
		policies: policies,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
	}
}

// ConfirmInput carries one confirmation request. AmountCents zero means
// "the full sale total".
type ConfirmInput struct {
	SaleID      int64
	Type        ConfirmationType
	AmountCents int64
	Note        string
}

// ConfirmPayment appends one confirmation event for a sale and returns
// the sale's full event history including the new event.
func (s *Service) ConfirmPayment(ctx context.Context, actor shared.Actor, in ConfirmInput) ([]ConfirmationEvent, error) {
	ev, err := s.confirmOne(ctx, actor, in)
	s.observe(in.Type, err)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, ev)
	return s.repo.ListEvents(ctx, actor.OrgID, in.SaleID)
}

// ConfirmPaymentBatch applies the same confirmation type to several
// sales. Items are processed independently: a rejected sale never rolls
// back its siblings, and the result slice preserves the input order.
func (s *Service) ConfirmPaymentBatch(ctx context.Context, actor shared.Actor, saleIDs []int64, confirmationType ConfirmationType, note string) ([]BatchItemResult, error) {
	if len(saleIDs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidType)
	}
	results := make([]BatchItemResult, 0, len(saleIDs))
	for _, saleID := range saleIDs {
		ev, err := s.confirmOne(ctx, actor, ConfirmInput{SaleID: saleID, Type: confirmationType, Note: note})
		s.observe(confirmationType, err)
		if err == nil {
			s.recordAudit(ctx, actor, ev)
		}
		results = append(results, BatchItemResult{SaleID: saleID, Event: ev, Err: err})
	}
	return results, nil
}

// History returns the confirmation events recorded for a sale.
func (s *Service) History(ctx context.Context, actor shared.Actor, saleID int64) ([]ConfirmationEvent, error) {
	if _, err := s.sales.GetSale(ctx, actor.OrgID, saleID); err != nil {
		if errors.Is(err, sales.ErrNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}
	return s.repo.ListEvents(ctx, actor.OrgID, saleID)
}

func (s *Service) confirmOne(ctx context.Context, actor shared.Actor, in ConfirmInput) (*ConfirmationEvent, error) {
	if !in.Type.Valid() {
		return nil, ErrInvalidType
	}

	sale, err := s.sales.GetSale(ctx, actor.OrgID, in.SaleID)
	if err != nil {
		if errors.Is(err, sales.ErrNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}
	if sale.Cancelled() {
		return nil, ErrSaleCancelled
	}

	gate, err := s.policies.LedgerPolicy(ctx, actor.OrgID)
	if err != nil {
		return nil, fmt.Errorf("load ledger policy: %w", err)
	}
	if !gate.CanConfirm(actor, policy.LedgerAction(in.Type)) {
		return nil, ErrUnauthorized
	}

	amount := in.AmountCents
	if amount == 0 {
		amount = sale.TotalCents
	}

	ev := &ConfirmationEvent{
		OrgID:       actor.OrgID,
		SaleID:      in.SaleID,
		Type:        in.Type,
		AmountCents: amount,
		ActorID:     actor.ID,
		ActorEmail:  actor.Email,
		Note:        in.Note,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockSale(ctx, actor.OrgID, in.SaleID); err != nil {
			return err
		}
		recorded, err := tx.ListEventTypes(ctx, actor.OrgID, in.SaleID)
		if err != nil {
			return err
		}
		expected, ok := NextExpected(recorded)
		if !ok {
			return ErrAlreadyFinalized
		}
		if in.Type != expected {
			return ErrOutOfOrder
		}
		return tx.InsertEvent(ctx, ev)
	})
	if err != nil {
		// A concurrent insert of the same stage lost the race on the
		// unique index; report it the same way as the precondition.
		if errors.Is(err, ErrDuplicateEvent) {
			return nil, ErrOutOfOrder
		}
		return nil, err
	}
	return ev, nil
}

func (s *Service) observe(confirmationType ConfirmationType, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "confirmed"
	if err != nil {
		outcome = "rejected"
	}
	s.metrics.ObserveConfirmation(string(confirmationType), outcome)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, ev *ConfirmationEvent) {
	if s.audit == nil || ev == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		OrgID:    actor.OrgID,
		ActorID:  actor.ID,
		Action:   "ledger.confirm",
		Entity:   "sale",
		EntityID: strconv.FormatInt(ev.SaleID, 10),
		Meta: map[string]any{
			"confirmation_type": string(ev.Type),
			"amount_cents":      ev.AmountCents,
		},
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
