// Package ledger records payment confirmation events for delivered
// sales. Every confirmation is append-only: events are never edited or
// removed, and each sale walks the same fixed sequence of stages.
package ledger

import (
	"errors"
	"time"
)

// ConfirmationType identifies one stage of the confirmation sequence.
type ConfirmationType string

const (
	TypeReceipt           ConfirmationType = "receipt"
	TypeHandover          ConfirmationType = "handover"
	TypeFinalVerification ConfirmationType = "final_verification"
)

// Sequence is the only order in which confirmations may be recorded
// for a sale.
var Sequence = []ConfirmationType{TypeReceipt, TypeHandover, TypeFinalVerification}

func (t ConfirmationType) Valid() bool {
	switch t {
	case TypeReceipt, TypeHandover, TypeFinalVerification:
		return true
	}
	return false
}

var (
	ErrSaleNotFound     = errors.New("ledger: sale not found")
	ErrSaleCancelled    = errors.New("ledger: sale is cancelled")
	ErrOutOfOrder       = errors.New("ledger: confirmation out of order")
	ErrAlreadyFinalized = errors.New("ledger: sale already finalized")
	ErrDuplicateEvent   = errors.New("ledger: confirmation already recorded")
	ErrUnauthorized     = errors.New("ledger: actor not allowed for this confirmation")
	ErrInvalidType      = errors.New("ledger: invalid confirmation type")
)

// ConfirmationEvent is one recorded confirmation. AmountCents snapshots
// the value acknowledged at that stage, defaulting to the sale total.
type ConfirmationEvent struct {
	ID          int64            `json:"id"`
	OrgID       int64            `json:"org_id"`
	SaleID      int64            `json:"sale_id"`
	Type        ConfirmationType `json:"confirmation_type"`
	AmountCents int64            `json:"amount_cents"`
	ActorID     int64            `json:"actor_id"`
	ActorEmail  string           `json:"actor_email"`
	Note        string           `json:"note,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NextExpected returns the confirmation type that must come after the
// recorded ones. ok is false when the sequence is complete.
func NextExpected(recorded []ConfirmationType) (ConfirmationType, bool) {
	if len(recorded) >= len(Sequence) {
		return "", false
	}
	return Sequence[len(recorded)], true
}

// BatchItemResult is the outcome for one sale inside a batch
// confirmation. Err is nil when the confirmation was recorded.
type BatchItemResult struct {
	SaleID int64
	Event  *ConfirmationEvent
	Err    error
}
