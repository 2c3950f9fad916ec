// Package closing snapshots delivered sales into numbered cash closing
// batches per delivery channel and walks each batch through the
// two-stage auxiliar/admin confirmation.
package closing

import (
	"errors"
	"time"

	"github.com/expedio-erp/expedio/internal/sales"
)

// Status is the closing batch lifecycle. Confirmation only moves
// forward: pending, then auxiliar-confirmed, then final.
type Status string

const (
	StatusPending           Status = "pending"
	StatusConfirmedAuxiliar Status = "confirmed_auxiliar"
	StatusConfirmedFinal    Status = "confirmed_final"
)

// PaymentCategory buckets a sale's payment method for the closing
// subtotals.
type PaymentCategory string

const (
	CategoryCard  PaymentCategory = "card"
	CategoryPix   PaymentCategory = "pix"
	CategoryCash  PaymentCategory = "cash"
	CategoryOther PaymentCategory = "other"
)

// Categorize maps a raw payment method onto a closing category. The
// mapping is fixed: anything unrecognized lands in "other" so the
// batch total always reconciles.
func Categorize(paymentMethod string) PaymentCategory {
	switch paymentMethod {
	case "credit_card", "debit_card", "card":
		return CategoryCard
	case "pix":
		return CategoryPix
	case "cash", "dinheiro":
		return CategoryCash
	default:
		return CategoryOther
	}
}

var (
	ErrNotFound            = errors.New("closing: batch not found")
	ErrInvalidChannel      = errors.New("closing: invalid closing type")
	ErrEmptySelection      = errors.New("closing: no sales selected")
	ErrMixedDeliveryType   = errors.New("closing: sales span multiple delivery channels")
	ErrSaleNotDelivered    = errors.New("closing: sale is not delivered")
	ErrSaleAlreadyClosed   = errors.New("closing: sale already belongs to a closing")
	ErrAlreadyConfirmed    = errors.New("closing: stage already confirmed")
	ErrPendingAuxiliar     = errors.New("closing: auxiliar confirmation required first")
	ErrCashNotAcknowledged = errors.New("closing: cash amount must be acknowledged")
	ErrUnauthorized        = errors.New("closing: actor not allowed for this stage")
	ErrDuplicateNumber     = errors.New("closing: closing number already taken")
)

// Batch is one numbered closing for a delivery channel. Subtotals are
// snapshots taken at creation; later changes to the sales never touch
// them.
type Batch struct {
	ID               int64              `json:"id"`
	OrgID            int64              `json:"org_id"`
	ClosingType      sales.DeliveryType `json:"closing_type"`
	ClosingNumber    int64              `json:"closing_number"`
	Status           Status             `json:"status"`
	TotalCents       int64              `json:"total_cents"`
	CardCents        int64              `json:"card_cents"`
	PixCents         int64              `json:"pix_cents"`
	CashCents        int64              `json:"cash_cents"`
	OtherCents       int64              `json:"other_cents"`
	SaleCount        int                `json:"sale_count"`
	CashAcknowledged bool               `json:"cash_acknowledged"`
	CreatedByID      int64              `json:"created_by_id"`
	CreatedByEmail   string             `json:"created_by_email"`
	AuxiliarByEmail  string             `json:"auxiliar_by_email,omitempty"`
	AuxiliarAt       *time.Time         `json:"auxiliar_at,omitempty"`
	AdminByEmail     string             `json:"admin_by_email,omitempty"`
	AdminAt          *time.Time         `json:"admin_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Member is the per-sale snapshot frozen into a batch at creation.
type Member struct {
	ID             int64           `json:"id"`
	BatchID        int64           `json:"batch_id"`
	SaleID         int64           `json:"sale_id"`
	RomaneioNumber int64           `json:"romaneio_number"`
	LeadName       string          `json:"lead_name"`
	TotalCents     int64           `json:"total_cents"`
	PaymentMethod  string          `json:"payment_method"`
	Category       PaymentCategory `json:"category"`
}

// SnapshotMember freezes a sale into a batch member.
func SnapshotMember(s sales.Sale) Member {
	return Member{
		SaleID:         s.ID,
		RomaneioNumber: s.RomaneioNumber,
		LeadName:       s.LeadName,
		TotalCents:     s.TotalCents,
		PaymentMethod:  s.PaymentMethod,
		Category:       Categorize(s.PaymentMethod),
	}
}

// Accumulate adds a member's value into the batch subtotals.
func (b *Batch) Accumulate(m Member) {
	b.TotalCents += m.TotalCents
	b.SaleCount++
	switch m.Category {
	case CategoryCard:
		b.CardCents += m.TotalCents
	case CategoryPix:
		b.PixCents += m.TotalCents
	case CategoryCash:
		b.CashCents += m.TotalCents
	default:
		b.OtherCents += m.TotalCents
	}
}
