package sales

import "time"

// DeliveryType enumerates the expedition channels a sale ships through.
type DeliveryType string

const (
	DeliveryPickup  DeliveryType = "pickup"
	DeliveryMotoboy DeliveryType = "motoboy"
	DeliveryCarrier DeliveryType = "carrier"
)

// Valid reports whether the delivery type is one of the known channels.
func (d DeliveryType) Valid() bool {
	switch d {
	case DeliveryPickup, DeliveryMotoboy, DeliveryCarrier:
		return true
	default:
		return false
	}
}

// SaleStatus captures the lifecycle stage owned by the sales module.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusDelivered SaleStatus = "delivered"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// Sale is the read-only projection of a sale record. The sales module owns
// the record; this workflow only reads it and appends confirmations against
// its id.
type Sale struct {
	ID             int64        `json:"id"`
	OrgID          int64        `json:"org_id"`
	RomaneioNumber int64        `json:"romaneio_number"`
	LeadName       string       `json:"lead_name"`
	TotalCents     int64        `json:"total_cents"`
	PaymentMethod  string       `json:"payment_method"`
	DeliveryType   DeliveryType `json:"delivery_type"`
	Status         SaleStatus   `json:"status"`
	DeliveredAt    *time.Time   `json:"delivered_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Delivered reports whether the sale has reached the delivered stage.
func (s Sale) Delivered() bool {
	return s.Status == SaleStatusDelivered
}

// Cancelled reports whether the sale was cancelled.
func (s Sale) Cancelled() bool {
	return s.Status == SaleStatusCancelled
}
