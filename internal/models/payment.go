package models

import "time"

// PaymentStatus represents the lifecycle state of an external invoice.
type PaymentStatus string

// PaymentStatus constants define invoice lifecycle states. Transitions are
// driven entirely by the payment gateway; this service only reads them.
const (
	// PaymentStatusPending marks an invoice awaiting payment.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid marks a settled invoice.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusExpired marks an invoice that lapsed unpaid.
	PaymentStatusExpired PaymentStatus = "expired"
)

// Payment records an external payment-gateway invoice.
type Payment struct {
	ID string `gorm:"type:uuid;primaryKey"` // Primary key.

	UserID string `gorm:"type:uuid;not null;index:idx_payments_user_id_created_at,priority:1"` // Owning user ID.

	ExternalID string        `gorm:"type:text"`                                   // Gateway-side invoice ID.
	InvoiceURL string        `gorm:"type:text"`                                   // Hosted invoice URL.
	Amount     int64         `gorm:"not null;default:0"`                          // Invoice amount in smallest currency unit.
	Status     PaymentStatus `gorm:"type:varchar(16);not null;default:'pending'"` // Current invoice status.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_payments_user_id_created_at,priority:2,sort:desc"` // Creation timestamp.
}
