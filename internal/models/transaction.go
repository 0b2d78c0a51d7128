package models

import "time"

// TransactionType classifies a ledger entry.
type TransactionType string

// TransactionType constants define the ledger entry directions.
const (
	// TransactionTypeTopup increases the balance.
	TransactionTypeTopup TransactionType = "topup"
	// TransactionTypeUsage decreases the balance.
	TransactionTypeUsage TransactionType = "usage"
)

// Transaction is an immutable append-only ledger entry.
//
// Rows are written both by the external payment webhook and by this
// service's compensation path; compensating writes carry an idempotency
// key so retries never double-apply.
type Transaction struct {
	ID string `gorm:"type:uuid;primaryKey"` // Primary key.

	UserID string `gorm:"type:uuid;not null;index:idx_transactions_user_id_created_at,priority:1"` // Owning user ID.

	Type        TransactionType `gorm:"type:varchar(16);not null"` // Entry direction.
	Amount      int64           `gorm:"not null;default:0"`        // Non-negative amount in smallest currency unit.
	Description string          `gorm:"type:text"`                 // Human-readable description.

	IdempotencyKey *string `gorm:"type:varchar(64);uniqueIndex"` // Dedup key for compensating writes; nil for webhook rows.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_transactions_user_id_created_at,priority:2,sort:desc"` // Creation timestamp.
}
