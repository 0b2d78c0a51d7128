package models

import "time"

// Balance caches the monetary balance for one user.
//
// The transaction log is the source of truth; this row is a materialized
// view of it, created lazily on first read and repaired by reconciliation.
// Amounts are stored in the smallest currency unit.
type Balance struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID string `gorm:"type:uuid;not null;uniqueIndex"` // Owning user ID.

	Balance int64 `gorm:"not null;default:0"` // Cached amount in smallest currency unit.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
