package models

import "time"

// Plan represents an immutable subscription catalog entry.
type Plan struct {
	ID string `gorm:"type:uuid;primaryKey"` // Primary key.

	Name          string `gorm:"type:varchar(255);not null"`         // Plan name.
	PricePerMonth int64  `gorm:"not null;default:0"`                 // Monthly price in smallest currency unit.
	Description   string `gorm:"type:text"`                          // Plan description.
	AIQuota       int64  `gorm:"column:ai_quota;not null;default:0"` // AI message quota per month.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
