package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActionLog records one invocation of a remote gateway action.
//
// The raw response body is kept because the gateway's response shapes are
// not contractually stable; the archive is the audit trail for disputed
// top-ups and renewals.
type ActionLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID string `gorm:"type:uuid;not null;index:idx_action_logs_user_id_created_at,priority:1"` // Acting user ID.

	Action     string `gorm:"type:varchar(64);not null"` // Gateway action name.
	Outcome    string `gorm:"type:varchar(16);not null"` // Normalized outcome: success, failure, pending.
	StatusCode int    `gorm:"not null;default:0"`        // Upstream HTTP status; 0 when transport failed.

	Response datatypes.JSON `gorm:"type:jsonb"` // Raw response payload when parseable as JSON.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_action_logs_user_id_created_at,priority:2,sort:desc"` // Creation timestamp.
}
