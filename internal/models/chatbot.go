package models

import "time"

// ChatbotStatus represents the provisioning state of a chatbot instance.
type ChatbotStatus string

// ChatbotStatus constants define the remote provisioning lifecycle.
const (
	// ChatbotStatusProvisioning marks a bot being set up remotely.
	ChatbotStatusProvisioning ChatbotStatus = "PROVISIONING"
	// ChatbotStatusNeedScanQR marks a bot waiting for a WhatsApp QR scan.
	ChatbotStatusNeedScanQR ChatbotStatus = "NEED_SCAN_QR"
	// ChatbotStatusWorking marks a linked, active bot.
	ChatbotStatusWorking ChatbotStatus = "WORKING"
)

// Chatbot represents a provisioned WhatsApp chatbot instance.
//
// Creation and status transitions are performed by the remote action
// gateway; this service reads the row and patches expiry/quota during
// renewal compensation.
type Chatbot struct {
	ID string `gorm:"type:uuid;primaryKey"` // Primary key.

	UserID string `gorm:"type:uuid;not null;index:idx_chatbots_user_id_created_at,priority:1"` // Owning user ID.

	Name     string        `gorm:"type:text;not null"`                               // Display name, unique per user by convention.
	IsActive bool          `gorm:"not null;default:true"`                            // Whether the bot is serving traffic.
	Status   ChatbotStatus `gorm:"type:varchar(32);not null;default:'PROVISIONING'"` // Remote provisioning state.

	PlanID string `gorm:"type:uuid;not null;index"` // Subscribed plan ID.
	Plan   *Plan  `gorm:"foreignKey:PlanID"`        // Subscribed plan record.

	IsAutoRenewal bool `gorm:"not null;default:false"` // Whether renewal is automatic.

	AIUsages int64 `gorm:"column:ai_usages;not null;default:0"` // Consumed AI message quota.
	AIQuota  int64 `gorm:"column:ai_quota;not null;default:0"`  // Granted AI message quota.

	Prompt string `gorm:"type:text"` // System prompt driving the bot's replies.

	ExpiredAt *time.Time `gorm:"index"` // Subscription expiry; nil until first renewal.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_chatbots_user_id_created_at,priority:2,sort:desc"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`                                                            // Last update timestamp.
}
