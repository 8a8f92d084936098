package domain

import "time"

// Notification is a durable per-user message about a transaction change
type Notification struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index:idx_notifications_user_read,priority:1;not null" json:"user_id"`
	TransactionID uint      `gorm:"index;not null" json:"transaction_id"`
	Message       string    `gorm:"size:512;not null" json:"message"`
	IsRead        bool      `gorm:"index:idx_notifications_user_read,priority:2;not null;default:false" json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`

	TransactionTitle string `gorm:"->;-:migration" json:"transaction_title,omitempty"`
}
