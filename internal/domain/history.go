package domain

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeType is the kind of mutation recorded in the audit log
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// TransactionHistory is an immutable audit entry. PreviousState is null for creates.
type TransactionHistory struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	TransactionID uint           `gorm:"index:idx_history_tx_time,priority:1;not null" json:"transaction_id"`
	ModifiedBy    uint           `gorm:"not null" json:"modified_by"`
	ChangeType    ChangeType     `gorm:"size:16;not null" json:"change_type"`
	PreviousState datatypes.JSON `json:"previous_state"`
	NewState      datatypes.JSON `gorm:"not null" json:"new_state"`
	ModifiedAt    time.Time      `gorm:"index:idx_history_tx_time,priority:2;not null" json:"modified_at"`

	ModifiedByName string `gorm:"->;-:migration" json:"modified_by_name,omitempty"`
}

// TableName keeps the audit table name singular
func (TransactionHistory) TableName() string {
	return "transaction_history"
}
