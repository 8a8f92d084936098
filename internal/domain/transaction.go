package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a transaction as money in or money out
type TransactionType string

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// Transaction Model
type Transaction struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Title           string          `gorm:"size:255;not null" json:"title"`
	Amount          decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Category        string          `gorm:"size:100;index" json:"category"`
	Type            TransactionType `gorm:"column:transaction_type;size:16;index" json:"transaction_type"`
	TransactionDate time.Time       `gorm:"index" json:"transaction_date"`
	Description     string          `gorm:"type:text" json:"description"`
	CreatedBy       uint            `gorm:"index" json:"created_by"`
	LastModifiedBy  uint            `json:"last_modified_by"`
	IsDeleted       bool            `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime:false" json:"updated_at"`

	// Resolved from users on read, never persisted.
	CreatedByName  string `gorm:"->;-:migration" json:"created_by_name,omitempty"`
	ModifiedByName string `gorm:"->;-:migration" json:"modified_by_name,omitempty"`
}
