package models

import "time"

// TransactionType represents the type of transaction
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

// Transaction represents a ledger entry. Amount is a positive cent value;
// the type carries the sign.
type Transaction struct {
	Base
	UserID      uint            `gorm:"not null;index" json:"user_id"`
	AccountID   uint            `gorm:"not null" json:"account_id"`
	CategoryID  *uint           `json:"category_id,omitempty"`
	Type        TransactionType `gorm:"not null" json:"type"`
	Amount      int64           `gorm:"type:bigint;not null" json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `gorm:"not null;index" json:"date"`

	// Relationships
	Account  Account             `gorm:"foreignKey:AccountID" json:"account,omitempty"`
	Category *Category           `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Budgets  []TransactionBudget `gorm:"foreignKey:TransactionID" json:"budgets,omitempty"`
}
