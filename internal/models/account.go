package models

// AccountType represents the type of account
type AccountType string

const (
	AccountTypeCash       AccountType = "cash"
	AccountTypeCreditCard AccountType = "credit_card"
)

// Account represents a financial account. Balance is in cents and moves as
// a side effect of ledger entries.
type Account struct {
	Base
	UserID      uint        `gorm:"not null;index" json:"user_id"`
	Name        string      `gorm:"not null" json:"name"`
	Type        AccountType `gorm:"not null" json:"type"`
	Description string      `json:"description"`
	Balance     int64       `gorm:"not null;default:0" json:"balance"`
	Currency    string      `gorm:"not null;default:'USD'" json:"currency"`
	IsActive    bool        `gorm:"default:true" json:"is_active"`

	// For credit card accounts
	CreditLimit int64 `json:"credit_limit,omitempty"`

	// Relationships
	Transactions []Transaction `gorm:"foreignKey:AccountID" json:"transactions,omitempty"`
}
