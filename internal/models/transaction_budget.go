package models

// TransactionBudget links a ledger entry to a budget it counts against.
// Existence of the row is the sole attribution mechanism: an entry may
// belong to zero, one, or several budgets. Plain rows, no soft delete;
// links are removed together with relinking or transaction deletion.
type TransactionBudget struct {
	ID            uint `gorm:"primaryKey" json:"id"`
	TransactionID uint `gorm:"not null;uniqueIndex:idx_transaction_budget" json:"transaction_id"`
	BudgetID      uint `gorm:"not null;uniqueIndex:idx_transaction_budget;index" json:"budget_id"`
}
