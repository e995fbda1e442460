package models

// BudgetCategory restricts a budget's attribution to one category, with an
// optional sub-allocation amount. Only main categories (one level below a
// root category) may be attached; the invariant is enforced at creation.
type BudgetCategory struct {
	Base
	BudgetID   uint  `gorm:"not null;uniqueIndex:idx_budget_category" json:"budget_id"`
	CategoryID uint  `gorm:"not null;uniqueIndex:idx_budget_category" json:"category_id"`
	Amount     int64 `gorm:"not null;default:0" json:"amount"`

	// IsExcluded categories are tracked on the budget but their ledger
	// entries never count against usage.
	IsExcluded bool `gorm:"default:false" json:"is_excluded"`

	// Relationships
	Category Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
}
