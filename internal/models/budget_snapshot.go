package models

import "time"

// BudgetPeriodSnapshot caches the figures of one closed period of one
// budget. PeriodStart and PeriodEnd are inclusive calendar dates. A
// snapshot is created once, when the period is first read after closing
// (or eagerly during backtracking), and after that only the backtracking
// recalculator may rewrite it.
//
// BudgetAmount is the amount in effect during that period, captured at
// snapshot time. Recalculation reuses it instead of the live budget amount
// so history stays accurate across amount changes.
//
// Snapshots form the rollover chain: RolloverIn of period n equals
// RolloverOut of period n-1's snapshot, or 0 at the head of the chain.
type BudgetPeriodSnapshot struct {
	Base
	BudgetID    uint      `gorm:"not null;uniqueIndex:idx_budget_period_end" json:"budget_id"`
	PeriodStart time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null;uniqueIndex:idx_budget_period_end" json:"period_end"`

	BudgetAmount int64 `gorm:"not null" json:"budget_amount"`
	SpentAmount  int64 `gorm:"not null" json:"spent_amount"`
	RolloverIn   int64 `gorm:"not null" json:"rollover_in"`
	RolloverOut  int64 `gorm:"not null" json:"rollover_out"`

	LastRecalculatedAt *time.Time `json:"last_recalculated_at,omitempty"`
}
