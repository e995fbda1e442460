package models

import (
	"time"

	"kakeibo/internal/period"
)

// Budget is a recurring or one-off spending envelope. Amounts are in cents.
type Budget struct {
	Base
	UserID        uint         `gorm:"not null;index" json:"user_id"`
	Name          string       `gorm:"not null" json:"name"`
	Amount        int64        `gorm:"not null" json:"amount"`
	CycleType     period.Cycle `gorm:"not null" json:"cycle_type"`
	CycleStartDay int          `gorm:"not null;default:1" json:"cycle_start_day"`
	StartDate     time.Time    `gorm:"not null" json:"start_date"`
	EndDate       *time.Time   `json:"end_date,omitempty"`
	IsRecurring   bool         `gorm:"default:true" json:"is_recurring"`
	Rollover      bool         `gorm:"default:false" json:"rollover"`
	IsActive      bool         `gorm:"default:true" json:"is_active"`

	// PendingAmount is a staged amount change awaiting next-period
	// activation. Promotion at the period boundary is an external sweep;
	// the engine only stores and exposes the staged value.
	PendingAmount *int64 `json:"pending_amount,omitempty"`

	// Alert timestamps are scoped to the current period: a threshold has
	// fired this period iff its timestamp is at or after the current
	// period start. Period change resets them implicitly.
	Alert80SentAt  *time.Time `gorm:"column:alert_80_sent_at" json:"alert_80_sent_at,omitempty"`
	Alert100SentAt *time.Time `gorm:"column:alert_100_sent_at" json:"alert_100_sent_at,omitempty"`

	// IsRecalculating is an observable in-flight marker for backtracking
	// recalculation. It is not a lock; mutual exclusion is enforced
	// separately per budget.
	IsRecalculating    bool       `gorm:"default:false" json:"is_recalculating"`
	LastRecalculatedAt *time.Time `json:"last_recalculated_at,omitempty"`

	// Relationships
	Categories []BudgetCategory       `gorm:"foreignKey:BudgetID" json:"categories,omitempty"`
	Snapshots  []BudgetPeriodSnapshot `gorm:"foreignKey:BudgetID" json:"-"`
}

// Schedule returns the budget's recurrence configuration for the period
// resolver.
func (b *Budget) Schedule() period.Schedule {
	return period.Schedule{
		Cycle:     b.CycleType,
		StartDay:  b.CycleStartDay,
		StartDate: b.StartDate,
		EndDate:   b.EndDate,
		Recurring: b.IsRecurring,
	}
}
