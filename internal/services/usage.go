package services

import (
	"errors"
	"math"

	"gorm.io/gorm"

	apperrors "kakeibo/internal/errors"
	"kakeibo/internal/models"
	"kakeibo/internal/period"
)

// usageCalculator aggregates ledger amounts attributable to a budget
// within a period. It is a pure read over current state: no side effects,
// safe to call concurrently and repeatedly.
type usageCalculator struct {
	db *gorm.DB
}

func newUsageCalculator(db *gorm.DB) *usageCalculator {
	return &usageCalculator{db: db}
}

// expenseSum returns the total of all expense entries linked to the budget
// with a date inside [p.Start, p.End]. Entries in excluded categories are
// omitted. Attribution runs solely through transaction_budgets rows.
func (u *usageCalculator) expenseSum(userID, budgetID uint, p period.Period) (int64, error) {
	excluded := u.db.Model(&models.BudgetCategory{}).
		Select("category_id").
		Where("budget_id = ? AND is_excluded = ?", budgetID, true)

	var spent int64
	err := u.db.Model(&models.Transaction{}).
		Select("COALESCE(SUM(transactions.amount), 0)").
		Joins("JOIN transaction_budgets tb ON tb.transaction_id = transactions.id").
		Where("tb.budget_id = ?", budgetID).
		Where("transactions.user_id = ? AND transactions.type = ?", userID, models.TransactionTypeExpense).
		Where("transactions.date >= ? AND transactions.date < ?", p.Start, p.End.AddDate(0, 0, 1)).
		Where("transactions.category_id IS NULL OR transactions.category_id NOT IN (?)", excluded).
		Scan(&spent).Error
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return spent, nil
}

// rolloverIn resolves the amount carried into the period starting at
// p.Start: the rollover-out of the previous period's snapshot, or 0 when
// the budget does not roll over, is not recurring, has no previous period,
// or that snapshot has not been materialized yet.
func (u *usageCalculator) rolloverIn(budget *models.Budget, p period.Period) (int64, error) {
	if !budget.Rollover || !budget.IsRecurring {
		return 0, nil
	}
	prev, ok := budget.Schedule().PreviousPeriod(p.Start)
	if !ok {
		return 0, nil
	}

	var snap models.BudgetPeriodSnapshot
	err := u.db.Where("budget_id = ? AND period_end = ?", budget.ID, prev.End).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return snap.RolloverOut, nil
}

// usage computes the live consumption figures for the budget over the
// given period, using the budget's current amount.
func (u *usageCalculator) usage(budget *models.Budget, p period.Period) (BudgetUsage, error) {
	spent, err := u.expenseSum(budget.UserID, budget.ID, p)
	if err != nil {
		return BudgetUsage{}, err
	}
	rollIn, err := u.rolloverIn(budget, p)
	if err != nil {
		return BudgetUsage{}, err
	}

	available := budget.Amount + rollIn
	return BudgetUsage{
		Spent:     spent,
		Available: available,
		Remaining: available - spent,
		UsageRate: usageRate(spent, available),
	}, nil
}

// usageRate returns spent/available as a percentage with two decimal
// places. A non-positive available amount yields 0: there is no meaningful
// rate against an empty or negative envelope.
func usageRate(spent, available int64) float64 {
	if available <= 0 {
		return 0
	}
	return math.Round(float64(spent)/float64(available)*10000) / 100
}

// calculateRolloverOut derives the amount a closed period hands to its
// successor. Overspend is absorbed, never carried: the result is clamped
// at zero.
func calculateRolloverOut(budgetAmount, spent, rolloverIn int64, rollover bool) int64 {
	if !rollover {
		return 0
	}
	if out := budgetAmount + rolloverIn - spent; out > 0 {
		return out
	}
	return 0
}
