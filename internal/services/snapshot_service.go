package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "kakeibo/internal/errors"
	"kakeibo/internal/logger"
	"kakeibo/internal/models"
	"kakeibo/internal/period"
)

// snapshotService lazily materializes closed-period snapshots. A budget
// nobody reads accrues no snapshot work; its rollover chain self-heals on
// the next read.
type snapshotService struct {
	db    *gorm.DB
	calc  *usageCalculator
	locks *BudgetLocker
	now   func() time.Time
}

// NewSnapshotService creates a new SnapshotServicer.
func NewSnapshotService(db *gorm.DB, locks *BudgetLocker) SnapshotServicer {
	return &snapshotService{
		db:    db,
		calc:  newUsageCalculator(db),
		locks: locks,
		now:   time.Now,
	}
}

// EnsurePreviousSnapshot guarantees that every closed period up to and
// including the one immediately before current has a snapshot. Idempotent;
// called on every read-with-usage request.
//
// Missing periods are collected by walking backward from the previous
// period until an existing snapshot or the budget's inception, then
// materialized oldest-first so each snapshot's rollover-in can come from
// the one just written.
func (s *snapshotService) EnsurePreviousSnapshot(budget *models.Budget, current period.Period) error {
	if !budget.IsRecurring {
		// No chain to maintain.
		return nil
	}

	sched := budget.Schedule()
	prev, ok := sched.PreviousPeriod(current.Start)
	if !ok {
		return nil
	}

	today := period.DateOf(s.now())
	if !prev.End.Before(today) {
		// The previous period has not closed yet; never snapshot an
		// open period.
		return nil
	}

	exists, err := s.snapshotExists(budget.ID, prev.End)
	if err != nil {
		return err
	}
	if exists {
		// Existing snapshots are frozen truth; only backtracking
		// recalculation may rewrite them.
		return nil
	}

	unlock := s.locks.Lock(budget.ID)
	defer unlock()

	missing, err := s.collectMissing(budget, prev)
	if err != nil {
		return err
	}

	for i := len(missing) - 1; i >= 0; i-- {
		if err := s.materialize(budget, missing[i]); err != nil {
			return err
		}
	}
	return nil
}

// collectMissing walks backward from p, gathering every period without a
// snapshot, newest first. The walk is bounded: it stops at the first
// existing snapshot or at the budget's inception.
func (s *snapshotService) collectMissing(budget *models.Budget, p period.Period) ([]period.Period, error) {
	sched := budget.Schedule()
	var missing []period.Period

	cursor := p
	for {
		exists, err := s.snapshotExists(budget.ID, cursor.End)
		if err != nil {
			return nil, err
		}
		if exists {
			break
		}
		missing = append(missing, cursor)

		prev, ok := sched.PreviousPeriod(cursor.Start)
		if !ok {
			break
		}
		cursor = prev
	}
	return missing, nil
}

// materialize computes and persists the snapshot for one closed period.
// The budget's current amount is captured as the period's frozen amount.
func (s *snapshotService) materialize(budget *models.Budget, p period.Period) error {
	spent, err := s.calc.expenseSum(budget.UserID, budget.ID, p)
	if err != nil {
		return err
	}
	rollIn, err := s.calc.rolloverIn(budget, p)
	if err != nil {
		return err
	}

	snap := &models.BudgetPeriodSnapshot{
		BudgetID:     budget.ID,
		PeriodStart:  p.Start,
		PeriodEnd:    p.End,
		BudgetAmount: budget.Amount,
		SpentAmount:  spent,
		RolloverIn:   rollIn,
		RolloverOut:  calculateRolloverOut(budget.Amount, spent, rollIn, budget.Rollover),
	}

	if err := s.db.Create(snap).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	logger.Get().Debugw("materialized budget period snapshot",
		"budget_id", budget.ID,
		"period_start", p.Start.Format("2006-01-02"),
		"period_end", p.End.Format("2006-01-02"),
		"spent", spent,
		"rollover_in", rollIn,
		"rollover_out", snap.RolloverOut,
	)
	return nil
}

func (s *snapshotService) snapshotExists(budgetID uint, periodEnd time.Time) (bool, error) {
	var snap models.BudgetPeriodSnapshot
	err := s.db.Select("id").Where("budget_id = ? AND period_end = ?", budgetID, periodEnd).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return true, nil
}
