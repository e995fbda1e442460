package services

import (
	"time"

	"gorm.io/gorm"

	apperrors "kakeibo/internal/errors"
	"kakeibo/internal/logger"
	"kakeibo/internal/models"
	"kakeibo/internal/period"
)

// recalcService replays a budget's snapshot chain after a ledger change
// lands in an already-closed period, then re-evaluates alerts for the
// current period.
type recalcService struct {
	db     *gorm.DB
	calc   *usageCalculator
	locks  *BudgetLocker
	alerts AlertServicer
	now    func() time.Time
}

// NewRecalcService creates a new RecalcServicer.
func NewRecalcService(db *gorm.DB, locks *BudgetLocker, alerts AlertServicer) RecalcServicer {
	return &recalcService{
		db:     db,
		calc:   newUsageCalculator(db),
		locks:  locks,
		alerts: alerts,
		now:    time.Now,
	}
}

// HandleImpact processes ledger impact points for the user's budgets.
// Impacts are grouped per budget and collapsed to the earliest date; one
// replay from that date fixes everything after it. A failure on one budget
// is logged and does not stop the others, so a ledger write never surfaces
// a recalculation error to its caller.
func (s *recalcService) HandleImpact(userID uint, impacts []Impact) error {
	earliest := make(map[uint]time.Time)
	for _, imp := range impacts {
		d := period.DateOf(imp.Date)
		if cur, ok := earliest[imp.BudgetID]; !ok || d.Before(cur) {
			earliest[imp.BudgetID] = d
		}
	}

	for budgetID, date := range earliest {
		if err := s.recalcBudget(userID, budgetID, date); err != nil {
			logger.Get().Errorw("budget recalculation failed",
				"budget_id", budgetID,
				"impact_date", date.Format("2006-01-02"),
				"error", err,
			)
		}
	}
	return nil
}

func (s *recalcService) recalcBudget(userID, budgetID uint, impactDate time.Time) error {
	var budget models.Budget
	err := s.db.Where("id = ? AND user_id = ?", budgetID, userID).First(&budget).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrBudgetNotFound, err)
	}

	current := budget.Schedule().CurrentPeriod(s.now())

	if budget.IsRecurring && impactDate.Before(current.Start) {
		unlock := s.locks.Lock(budget.ID)
		replayErr := s.replayChain(&budget, impactDate)
		unlock()
		if replayErr != nil {
			return replayErr
		}
	}

	// The current period holds no snapshot; a fresh usage read already
	// reflects the change. Only the alert state needs revisiting.
	return s.alerts.CheckBudgetAlerts(&budget)
}

// replayChain recomputes every snapshot whose period contains or follows
// the impact date, oldest first, feeding each period's fresh rollover-out
// into the next. Snapshot budget amounts are frozen history and are reused
// as-is. The budget's IsRecalculating flag is raised for the duration so
// concurrent readers can tell the chain is in flux.
func (s *recalcService) replayChain(budget *models.Budget, impactDate time.Time) error {
	if err := s.setRecalculating(budget, true, nil); err != nil {
		return err
	}

	replayErr := s.replaySnapshots(budget, impactDate)

	finishedAt := s.now()
	if err := s.setRecalculating(budget, false, &finishedAt); err != nil {
		if replayErr != nil {
			return replayErr
		}
		return err
	}
	return replayErr
}

func (s *recalcService) replaySnapshots(budget *models.Budget, impactDate time.Time) error {
	var snaps []models.BudgetPeriodSnapshot
	err := s.db.Where("budget_id = ? AND period_end >= ?", budget.ID, impactDate).
		Order("period_start ASC").
		Find(&snaps).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	for i := range snaps {
		snap := &snaps[i]
		p := period.Period{Start: snap.PeriodStart, End: snap.PeriodEnd}

		spent, err := s.calc.expenseSum(budget.UserID, budget.ID, p)
		if err != nil {
			return err
		}

		var rollIn int64
		if i == 0 {
			// The period before the replay window was untouched; its
			// stored rollover-out is still valid.
			rollIn, err = s.calc.rolloverIn(budget, p)
			if err != nil {
				return err
			}
		} else {
			rollIn = snaps[i-1].RolloverOut
		}

		now := s.now()
		snap.SpentAmount = spent
		snap.RolloverIn = rollIn
		snap.RolloverOut = calculateRolloverOut(snap.BudgetAmount, spent, rollIn, budget.Rollover)
		snap.LastRecalculatedAt = &now

		if err := s.db.Save(snap).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
	}

	logger.Get().Infow("replayed budget snapshot chain",
		"budget_id", budget.ID,
		"impact_date", impactDate.Format("2006-01-02"),
		"snapshots", len(snaps),
	)
	return nil
}

func (s *recalcService) setRecalculating(budget *models.Budget, active bool, finishedAt *time.Time) error {
	updates := map[string]interface{}{"is_recalculating": active}
	if finishedAt != nil {
		updates["last_recalculated_at"] = finishedAt
	}
	if err := s.db.Model(budget).Updates(updates).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	budget.IsRecalculating = active
	if finishedAt != nil {
		budget.LastRecalculatedAt = finishedAt
	}
	return nil
}
