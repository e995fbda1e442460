package services

import (
	"time"

	"gorm.io/gorm"

	apperrors "kakeibo/internal/errors"
	"kakeibo/internal/logger"
	"kakeibo/internal/models"
)

// alertService checks a budget's current-period usage against the 80% and
// 100% thresholds. Each threshold fires at most once per period; the
// persisted sent timestamps double as the dedup record, so a new period
// naturally re-arms both thresholds.
type alertService struct {
	db         *gorm.DB
	calc       *usageCalculator
	dispatcher AlertDispatcher
	now        func() time.Time
}

// NewAlertService creates a new AlertServicer.
func NewAlertService(db *gorm.DB, dispatcher AlertDispatcher) AlertServicer {
	return &alertService{
		db:         db,
		calc:       newUsageCalculator(db),
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// CheckBudgetAlerts evaluates both usage thresholds for the budget's
// current period. Thresholds are independent: a single large expense can
// fire 80 and 100 in the same evaluation. Inactive budgets are skipped.
func (s *alertService) CheckBudgetAlerts(budget *models.Budget) error {
	if !budget.IsActive {
		return nil
	}

	current := budget.Schedule().CurrentPeriod(s.now())
	usage, err := s.calc.usage(budget, current)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	now := s.now()

	if usage.UsageRate >= 80 && staleSentAt(budget.Alert80SentAt, current.Start) {
		s.fire(budget, AlertUsage80, usage.UsageRate, now)
		budget.Alert80SentAt = &now
		updates["alert_80_sent_at"] = now
	}
	if usage.UsageRate >= 100 && staleSentAt(budget.Alert100SentAt, current.Start) {
		s.fire(budget, AlertUsage100, usage.UsageRate, now)
		budget.Alert100SentAt = &now
		updates["alert_100_sent_at"] = now
	}

	if len(updates) == 0 {
		return nil
	}
	if err := s.db.Model(budget).Updates(updates).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

func (s *alertService) fire(budget *models.Budget, threshold AlertThreshold, rate float64, at time.Time) {
	s.dispatcher.Dispatch(AlertEvent{
		BudgetID:  budget.ID,
		Threshold: threshold,
		UsageRate: rate,
		Timestamp: at,
	})
}

// staleSentAt reports whether a threshold may fire: it has never fired, or
// last fired before the current period began.
func staleSentAt(sentAt *time.Time, periodStart time.Time) bool {
	return sentAt == nil || sentAt.Before(periodStart)
}

// logAlertDispatcher is the default dispatcher: it records the event in
// the application log. A push or email channel would replace it at wiring
// time.
type logAlertDispatcher struct{}

// NewLogAlertDispatcher creates a dispatcher that logs alert events.
func NewLogAlertDispatcher() AlertDispatcher {
	return logAlertDispatcher{}
}

func (logAlertDispatcher) Dispatch(event AlertEvent) {
	logger.Get().Infow("budget usage alert",
		"budget_id", event.BudgetID,
		"threshold_type", event.Threshold,
		"usage_rate", event.UsageRate,
		"timestamp", event.Timestamp,
	)
}
