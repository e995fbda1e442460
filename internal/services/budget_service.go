package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "kakeibo/internal/errors"
	"kakeibo/internal/logger"
	"kakeibo/internal/models"
	"kakeibo/internal/pagination"
	"kakeibo/internal/period"
)

// Effective-from values for budget amount updates.
const (
	EffectiveImmediate  = "immediate"
	EffectiveNextPeriod = "next_period"
)

type budgetService struct {
	db         *gorm.DB
	calc       *usageCalculator
	snapshots  SnapshotServicer
	categories CategoryServicer
	now        func() time.Time
}

// NewBudgetService creates a new BudgetServicer.
func NewBudgetService(db *gorm.DB, snapshots SnapshotServicer, categories CategoryServicer) BudgetServicer {
	return &budgetService{
		db:         db,
		calc:       newUsageCalculator(db),
		snapshots:  snapshots,
		categories: categories,
		now:        time.Now,
	}
}

// CreateBudget creates a budget after validating its cycle configuration.
// The start date is normalized to a date-only value; times of day never
// participate in period math.
func (s *budgetService) CreateBudget(userID uint, name string, amount int64, cycleType period.Cycle, cycleStartDay int, startDate time.Time, endDate *time.Time, isRecurring, rollover bool) (*models.Budget, error) {
	start := period.DateOf(startDate)
	var end *time.Time
	if endDate != nil {
		e := period.DateOf(*endDate)
		if e.Before(start) {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "End date must not be before start date")
		}
		end = &e
	}

	sched := period.Schedule{
		Cycle:     cycleType,
		StartDay:  cycleStartDay,
		StartDate: start,
		EndDate:   end,
		Recurring: isRecurring,
	}
	if err := sched.Validate(); err != nil {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error())
	}

	budget := &models.Budget{
		UserID:        userID,
		Name:          name,
		Amount:        amount,
		CycleType:     cycleType,
		CycleStartDay: cycleStartDay,
		StartDate:     start,
		EndDate:       end,
		IsRecurring:   isRecurring,
		Rollover:      rollover,
		IsActive:      true,
	}
	if err := s.db.Create(budget).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	logger.Get().Infow("budget created", "budget_id", budget.ID, "user_id", userID, "cycle_type", cycleType)
	return budget, nil
}

func (s *budgetService) GetUserBudgets(userID uint, page pagination.PageRequest, isActive *bool) (*pagination.PageResponse[models.Budget], error) {
	page.Defaults()

	query := s.db.Model(&models.Budget{}).Where("user_id = ?", userID)
	if isActive != nil {
		query = query.Where("is_active = ?", *isActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var budgets []models.Budget
	err := query.Scopes(pagination.Paginate(page)).
		Preload("Categories").
		Order("created_at DESC").
		Find(&budgets).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	resp := pagination.NewPageResponse(budgets, page.Page, page.PageSize, total)
	return &resp, nil
}

func (s *budgetService) GetBudgetByID(userID, budgetID uint) (*models.Budget, error) {
	var budget models.Budget
	err := s.db.Where("id = ? AND user_id = ?", budgetID, userID).
		Preload("Categories").
		First(&budget).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrBudgetNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &budget, nil
}

// UpdateBudget applies lifecycle changes. Amount changes honor
// effectiveFrom: "immediate" rewrites the live amount, "next_period"
// (the default) stages it in PendingAmount for promotion at the next
// period boundary. Cycle configuration is immutable after creation;
// changing it would orphan the snapshot chain.
func (s *budgetService) UpdateBudget(userID, budgetID uint, name string, amount *int64, effectiveFrom string, endDate *time.Time, isActive *bool) (*models.Budget, error) {
	budget, err := s.GetBudgetByID(userID, budgetID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if name != "" {
		updates["name"] = name
	}
	if endDate != nil {
		e := period.DateOf(*endDate)
		if e.Before(budget.StartDate) {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "End date must not be before start date")
		}
		updates["end_date"] = e
	}
	if isActive != nil {
		updates["is_active"] = *isActive
	}

	if amount != nil {
		switch effectiveFrom {
		case EffectiveImmediate:
			updates["amount"] = *amount
		case EffectiveNextPeriod, "":
			updates["pending_amount"] = *amount
		default:
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "effective_from must be immediate or next_period")
		}
	}

	if len(updates) == 0 {
		return budget, nil
	}
	if err := s.db.Model(budget).Updates(updates).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	return s.GetBudgetByID(userID, budgetID)
}

func (s *budgetService) DeleteBudget(userID, budgetID uint) error {
	budget, err := s.GetBudgetByID(userID, budgetID)
	if err != nil {
		return err
	}
	if err := s.db.Delete(budget).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	logger.Get().Infow("budget deleted", "budget_id", budgetID, "user_id", userID)
	return nil
}

// AddBudgetCategory attaches a main category to the budget, either with a
// sub-allocation amount or as an exclusion. Only main categories (direct
// children of a root category) can be attached.
func (s *budgetService) AddBudgetCategory(userID, budgetID, categoryID uint, amount int64, isExcluded bool) (*models.BudgetCategory, error) {
	budget, err := s.GetBudgetByID(userID, budgetID)
	if err != nil {
		return nil, err
	}

	isMain, err := s.categories.IsMainCategory(userID, categoryID)
	if err != nil {
		return nil, err
	}
	if !isMain {
		return nil, apperrors.ErrNotMainCategory
	}

	var existing models.BudgetCategory
	err = s.db.Where("budget_id = ? AND category_id = ?", budgetID, categoryID).First(&existing).Error
	if err == nil {
		return nil, apperrors.ErrAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	bc := &models.BudgetCategory{
		BudgetID:   budget.ID,
		CategoryID: categoryID,
		Amount:     amount,
		IsExcluded: isExcluded,
	}
	if err := s.db.Create(bc).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return bc, nil
}

func (s *budgetService) RemoveBudgetCategory(userID, budgetID, categoryID uint) error {
	if _, err := s.GetBudgetByID(userID, budgetID); err != nil {
		return err
	}

	result := s.db.Where("budget_id = ? AND category_id = ?", budgetID, categoryID).
		Delete(&models.BudgetCategory{})
	if result.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrBudgetCategoryNotFound
	}
	return nil
}

// GetBudgetWithUsage resolves the budget's current period, heals the
// snapshot chain up to it, and computes live usage. A snapshot
// materialization failure degrades the read rather than failing it: the
// usage figures are still correct for the current period, only the
// rollover-in may be missing.
func (s *budgetService) GetBudgetWithUsage(userID, budgetID uint) (*BudgetWithUsage, error) {
	budget, err := s.GetBudgetByID(userID, budgetID)
	if err != nil {
		return nil, err
	}
	return s.withUsage(budget)
}

func (s *budgetService) GetAllBudgetsWithUsage(userID uint) ([]BudgetWithUsage, error) {
	var budgets []models.Budget
	err := s.db.Where("user_id = ? AND is_active = ?", userID, true).
		Preload("Categories").
		Order("created_at DESC").
		Find(&budgets).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := make([]BudgetWithUsage, 0, len(budgets))
	for i := range budgets {
		bu, err := s.withUsage(&budgets[i])
		if err != nil {
			return nil, err
		}
		result = append(result, *bu)
	}
	return result, nil
}

func (s *budgetService) withUsage(budget *models.Budget) (*BudgetWithUsage, error) {
	current := budget.Schedule().CurrentPeriod(s.now())

	if err := s.snapshots.EnsurePreviousSnapshot(budget, current); err != nil {
		logger.Get().Warnw("snapshot materialization failed",
			"budget_id", budget.ID, "error", err)
	}

	usage, err := s.calc.usage(budget, current)
	if err != nil {
		return nil, err
	}

	return &BudgetWithUsage{
		Budget:        *budget,
		CurrentPeriod: newPeriodRange(current),
		Usage:         usage,
	}, nil
}

func (s *budgetService) GetBudgetSnapshots(userID, budgetID uint, page pagination.PageRequest) (*pagination.PageResponse[models.BudgetPeriodSnapshot], error) {
	if _, err := s.GetBudgetByID(userID, budgetID); err != nil {
		return nil, err
	}
	page.Defaults()

	query := s.db.Model(&models.BudgetPeriodSnapshot{}).Where("budget_id = ?", budgetID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var snaps []models.BudgetPeriodSnapshot
	err := query.Scopes(pagination.Paginate(page)).
		Order("period_start DESC").
		Find(&snaps).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	resp := pagination.NewPageResponse(snaps, page.Page, page.PageSize, total)
	return &resp, nil
}
