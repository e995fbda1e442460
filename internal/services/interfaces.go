package services

import (
	"time"

	"gorm.io/gorm"

	"kakeibo/internal/models"
	"kakeibo/internal/pagination"
	"kakeibo/internal/period"
)

// UserServicer defines the contract for user-related business logic.
type UserServicer interface {
	CreateUser(email, password, firstName, lastName string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id uint) (*models.User, error)
	VerifyPassword(user *models.User, password string) bool
	AttemptLogin(email, password string) (*models.User, error)
	StoreRefreshTokenHash(userID uint, tokenHash string) error
	GetRefreshTokenHash(userID uint) (string, error)
}

// AccountServicer defines the contract for account-related business logic.
type AccountServicer interface {
	CreateCashAccount(userID uint, name, description, currency string, initialBalance int64) (*models.Account, error)
	GetUserAccounts(userID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Account], error)
	GetAccountByID(userID, accountID uint) (*models.Account, error)
	UpdateCashAccount(userID, accountID uint, name, description string) (*models.Account, error)
	ApplyBalanceChange(tx *gorm.DB, accountID uint, delta int64) error
}

// CategoryServicer defines the contract for category-related business logic.
type CategoryServicer interface {
	CreateCategory(userID uint, name string, categoryType models.CategoryType, description, icon, color string, parentID *uint) (*models.Category, error)
	GetUserCategories(userID uint, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error)
	GetCategoryByID(userID, categoryID uint) (*models.Category, error)
	UpdateCategory(userID, categoryID uint, name, description, icon, color string) (*models.Category, error)
	DeleteCategory(userID, categoryID uint) error
	IsMainCategory(userID, categoryID uint) (bool, error)
}

// TransactionFilter holds optional filter parameters for listing transactions.
type TransactionFilter struct {
	FromDate   *time.Time
	ToDate     *time.Time
	Type       *models.TransactionType
	CategoryID *uint
	BudgetID   *uint
	AccountID  *uint
}

// TransactionServicer defines the contract for ledger operations. Every
// mutation that can shift a budget's totals reports its impact points to
// the recalculation engine.
type TransactionServicer interface {
	CreateTransaction(userID, accountID uint, categoryID *uint, transactionType models.TransactionType, amount int64, description string, date time.Time, budgetIDs []uint) (*models.Transaction, error)
	UpdateTransaction(userID, transactionID uint, amount *int64, date *time.Time, description *string, budgetIDs *[]uint) (*models.Transaction, error)
	GetUserTransactions(userID uint, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error)
	GetTransactionByID(userID, transactionID uint) (*models.Transaction, error)
	DeleteTransaction(userID, transactionID uint) error
}

// PeriodRange is the wire form of a resolved period.
type PeriodRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func newPeriodRange(p period.Period) PeriodRange {
	return PeriodRange{Start: p.Start, End: p.End}
}

// BudgetUsage contains consumption figures for one budget period.
// Available folds rollover-in on top of the budget amount; Remaining may
// be negative to signal overspend.
type BudgetUsage struct {
	Spent     int64   `json:"spent"`
	Available int64   `json:"available"`
	Remaining int64   `json:"remaining"`
	UsageRate float64 `json:"usage_rate"`
}

// BudgetWithUsage pairs a budget with its resolved current period and
// live usage.
type BudgetWithUsage struct {
	Budget        models.Budget `json:"budget"`
	CurrentPeriod PeriodRange   `json:"current_period"`
	Usage         BudgetUsage   `json:"usage"`
}

// BudgetServicer defines the contract for budget lifecycle management and
// usage reads.
type BudgetServicer interface {
	CreateBudget(userID uint, name string, amount int64, cycleType period.Cycle, cycleStartDay int, startDate time.Time, endDate *time.Time, isRecurring, rollover bool) (*models.Budget, error)
	GetUserBudgets(userID uint, page pagination.PageRequest, isActive *bool) (*pagination.PageResponse[models.Budget], error)
	GetBudgetByID(userID, budgetID uint) (*models.Budget, error)
	UpdateBudget(userID, budgetID uint, name string, amount *int64, effectiveFrom string, endDate *time.Time, isActive *bool) (*models.Budget, error)
	DeleteBudget(userID, budgetID uint) error
	AddBudgetCategory(userID, budgetID, categoryID uint, amount int64, isExcluded bool) (*models.BudgetCategory, error)
	RemoveBudgetCategory(userID, budgetID, categoryID uint) error
	GetBudgetWithUsage(userID, budgetID uint) (*BudgetWithUsage, error)
	GetAllBudgetsWithUsage(userID uint) ([]BudgetWithUsage, error)
	GetBudgetSnapshots(userID, budgetID uint, page pagination.PageRequest) (*pagination.PageResponse[models.BudgetPeriodSnapshot], error)
}

// SnapshotServicer maintains the per-period snapshot cache.
type SnapshotServicer interface {
	EnsurePreviousSnapshot(budget *models.Budget, current period.Period) error
}

// Impact signals that a ledger change may affect a budget's totals on or
// after the given date.
type Impact struct {
	BudgetID uint
	Date     time.Time
}

// RecalcServicer replays snapshot chains after ledger changes and
// re-evaluates alerts.
type RecalcServicer interface {
	HandleImpact(userID uint, impacts []Impact) error
}

// AlertThreshold identifies a usage alert level.
type AlertThreshold string

const (
	AlertUsage80  AlertThreshold = "USAGE_80"
	AlertUsage100 AlertThreshold = "USAGE_100"
)

// AlertEvent is emitted to the notification dispatcher when a budget
// crosses a usage threshold for the first time in a period.
type AlertEvent struct {
	BudgetID  uint           `json:"budget_id"`
	Threshold AlertThreshold `json:"threshold_type"`
	UsageRate float64        `json:"usage_rate"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertDispatcher delivers alert events to the notification collaborator.
// Dispatch is fire-and-forget: implementations must not block and the
// engine never awaits delivery confirmation.
type AlertDispatcher interface {
	Dispatch(event AlertEvent)
}

// AlertServicer evaluates usage thresholds for a budget's current period.
type AlertServicer interface {
	CheckBudgetAlerts(budget *models.Budget) error
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Log(userID uint, action, resourceType string, resourceID uint, ipAddress string, changes map[string]interface{})
}
