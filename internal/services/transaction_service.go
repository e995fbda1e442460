package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "kakeibo/internal/errors"
	"kakeibo/internal/models"
	"kakeibo/internal/pagination"
	"kakeibo/internal/period"
)

type transactionService struct {
	db       *gorm.DB
	accounts AccountServicer
	recalc   RecalcServicer
}

// NewTransactionService creates a new TransactionServicer.
func NewTransactionService(db *gorm.DB, accounts AccountServicer, recalc RecalcServicer) TransactionServicer {
	return &transactionService{db: db, accounts: accounts, recalc: recalc}
}

// CreateTransaction records a ledger entry, links it to the given budgets,
// and moves the account balance, all in one database transaction. Impact
// points for the linked budgets are reported after commit.
func (s *transactionService) CreateTransaction(userID, accountID uint, categoryID *uint, transactionType models.TransactionType, amount int64, description string, date time.Time, budgetIDs []uint) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "Amount must be positive")
	}
	if transactionType != models.TransactionTypeIncome && transactionType != models.TransactionTypeExpense {
		return nil, apperrors.ErrInvalidTransactionType
	}
	if _, err := s.accounts.GetAccountByID(userID, accountID); err != nil {
		return nil, err
	}
	if err := s.verifyBudgets(userID, budgetIDs); err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		UserID:      userID,
		AccountID:   accountID,
		CategoryID:  categoryID,
		Type:        transactionType,
		Amount:      amount,
		Description: description,
		// Stored date-only, like the period boundaries it is compared
		// against.
		Date: period.DateOf(date),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(txn).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		for _, budgetID := range budgetIDs {
			link := &models.TransactionBudget{TransactionID: txn.ID, BudgetID: budgetID}
			if err := tx.Create(link).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
		}
		return s.accounts.ApplyBalanceChange(tx, accountID, balanceDelta(transactionType, amount))
	})
	if err != nil {
		return nil, err
	}

	s.reportImpacts(userID, budgetIDs, txn.Date)
	return s.GetTransactionByID(userID, txn.ID)
}

// UpdateTransaction applies partial changes to a ledger entry. Both the
// old and new dates are impact points: moving an entry out of a period
// changes that period's totals just as much as moving one in.
func (s *transactionService) UpdateTransaction(userID, transactionID uint, amount *int64, date *time.Time, description *string, budgetIDs *[]uint) (*models.Transaction, error) {
	txn, err := s.GetTransactionByID(userID, transactionID)
	if err != nil {
		return nil, err
	}

	oldDate := txn.Date
	oldBudgetIDs := linkedBudgetIDs(txn)

	if budgetIDs != nil {
		if err := s.verifyBudgets(userID, *budgetIDs); err != nil {
			return nil, err
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{}
		if amount != nil {
			if *amount <= 0 {
				return apperrors.WithMessage(apperrors.ErrInvalidInput, "Amount must be positive")
			}
			// Re-point the account balance at the new amount.
			delta := balanceDelta(txn.Type, *amount) - balanceDelta(txn.Type, txn.Amount)
			if err := s.accounts.ApplyBalanceChange(tx, txn.AccountID, delta); err != nil {
				return err
			}
			updates["amount"] = *amount
		}
		if date != nil {
			updates["date"] = period.DateOf(*date)
		}
		if description != nil {
			updates["description"] = *description
		}
		if len(updates) > 0 {
			if err := tx.Model(txn).Updates(updates).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
		}

		if budgetIDs != nil {
			if err := tx.Where("transaction_id = ?", txn.ID).Delete(&models.TransactionBudget{}).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
			for _, budgetID := range *budgetIDs {
				link := &models.TransactionBudget{TransactionID: txn.ID, BudgetID: budgetID}
				if err := tx.Create(link).Error; err != nil {
					return apperrors.Wrap(apperrors.ErrInternalServer, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.GetTransactionByID(userID, transactionID)
	if err != nil {
		return nil, err
	}

	// Old links at the old date, new links at the new date; the recalc
	// engine collapses the union to the earliest point per budget.
	affected := unionBudgetIDs(oldBudgetIDs, linkedBudgetIDs(updated))
	s.reportImpacts(userID, affected, oldDate)
	s.reportImpacts(userID, affected, updated.Date)
	return updated, nil
}

func (s *transactionService) GetUserTransactions(userID uint, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error) {
	page.Defaults()

	query := s.db.Model(&models.Transaction{}).Where("transactions.user_id = ?", userID)
	if filter.FromDate != nil {
		query = query.Where("transactions.date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("transactions.date <= ?", *filter.ToDate)
	}
	if filter.Type != nil {
		query = query.Where("transactions.type = ?", *filter.Type)
	}
	if filter.CategoryID != nil {
		query = query.Where("transactions.category_id = ?", *filter.CategoryID)
	}
	if filter.AccountID != nil {
		query = query.Where("transactions.account_id = ?", *filter.AccountID)
	}
	if filter.BudgetID != nil {
		query = query.Joins("JOIN transaction_budgets tb ON tb.transaction_id = transactions.id").
			Where("tb.budget_id = ?", *filter.BudgetID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var txns []models.Transaction
	err := query.Scopes(pagination.Paginate(page)).
		Preload("Category").
		Preload("Budgets").
		Order("transactions.date DESC, transactions.id DESC").
		Find(&txns).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	resp := pagination.NewPageResponse(txns, page.Page, page.PageSize, total)
	return &resp, nil
}

func (s *transactionService) GetTransactionByID(userID, transactionID uint) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.Where("id = ? AND user_id = ?", transactionID, userID).
		Preload("Category").
		Preload("Budgets").
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &txn, nil
}

func (s *transactionService) DeleteTransaction(userID, transactionID uint) error {
	txn, err := s.GetTransactionByID(userID, transactionID)
	if err != nil {
		return err
	}

	budgetIDs := linkedBudgetIDs(txn)
	date := txn.Date

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("transaction_id = ?", txn.ID).Delete(&models.TransactionBudget{}).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if err := tx.Delete(txn).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return s.accounts.ApplyBalanceChange(tx, txn.AccountID, -balanceDelta(txn.Type, txn.Amount))
	})
	if err != nil {
		return err
	}

	s.reportImpacts(userID, budgetIDs, date)
	return nil
}

func (s *transactionService) verifyBudgets(userID uint, budgetIDs []uint) error {
	if len(budgetIDs) == 0 {
		return nil
	}
	var count int64
	err := s.db.Model(&models.Budget{}).
		Where("id IN ? AND user_id = ?", budgetIDs, userID).
		Count(&count).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count != int64(len(budgetIDs)) {
		return apperrors.ErrBudgetNotFound
	}
	return nil
}

func (s *transactionService) reportImpacts(userID uint, budgetIDs []uint, date time.Time) {
	if len(budgetIDs) == 0 {
		return
	}
	impacts := make([]Impact, 0, len(budgetIDs))
	for _, id := range budgetIDs {
		impacts = append(impacts, Impact{BudgetID: id, Date: date})
	}
	// HandleImpact logs its own failures; a ledger write never fails on
	// recalculation.
	_ = s.recalc.HandleImpact(userID, impacts)
}

func balanceDelta(transactionType models.TransactionType, amount int64) int64 {
	if transactionType == models.TransactionTypeIncome {
		return amount
	}
	return -amount
}

func linkedBudgetIDs(txn *models.Transaction) []uint {
	ids := make([]uint, 0, len(txn.Budgets))
	for _, link := range txn.Budgets {
		ids = append(ids, link.BudgetID)
	}
	return ids
}

func unionBudgetIDs(a, b []uint) []uint {
	seen := make(map[uint]struct{}, len(a)+len(b))
	var out []uint
	for _, id := range append(a, b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
