package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"kakeibo/internal/models"
	"kakeibo/internal/period"
)

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// CreateTestUser creates a user with a hashed password and unique email.
func CreateTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	email := fmt.Sprintf("user%d@test.com", nextID())
	return CreateTestUserWithEmail(t, db, email)
}

// CreateTestUserWithEmail creates a user with the given email.
func CreateTestUserWithEmail(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:    email,
		Password: string(hash),
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateTestCashAccount creates a cash account with zero balance.
func CreateTestCashAccount(t *testing.T, db *gorm.DB, userID uint) *models.Account {
	t.Helper()
	return CreateTestCashAccountWithBalance(t, db, userID, 0)
}

// CreateTestCashAccountWithBalance creates a cash account with the given balance (in cents).
func CreateTestCashAccountWithBalance(t *testing.T, db *gorm.DB, userID uint, balance int64) *models.Account {
	t.Helper()

	account := &models.Account{
		UserID:   userID,
		Name:     fmt.Sprintf("Test Account %d", nextID()),
		Type:     models.AccountTypeCash,
		Balance:  balance,
		Currency: "USD",
		IsActive: true,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to create test cash account: %v", err)
	}
	return account
}

// CreateTestCategory creates a root category of the given type.
func CreateTestCategory(t *testing.T, db *gorm.DB, userID uint, categoryType models.CategoryType) *models.Category {
	t.Helper()

	category := &models.Category{
		UserID: userID,
		Name:   fmt.Sprintf("Test Category %d", nextID()),
		Type:   categoryType,
	}
	if err := db.Create(category).Error; err != nil {
		t.Fatalf("failed to create test category: %v", err)
	}
	return category
}

// CreateTestMainCategory creates a main category under a fresh root.
func CreateTestMainCategory(t *testing.T, db *gorm.DB, userID uint, categoryType models.CategoryType) *models.Category {
	t.Helper()

	root := CreateTestCategory(t, db, userID, categoryType)
	category := &models.Category{
		UserID:   userID,
		Name:     fmt.Sprintf("Test Main Category %d", nextID()),
		Type:     categoryType,
		ParentID: &root.ID,
	}
	if err := db.Create(category).Error; err != nil {
		t.Fatalf("failed to create test main category: %v", err)
	}
	return category
}

// CreateTestBudget creates a monthly budget starting at the given date.
func CreateTestBudget(t *testing.T, db *gorm.DB, userID uint, amount int64, startDate time.Time) *models.Budget {
	t.Helper()

	budget := &models.Budget{
		UserID:        userID,
		Name:          fmt.Sprintf("Test Budget %d", nextID()),
		Amount:        amount,
		CycleType:     period.CycleMonth,
		CycleStartDay: startDate.Day(),
		StartDate:     period.DateOf(startDate),
		IsRecurring:   true,
		IsActive:      true,
	}
	if err := db.Create(budget).Error; err != nil {
		t.Fatalf("failed to create test budget: %v", err)
	}
	return budget
}

// CreateTestRolloverBudget creates a monthly budget with rollover enabled.
func CreateTestRolloverBudget(t *testing.T, db *gorm.DB, userID uint, amount int64, startDate time.Time) *models.Budget {
	t.Helper()

	budget := CreateTestBudget(t, db, userID, amount, startDate)
	if err := db.Model(budget).Update("rollover", true).Error; err != nil {
		t.Fatalf("failed to enable rollover: %v", err)
	}
	budget.Rollover = true
	return budget
}

// CreateTestTransactionWithoutBudget creates an expense with no budget link.
func CreateTestTransactionWithoutBudget(t *testing.T, db *gorm.DB, userID, accountID uint, amount int64, date time.Time) *models.Transaction {
	t.Helper()

	tx := &models.Transaction{
		UserID:    userID,
		AccountID: accountID,
		Type:      models.TransactionTypeExpense,
		Amount:    amount,
		Date:      date,
	}
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("failed to create test transaction: %v", err)
	}
	return tx
}

// CreateTestExpense creates an expense on the given date, linked to the budget.
func CreateTestExpense(t *testing.T, db *gorm.DB, userID, accountID, budgetID uint, amount int64, date time.Time) *models.Transaction {
	t.Helper()

	tx := &models.Transaction{
		UserID:    userID,
		AccountID: accountID,
		Type:      models.TransactionTypeExpense,
		Amount:    amount,
		Date:      date,
	}
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("failed to create test expense: %v", err)
	}
	link := &models.TransactionBudget{TransactionID: tx.ID, BudgetID: budgetID}
	if err := db.Create(link).Error; err != nil {
		t.Fatalf("failed to link test expense to budget: %v", err)
	}
	return tx
}
