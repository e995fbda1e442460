package services

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"kakeibo/internal/models"
	"kakeibo/internal/pagination"
	"kakeibo/internal/period"
	"kakeibo/internal/testutil"
)

func newTestBudgetService(db *gorm.DB, ref time.Time) *budgetService {
	snapshots := NewSnapshotService(db, NewBudgetLocker()).(*snapshotService)
	snapshots.now = func() time.Time { return ref }
	svc := NewBudgetService(db, snapshots, NewCategoryService(db)).(*budgetService)
	svc.now = func() time.Time { return ref }
	return svc
}

func TestCreateBudget(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)

		budget, err := svc.CreateBudget(user.ID, "Groceries", 50000, period.CycleMonth, 1, period.Date(2026, 1, 1), nil, true, false)
		testutil.AssertNoError(t, err)

		if budget.ID == 0 {
			t.Fatal("expected non-zero budget ID")
		}
		if budget.Name != "Groceries" {
			t.Errorf("expected name Groceries, got %s", budget.Name)
		}
		if budget.Amount != 50000 {
			t.Errorf("expected amount 50000, got %d", budget.Amount)
		}
		if !budget.IsActive {
			t.Error("expected budget to be active")
		}
	})

	t.Run("normalizes_start_date", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)

		noon := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
		budget, err := svc.CreateBudget(user.ID, "Dining", 20000, period.CycleMonth, 1, noon, nil, true, false)
		testutil.AssertNoError(t, err)

		if !budget.StartDate.Equal(period.Date(2026, 1, 1)) {
			t.Errorf("expected start date truncated to midnight, got %v", budget.StartDate)
		}
	})

	t.Run("invalid_cycle_start_day", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)

		_, err := svc.CreateBudget(user.ID, "Bad", 50000, period.CycleMonth, 32, period.Date(2026, 1, 1), nil, true, false)
		testutil.AssertAppError(t, err, "INVALID_INPUT")

		_, err = svc.CreateBudget(user.ID, "Bad", 50000, period.CycleWeek, 8, period.Date(2026, 1, 1), nil, true, false)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("unknown_cycle_type", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)

		_, err := svc.CreateBudget(user.ID, "Bad", 50000, period.Cycle("fortnight"), 1, period.Date(2026, 1, 1), nil, true, false)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("end_before_start", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)

		end := period.Date(2025, 12, 1)
		_, err := svc.CreateBudget(user.ID, "Bad", 50000, period.CycleMonth, 1, period.Date(2026, 1, 1), &end, true, false)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})
}

func TestGetUserBudgets(t *testing.T) {
	t.Run("returns_user_budgets_only", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user1 := testutil.CreateTestUser(t, db)
		user2 := testutil.CreateTestUser(t, db)

		testutil.CreateTestBudget(t, db, user1.ID, 10000, period.Date(2026, 1, 1))
		testutil.CreateTestBudget(t, db, user1.ID, 10000, period.Date(2026, 1, 1))
		testutil.CreateTestBudget(t, db, user2.ID, 10000, period.Date(2026, 1, 1))

		page := pagination.PageRequest{Page: 1, PageSize: 20}
		result, err := svc.GetUserBudgets(user1.ID, page, nil)
		testutil.AssertNoError(t, err)

		if result.TotalItems != 2 {
			t.Errorf("expected 2 budgets, got %d", result.TotalItems)
		}
	})

	t.Run("filter_by_is_active", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)

		testutil.CreateTestBudget(t, db, user.ID, 10000, period.Date(2026, 1, 1))
		inactive := testutil.CreateTestBudget(t, db, user.ID, 10000, period.Date(2026, 1, 1))
		if err := db.Model(inactive).Update("is_active", false).Error; err != nil {
			t.Fatalf("failed to deactivate budget: %v", err)
		}

		page := pagination.PageRequest{Page: 1, PageSize: 20}
		active := true
		result, err := svc.GetUserBudgets(user.ID, page, &active)
		testutil.AssertNoError(t, err)

		if result.TotalItems != 1 {
			t.Errorf("expected 1 active budget, got %d", result.TotalItems)
		}
	})
}

func TestUpdateBudget(t *testing.T) {
	t.Run("amount_staged_for_next_period", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		newAmount := int64(150000)
		updated, err := svc.UpdateBudget(user.ID, budget.ID, "", &newAmount, EffectiveNextPeriod, nil, nil)
		testutil.AssertNoError(t, err)

		if updated.Amount != 100000 {
			t.Errorf("expected live amount unchanged at 100000, got %d", updated.Amount)
		}
		if updated.PendingAmount == nil || *updated.PendingAmount != 150000 {
			t.Errorf("expected pending amount 150000, got %v", updated.PendingAmount)
		}
	})

	t.Run("amount_applied_immediately", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		newAmount := int64(150000)
		updated, err := svc.UpdateBudget(user.ID, budget.ID, "", &newAmount, EffectiveImmediate, nil, nil)
		testutil.AssertNoError(t, err)

		if updated.Amount != 150000 {
			t.Errorf("expected amount 150000, got %d", updated.Amount)
		}
		if updated.PendingAmount != nil {
			t.Errorf("expected no pending amount, got %v", updated.PendingAmount)
		}
	})

	t.Run("invalid_effective_from", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		newAmount := int64(150000)
		_, err := svc.UpdateBudget(user.ID, budget.ID, "", &newAmount, "someday", nil, nil)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("not_found", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)

		_, err := svc.UpdateBudget(user.ID, 9999, "Nope", nil, "", nil, nil)
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})
}

func TestDeleteBudget(t *testing.T) {
	t.Run("soft_deletes", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		err := svc.DeleteBudget(user.ID, budget.ID)
		testutil.AssertNoError(t, err)

		_, err = svc.GetBudgetByID(user.ID, budget.ID)
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")

		var count int64
		db.Unscoped().Model(&models.Budget{}).Where("id = ?", budget.ID).Count(&count)
		if count != 1 {
			t.Errorf("expected soft-deleted record to exist, count=%d", count)
		}
	})

	t.Run("wrong_user", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user1 := testutil.CreateTestUser(t, db)
		user2 := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestBudget(t, db, user1.ID, 100000, period.Date(2026, 1, 1))

		err := svc.DeleteBudget(user2.ID, budget.ID)
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})
}

func TestBudgetCategories(t *testing.T) {
	t.Run("attach_main_category", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))
		cat := testutil.CreateTestMainCategory(t, db, user.ID, models.CategoryTypeExpense)

		bc, err := svc.AddBudgetCategory(user.ID, budget.ID, cat.ID, 30000, false)
		testutil.AssertNoError(t, err)

		if bc.Amount != 30000 {
			t.Errorf("expected sub-allocation 30000, got %d", bc.Amount)
		}
		if bc.IsExcluded {
			t.Error("expected category not excluded")
		}
	})

	t.Run("rejects_root_category", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))
		root := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)

		_, err := svc.AddBudgetCategory(user.ID, budget.ID, root.ID, 30000, false)
		testutil.AssertAppError(t, err, "NOT_MAIN_CATEGORY")
	})

	t.Run("rejects_duplicate", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))
		cat := testutil.CreateTestMainCategory(t, db, user.ID, models.CategoryTypeExpense)

		_, err := svc.AddBudgetCategory(user.ID, budget.ID, cat.ID, 30000, false)
		testutil.AssertNoError(t, err)

		_, err = svc.AddBudgetCategory(user.ID, budget.ID, cat.ID, 40000, false)
		testutil.AssertAppError(t, err, "ALREADY_EXISTS")
	})

	t.Run("remove", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))
		cat := testutil.CreateTestMainCategory(t, db, user.ID, models.CategoryTypeExpense)

		_, err := svc.AddBudgetCategory(user.ID, budget.ID, cat.ID, 30000, false)
		testutil.AssertNoError(t, err)

		testutil.AssertNoError(t, svc.RemoveBudgetCategory(user.ID, budget.ID, cat.ID))

		err = svc.RemoveBudgetCategory(user.ID, budget.ID, cat.ID)
		testutil.AssertAppError(t, err, "BUDGET_CATEGORY_NOT_FOUND")
	})
}

func TestGetBudgetWithUsage(t *testing.T) {
	t.Run("resolves_period_and_usage", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestCashAccount(t, db, user.ID)
		budget := testutil.CreateTestBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		testutil.CreateTestExpense(t, db, user.ID, account.ID, budget.ID, 25000, period.Date(2026, 3, 10))

		result, err := svc.GetBudgetWithUsage(user.ID, budget.ID)
		testutil.AssertNoError(t, err)

		if !result.CurrentPeriod.Start.Equal(period.Date(2026, 3, 1)) {
			t.Errorf("expected period start 2026-03-01, got %v", result.CurrentPeriod.Start)
		}
		if !result.CurrentPeriod.End.Equal(period.Date(2026, 3, 31)) {
			t.Errorf("expected period end 2026-03-31, got %v", result.CurrentPeriod.End)
		}
		if result.Usage.Spent != 25000 {
			t.Errorf("expected spent 25000, got %d", result.Usage.Spent)
		}
		if result.Usage.Available != 100000 {
			t.Errorf("expected available 100000, got %d", result.Usage.Available)
		}
		if result.Usage.Remaining != 75000 {
			t.Errorf("expected remaining 75000, got %d", result.Usage.Remaining)
		}
		if result.Usage.UsageRate != 25 {
			t.Errorf("expected usage rate 25, got %v", result.Usage.UsageRate)
		}
	})

	t.Run("materializes_previous_snapshot_on_read", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestCashAccount(t, db, user.ID)
		budget := testutil.CreateTestRolloverBudget(t, db, user.ID, 100000, period.Date(2026, 2, 1))

		testutil.CreateTestExpense(t, db, user.ID, account.ID, budget.ID, 60000, period.Date(2026, 2, 10))

		result, err := svc.GetBudgetWithUsage(user.ID, budget.ID)
		testutil.AssertNoError(t, err)

		if result.Usage.Available != 140000 {
			t.Errorf("expected available 140000 with rollover, got %d", result.Usage.Available)
		}

		var count int64
		db.Model(&models.BudgetPeriodSnapshot{}).Where("budget_id = ?", budget.ID).Count(&count)
		if count != 1 {
			t.Errorf("expected snapshot materialized on read, got %d", count)
		}
	})

	t.Run("overspent_envelope_rate_zero", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestCashAccount(t, db, user.ID)
		budget := testutil.CreateTestBudget(t, db, user.ID, 0, period.Date(2026, 3, 1))

		testutil.CreateTestExpense(t, db, user.ID, account.ID, budget.ID, 5000, period.Date(2026, 3, 10))

		result, err := svc.GetBudgetWithUsage(user.ID, budget.ID)
		testutil.AssertNoError(t, err)

		if result.Usage.UsageRate != 0 {
			t.Errorf("expected usage rate 0 against empty envelope, got %v", result.Usage.UsageRate)
		}
		if result.Usage.Remaining != -5000 {
			t.Errorf("expected remaining -5000, got %d", result.Usage.Remaining)
		}
	})
}

func TestGetBudgetSnapshots(t *testing.T) {
	t.Run("paginated_newest_first", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 6, 15))
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestRolloverBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		// Reading usage in June materializes January through May.
		_, err := svc.GetBudgetWithUsage(user.ID, budget.ID)
		testutil.AssertNoError(t, err)

		page := pagination.PageRequest{Page: 1, PageSize: 3}
		result, err := svc.GetBudgetSnapshots(user.ID, budget.ID, page)
		testutil.AssertNoError(t, err)

		if result.TotalItems != 5 {
			t.Errorf("expected 5 snapshots, got %d", result.TotalItems)
		}
		if len(result.Data) != 3 {
			t.Fatalf("expected 3 snapshots on page, got %d", len(result.Data))
		}
		if !result.Data[0].PeriodStart.Equal(period.Date(2026, 5, 1)) {
			t.Errorf("expected newest snapshot first, got start %v", result.Data[0].PeriodStart)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, period.Date(2026, 3, 15))
		user := testutil.CreateTestUser(t, db)

		_, err := svc.GetBudgetSnapshots(user.ID, 9999, pagination.PageRequest{})
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})
}
