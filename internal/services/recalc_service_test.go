package services

import (
	"sync"
	"testing"
	"time"

	"kakeibo/internal/models"
	"kakeibo/internal/period"
	"kakeibo/internal/testutil"
)

func TestHandleImpact(t *testing.T) {
	t.Run("backdated_expense_replays_chain", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestCashAccount(t, db, user.ID)
		budget := testutil.CreateTestRolloverBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		// January closed with 60000 spent and 40000 carried out.
		testutil.CreateTestExpense(t, db, user.ID, account.ID, budget.ID, 60000, period.Date(2026, 1, 10))
		jan := &models.BudgetPeriodSnapshot{
			BudgetID:     budget.ID,
			PeriodStart:  period.Date(2026, 1, 1),
			PeriodEnd:    period.Date(2026, 1, 31),
			BudgetAmount: 100000,
			SpentAmount:  60000,
			RolloverOut:  40000,
		}
		if err := db.Create(jan).Error; err != nil {
			t.Fatalf("failed to seed snapshot: %v", err)
		}

		ref := period.Date(2026, 2, 15)
		dispatcher := &captureDispatcher{}
		alerts := NewAlertService(db, dispatcher).(*alertService)
		alerts.now = func() time.Time { return ref }
		svc := NewRecalcService(db, NewBudgetLocker(), alerts).(*recalcService)
		svc.now = func() time.Time { return ref }

		// A forgotten 30000 expense surfaces, dated inside January.
		testutil.CreateTestExpense(t, db, user.ID, account.ID, budget.ID, 30000, period.Date(2026, 1, 20))
		err := svc.HandleImpact(user.ID, []Impact{{BudgetID: budget.ID, Date: period.Date(2026, 1, 20)}})
		testutil.AssertNoError(t, err)

		var replayed models.BudgetPeriodSnapshot
		if err := db.Where("budget_id = ? AND period_end = ?", budget.ID, period.Date(2026, 1, 31)).First(&replayed).Error; err != nil {
			t.Fatalf("failed to load snapshot: %v", err)
		}
		if replayed.SpentAmount != 90000 {
			t.Errorf("expected replayed spent 90000, got %d", replayed.SpentAmount)
		}
		if replayed.RolloverOut != 10000 {
			t.Errorf("expected replayed rollover out 10000, got %d", replayed.RolloverOut)
		}
		if replayed.LastRecalculatedAt == nil {
			t.Error("expected snapshot recalculation timestamp to be set")
		}

		// February now inherits the corrected carryover.
		calc := newUsageCalculator(db)
		current := budget.Schedule().CurrentPeriod(ref)
		usage, err := calc.usage(budget, current)
		testutil.AssertNoError(t, err)
		if usage.Available != 110000 {
			t.Errorf("expected available 110000 after replay, got %d", usage.Available)
		}
	})

	t.Run("chain_propagates_across_snapshots", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestCashAccount(t, db, user.ID)
		budget := testutil.CreateTestRolloverBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		for m := time.Month(1); m <= 2; m++ {
			end := period.Date(2026, m+1, 1).AddDate(0, 0, -1)
			snap := &models.BudgetPeriodSnapshot{
				BudgetID:     budget.ID,
				PeriodStart:  period.Date(2026, m, 1),
				PeriodEnd:    end,
				BudgetAmount: 100000,
				RolloverIn:   int64(m-1) * 100000,
				RolloverOut:  int64(m) * 100000,
			}
			if err := db.Create(snap).Error; err != nil {
				t.Fatalf("failed to seed snapshot: %v", err)
			}
		}

		ref := period.Date(2026, 3, 15)
		dispatcher := &captureDispatcher{}
		alerts := NewAlertService(db, dispatcher).(*alertService)
		alerts.now = func() time.Time { return ref }
		svc := NewRecalcService(db, NewBudgetLocker(), alerts).(*recalcService)
		svc.now = func() time.Time { return ref }

		// Backdated expense in January must flow through February too.
		testutil.CreateTestExpense(t, db, user.ID, account.ID, budget.ID, 25000, period.Date(2026, 1, 5))
		err := svc.HandleImpact(user.ID, []Impact{{BudgetID: budget.ID, Date: period.Date(2026, 1, 5)}})
		testutil.AssertNoError(t, err)

		var snaps []models.BudgetPeriodSnapshot
		db.Where("budget_id = ?", budget.ID).Order("period_start ASC").Find(&snaps)
		if len(snaps) != 2 {
			t.Fatalf("expected 2 snapshots, got %d", len(snaps))
		}
		if snaps[0].RolloverOut != 75000 {
			t.Errorf("expected January rollover out 75000, got %d", snaps[0].RolloverOut)
		}
		if snaps[1].RolloverIn != 75000 {
			t.Errorf("expected February rollover in 75000, got %d", snaps[1].RolloverIn)
		}
		if snaps[1].RolloverOut != 175000 {
			t.Errorf("expected February rollover out 175000, got %d", snaps[1].RolloverOut)
		}
	})

	t.Run("clears_recalculating_flag", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestRolloverBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		jan := &models.BudgetPeriodSnapshot{
			BudgetID:     budget.ID,
			PeriodStart:  period.Date(2026, 1, 1),
			PeriodEnd:    period.Date(2026, 1, 31),
			BudgetAmount: 100000,
		}
		if err := db.Create(jan).Error; err != nil {
			t.Fatalf("failed to seed snapshot: %v", err)
		}

		ref := period.Date(2026, 2, 15)
		dispatcher := &captureDispatcher{}
		alerts := NewAlertService(db, dispatcher).(*alertService)
		alerts.now = func() time.Time { return ref }
		svc := NewRecalcService(db, NewBudgetLocker(), alerts).(*recalcService)
		svc.now = func() time.Time { return ref }

		err := svc.HandleImpact(user.ID, []Impact{{BudgetID: budget.ID, Date: period.Date(2026, 1, 10)}})
		testutil.AssertNoError(t, err)

		var reloaded models.Budget
		if err := db.First(&reloaded, budget.ID).Error; err != nil {
			t.Fatalf("failed to reload budget: %v", err)
		}
		if reloaded.IsRecalculating {
			t.Error("expected is_recalculating to be cleared")
		}
		if reloaded.LastRecalculatedAt == nil {
			t.Error("expected last_recalculated_at to be set")
		}
	})

	t.Run("current_period_impact_skips_replay", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		budget := testutil.CreateTestRolloverBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		ref := period.Date(2026, 2, 15)
		dispatcher := &captureDispatcher{}
		alerts := NewAlertService(db, dispatcher).(*alertService)
		alerts.now = func() time.Time { return ref }
		svc := NewRecalcService(db, NewBudgetLocker(), alerts).(*recalcService)
		svc.now = func() time.Time { return ref }

		err := svc.HandleImpact(user.ID, []Impact{{BudgetID: budget.ID, Date: period.Date(2026, 2, 10)}})
		testutil.AssertNoError(t, err)

		var reloaded models.Budget
		if err := db.First(&reloaded, budget.ID).Error; err != nil {
			t.Fatalf("failed to reload budget: %v", err)
		}
		if reloaded.LastRecalculatedAt != nil {
			t.Error("expected no replay for a current-period impact")
		}
	})

	t.Run("concurrent_impacts_serialize_per_budget", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		account := testutil.CreateTestCashAccount(t, db, user.ID)
		budget := testutil.CreateTestRolloverBudget(t, db, user.ID, 100000, period.Date(2026, 1, 1))

		for m := time.Month(1); m <= 2; m++ {
			end := period.Date(2026, m+1, 1).AddDate(0, 0, -1)
			snap := &models.BudgetPeriodSnapshot{
				BudgetID:     budget.ID,
				PeriodStart:  period.Date(2026, m, 1),
				PeriodEnd:    end,
				BudgetAmount: 100000,
			}
			if err := db.Create(snap).Error; err != nil {
				t.Fatalf("failed to seed snapshot: %v", err)
			}
		}
		testutil.CreateTestExpense(t, db, user.ID, account.ID, budget.ID, 30000, period.Date(2026, 1, 10))
		testutil.CreateTestExpense(t, db, user.ID, account.ID, budget.ID, 20000, period.Date(2026, 2, 10))

		ref := period.Date(2026, 3, 15)
		dispatcher := &captureDispatcher{}
		alerts := NewAlertService(db, dispatcher).(*alertService)
		alerts.now = func() time.Time { return ref }
		svc := NewRecalcService(db, NewBudgetLocker(), alerts).(*recalcService)
		svc.now = func() time.Time { return ref }

		// Several impacts for the same budget land at once. The per-budget
		// lock must run the replays one after another; interleaved writes
		// would leave the chain torn.
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := svc.HandleImpact(user.ID, []Impact{{BudgetID: budget.ID, Date: period.Date(2026, 1, 10)}})
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		var snaps []models.BudgetPeriodSnapshot
		db.Where("budget_id = ?", budget.ID).Order("period_start ASC").Find(&snaps)
		if len(snaps) != 2 {
			t.Fatalf("expected 2 snapshots, got %d", len(snaps))
		}
		if snaps[0].RolloverOut != 70000 {
			t.Errorf("expected January rollover out 70000, got %d", snaps[0].RolloverOut)
		}
		if snaps[1].RolloverIn != snaps[0].RolloverOut {
			t.Errorf("chain broken: February rollover in %d, January rollover out %d", snaps[1].RolloverIn, snaps[0].RolloverOut)
		}
		if snaps[1].RolloverOut != 150000 {
			t.Errorf("expected February rollover out 150000, got %d", snaps[1].RolloverOut)
		}

		var reloaded models.Budget
		if err := db.First(&reloaded, budget.ID).Error; err != nil {
			t.Fatalf("failed to reload budget: %v", err)
		}
		if reloaded.IsRecalculating {
			t.Error("expected is_recalculating to be cleared")
		}
	})

	t.Run("unknown_budget_does_not_fail_batch", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)

		ref := period.Date(2026, 2, 15)
		dispatcher := &captureDispatcher{}
		alerts := NewAlertService(db, dispatcher).(*alertService)
		alerts.now = func() time.Time { return ref }
		svc := NewRecalcService(db, NewBudgetLocker(), alerts).(*recalcService)
		svc.now = func() time.Time { return ref }

		err := svc.HandleImpact(user.ID, []Impact{{BudgetID: 9999, Date: period.Date(2026, 1, 10)}})
		testutil.AssertNoError(t, err)
	})
}
