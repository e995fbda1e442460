package services

import "sync"

// BudgetLocker serializes snapshot writes per budget. The Budget model's
// IsRecalculating flag is observable state for callers, not a mutex; two
// concurrent impacts for the same budget would otherwise interleave writes
// to the same snapshot rows. Locks are keyed by budget ID and held only
// for the duration of one materialization or replay.
type BudgetLocker struct {
	mu sync.Mutex
	// Entries are never evicted: a budget's mutex stays in the table for
	// the life of the process, even after the budget is deleted.
	locks map[uint]*sync.Mutex
}

// NewBudgetLocker creates an empty lock table.
func NewBudgetLocker() *BudgetLocker {
	return &BudgetLocker{locks: make(map[uint]*sync.Mutex)}
}

// Lock acquires the mutex for the given budget, blocking until it is free,
// and returns the matching unlock function.
func (l *BudgetLocker) Lock(budgetID uint) func() {
	l.mu.Lock()
	m, ok := l.locks[budgetID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[budgetID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
