// Package period derives budget period boundaries from a recurrence
// schedule. All values are date-only: midnight UTC, inclusive on both ends.
// Balance-affecting math elsewhere in the engine always works over a Period
// produced here, never over raw timestamps.
package period

import (
	"errors"
	"fmt"
	"time"
)

// Cycle is the recurrence unit of a budget.
type Cycle string

const (
	CycleYear  Cycle = "year"
	CycleMonth Cycle = "month"
	CycleWeek  Cycle = "week"
	CycleDay   Cycle = "day"
)

// Period is one recurrence window of a budget. Start and End are inclusive
// calendar dates (midnight UTC); End is the last day of the period.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the date d falls within [Start, End].
func (p Period) Contains(d time.Time) bool {
	d = DateOf(d)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days returns the number of calendar days in the period.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s]", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}

// DateOf truncates t to a date-only value: midnight UTC of the same
// calendar day. All comparisons in this package go through DateOf so that
// wall-clock time and zone offsets cannot shift period boundaries.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a date-only value.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Schedule is the recurrence configuration of a budget.
type Schedule struct {
	Cycle Cycle

	// StartDay anchors the cycle: day-of-month for CycleMonth (1-31,
	// clamped to short months), ISO weekday for CycleWeek (1=Monday ..
	// 7=Sunday). Ignored for CycleYear and CycleDay.
	StartDay int

	// StartDate is the budget's inception; no period exists before it.
	// For CycleYear it also anchors the anniversary month/day.
	StartDate time.Time

	// EndDate bounds a non-recurring schedule. Optional.
	EndDate *time.Time

	// Recurring indicates the schedule repeats. A non-recurring schedule
	// has exactly one period, [StartDate, EndDate] (or the reference date
	// when EndDate is unset), and no previous-period chain.
	Recurring bool
}

// Validate rejects a StartDay that is out of range for the cycle.
// Malformed schedules must never reach period resolution, so budget
// creation is the only place this is allowed to fail.
func (s Schedule) Validate() error {
	switch s.Cycle {
	case CycleMonth:
		if s.StartDay < 1 || s.StartDay > 31 {
			return fmt.Errorf("cycle start day %d out of range 1-31 for month cycle", s.StartDay)
		}
	case CycleWeek:
		if s.StartDay < 1 || s.StartDay > 7 {
			return fmt.Errorf("cycle start day %d out of range 1-7 for week cycle", s.StartDay)
		}
	case CycleYear, CycleDay:
		// StartDay ignored.
	default:
		return errors.New("unknown cycle type " + string(s.Cycle))
	}
	if s.StartDate.IsZero() {
		return errors.New("schedule start date is required")
	}
	return nil
}

// CurrentPeriod resolves the period containing the reference date.
// If ref precedes StartDate the first period is returned: the budget's
// opening window, truncated to begin at inception.
func (s Schedule) CurrentPeriod(ref time.Time) Period {
	ref = DateOf(ref)
	start := DateOf(s.StartDate)

	if !s.Recurring {
		end := ref
		if s.EndDate != nil {
			end = DateOf(*s.EndDate)
		}
		if end.Before(start) {
			end = start
		}
		return Period{Start: start, End: end}
	}

	if ref.Before(start) {
		ref = start
	}

	p := s.periodContaining(ref)
	if p.Start.Before(start) {
		// Opening window begins at inception, mid-cycle or not. The end
		// stays on the cycle boundary so later periods line up.
		p.Start = start
	}
	return p
}

// PreviousPeriod returns the period immediately before the one starting at
// periodStart, shifted back by exactly one cycle length. It is never
// re-derived from a reference date, which keeps the chain contiguous no
// matter when it is called. The second return value is false when no
// previous period exists: non-recurring schedules, or a start at or before
// the budget's inception.
func (s Schedule) PreviousPeriod(periodStart time.Time) (Period, bool) {
	if !s.Recurring {
		return Period{}, false
	}

	periodStart = DateOf(periodStart)
	inception := DateOf(s.StartDate)
	if !periodStart.After(inception) {
		return Period{}, false
	}

	prevEnd := periodStart.AddDate(0, 0, -1)
	var prevStart time.Time

	switch s.Cycle {
	case CycleMonth:
		prevStart = monthBoundary(prevEnd.Year(), prevEnd.Month(), s.StartDay)
		if prevStart.After(prevEnd) {
			// prevEnd sits before this month's boundary; the period
			// opened in the month before.
			y, m := prevMonth(prevEnd.Year(), prevEnd.Month())
			prevStart = monthBoundary(y, m, s.StartDay)
		}
	case CycleWeek:
		prevStart = periodStart.AddDate(0, 0, -7)
	case CycleYear:
		anchor := DateOf(s.StartDate)
		prevStart = yearBoundary(periodStart.Year()-1, anchor.Month(), anchor.Day())
	case CycleDay:
		prevStart = prevEnd
	}

	if prevStart.Before(inception) {
		// The chain begins at inception: the opening window may be a
		// partial cycle.
		prevStart = inception
	}
	return Period{Start: prevStart, End: prevEnd}, true
}

// periodContaining maps ref to the full cycle window around it, ignoring
// the inception clamp.
func (s Schedule) periodContaining(ref time.Time) Period {
	switch s.Cycle {
	case CycleMonth:
		start := monthBoundary(ref.Year(), ref.Month(), s.StartDay)
		if start.After(ref) {
			y, m := prevMonth(ref.Year(), ref.Month())
			start = monthBoundary(y, m, s.StartDay)
		}
		ny, nm := nextMonth(start.Year(), start.Month())
		next := monthBoundary(ny, nm, s.StartDay)
		return Period{Start: start, End: next.AddDate(0, 0, -1)}

	case CycleWeek:
		offset := (isoWeekday(ref) - s.StartDay + 7) % 7
		start := ref.AddDate(0, 0, -offset)
		return Period{Start: start, End: start.AddDate(0, 0, 6)}

	case CycleYear:
		anchor := DateOf(s.StartDate)
		start := yearBoundary(ref.Year(), anchor.Month(), anchor.Day())
		if start.After(ref) {
			start = yearBoundary(ref.Year()-1, anchor.Month(), anchor.Day())
		}
		next := yearBoundary(start.Year()+1, anchor.Month(), anchor.Day())
		return Period{Start: start, End: next.AddDate(0, 0, -1)}

	default: // CycleDay
		return Period{Start: ref, End: ref}
	}
}

// monthBoundary returns the boundary date for the given month, clamping
// day to the month's length (day 31 in a 30-day month becomes day 30).
func monthBoundary(year int, month time.Month, day int) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return Date(year, month, day)
}

// yearBoundary is the anniversary date in the given year, clamping
// Feb 29 anchors to Feb 28 in non-leap years.
func yearBoundary(year int, month time.Month, day int) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return Date(year, month, day)
}

func daysIn(year int, month time.Month) int {
	return Date(year, month, 1).AddDate(0, 1, -1).Day()
}

func prevMonth(year int, month time.Month) (int, time.Month) {
	if month == time.January {
		return year - 1, time.December
	}
	return year, month - 1
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

// isoWeekday maps Go's Sunday-based weekday to ISO numbering,
// 1=Monday .. 7=Sunday.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
