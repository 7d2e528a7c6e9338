package services

import (
	"fmt"
	"time"

	"conti/internal/core"
)

// DuenessChecker decides, from a recurring template's own window and last
// run, whether processing at now should materialize a new expense.
type DuenessChecker interface {
	IsDue(re core.RecurringExpense, now time.Time) bool
}

// checkerFor maps a template's repetition type to its rule.
func checkerFor(every core.RepetitionTypes) (DuenessChecker, error) {
	switch every {
	case core.Daily:
		return dailyRule{}, nil
	case core.Weekly:
		return weeklyRule{}, nil
	case core.Monthly:
		return monthlyRule{}, nil
	case core.Yearly:
		return yearlyRule{}, nil
	default:
		return nil, fmt.Errorf("unknown repetition type: %s", every)
	}
}

// windowOpen reports whether now falls inside the template's start/end
// window. Listing already filters on the window, but the rules re-check
// so a template evaluated directly behaves the same.
func windowOpen(re core.RecurringExpense, now time.Time) bool {
	if !re.StartDate.IsEmpty() && !sameOrAfterDay(re.StartDate.Time, now) {
		return false
	}
	if !re.EndDate.IsEmpty() && !sameOrAfterDay(now, re.EndDate.Time) {
		return false
	}
	return true
}

// sameOrAfterDay compares calendar days, ignoring the time of day.
func sameOrAfterDay(from, day time.Time) bool {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(f)
}

// dailyRule: at most one expense per calendar day.
type dailyRule struct{}

func (dailyRule) IsDue(re core.RecurringExpense, now time.Time) bool {
	if !windowOpen(re, now) {
		return false
	}
	if re.LastRun.IsZero() {
		return true
	}
	return re.LastRun.Format("2006-01-02") != now.Format("2006-01-02")
}

// weeklyRule: at least seven days between runs.
type weeklyRule struct{}

func (weeklyRule) IsDue(re core.RecurringExpense, now time.Time) bool {
	if !windowOpen(re, now) {
		return false
	}
	if re.LastRun.IsZero() {
		return true
	}
	return now.Sub(re.LastRun).Hours()/24 >= 7
}

// monthlyRule: once per month, on or after the start date's day. The
// target day clamps to the month's last day so a template started on the
// 31st still fires in February.
type monthlyRule struct{}

func (monthlyRule) IsDue(re core.RecurringExpense, now time.Time) bool {
	if !windowOpen(re, now) {
		return false
	}
	if re.LastRun.IsZero() {
		return true
	}
	if re.LastRun.Year() == now.Year() && re.LastRun.Month() == now.Month() {
		return false
	}
	return now.Day() >= clampDay(re.StartDate.Day(), now)
}

// yearlyRule: once per year, on or after the start date's month and day.
type yearlyRule struct{}

func (yearlyRule) IsDue(re core.RecurringExpense, now time.Time) bool {
	if !windowOpen(re, now) {
		return false
	}
	if re.LastRun.IsZero() {
		return true
	}
	if re.LastRun.Year() == now.Year() {
		return false
	}
	switch {
	case int(now.Month()) < re.StartDate.Month():
		return false
	case int(now.Month()) > re.StartDate.Month():
		return true
	default:
		return now.Day() >= clampDay(re.StartDate.Day(), now)
	}
}

// clampDay limits a target day-of-month to the last day of now's month.
func clampDay(day int, now time.Time) int {
	last := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}
