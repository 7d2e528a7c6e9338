package services

import (
	"testing"
	"time"

	"conti/internal/core"
)

func template(every core.RepetitionTypes, start core.Date, lastRun time.Time) core.RecurringExpense {
	return core.RecurringExpense{
		ID:          "rec-1",
		HouseholdID: "h1",
		CreatorID:   "u1",
		Title:       "Abbonamento",
		Amount:      core.Money{Cents: 4500},
		Category:    "sport",
		Every:       every,
		StartDate:   start,
		LastRun:     lastRun,
	}
}

func TestDuenessRules(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	start := core.NewDate(2026, 1, 1)

	tests := []struct {
		name string
		re   core.RecurringExpense
		want bool
	}{
		{
			name: "daily never run",
			re:   template(core.Daily, start, time.Time{}),
			want: true,
		},
		{
			name: "daily already run today",
			re:   template(core.Daily, start, time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)),
			want: false,
		},
		{
			name: "daily run yesterday",
			re:   template(core.Daily, start, time.Date(2026, 1, 14, 23, 0, 0, 0, time.UTC)),
			want: true,
		},
		{
			name: "weekly six days ago",
			re:   template(core.Weekly, start, now.AddDate(0, 0, -6)),
			want: false,
		},
		{
			name: "weekly seven days ago",
			re:   template(core.Weekly, start, now.AddDate(0, 0, -7)),
			want: true,
		},
		{
			name: "monthly already run this month",
			re:   template(core.Monthly, start, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)),
			want: false,
		},
		{
			name: "monthly new month past target day",
			re:   template(core.Monthly, start, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)),
			want: true,
		},
		{
			name: "monthly new month before target day",
			re:   template(core.Monthly, core.NewDate(2025, 6, 20), time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)),
			want: false,
		},
		{
			name: "yearly already run this year",
			re:   template(core.Yearly, start, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
			want: false,
		},
		{
			name: "yearly new year past target",
			re:   template(core.Yearly, core.NewDate(2024, 1, 10), time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)),
			want: true,
		},
		{
			name: "yearly new year before target month",
			re:   template(core.Yearly, core.NewDate(2024, 6, 1), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker, err := checkerFor(tt.re.Every)
			if err != nil {
				t.Fatalf("checkerFor(%s) error = %v", tt.re.Every, err)
			}
			if got := checker.IsDue(tt.re, now); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDuenessWindow(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	t.Run("before the start date", func(t *testing.T) {
		re := template(core.Daily, core.NewDate(2026, 2, 1), time.Time{})
		checker, _ := checkerFor(core.Daily)
		if checker.IsDue(re, now) {
			t.Error("template due before its start date")
		}
	})

	t.Run("past the end date", func(t *testing.T) {
		re := template(core.Daily, core.NewDate(2025, 1, 1), time.Time{})
		re.EndDate = core.NewDate(2025, 12, 31)
		checker, _ := checkerFor(core.Daily)
		if checker.IsDue(re, now) {
			t.Error("template due after its end date")
		}
	})

	t.Run("on the end date itself", func(t *testing.T) {
		re := template(core.Daily, core.NewDate(2025, 1, 1), time.Time{})
		re.EndDate = core.NewDate(2026, 1, 15)
		checker, _ := checkerFor(core.Daily)
		if !checker.IsDue(re, now) {
			t.Error("template not due on its last covered day")
		}
	})
}

func TestMonthlyClampsToShortMonths(t *testing.T) {
	// Started on the 31st; February has no 31st, so the 28th fires it.
	re := template(core.Monthly, core.NewDate(2025, 1, 31), time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	checker, _ := checkerFor(core.Monthly)

	feb27 := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	if checker.IsDue(re, feb27) {
		t.Error("due before the clamped day of a short month")
	}
	feb28 := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	if !checker.IsDue(re, feb28) {
		t.Error("not due on the last day of a short month")
	}
}

func TestCheckerForUnknownType(t *testing.T) {
	if _, err := checkerFor(core.RepetitionTypes("biweekly")); err == nil {
		t.Error("expected error for unknown repetition type")
	}
}
