package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conti/internal/core"
	"conti/internal/storage"
)

// RecurringProcessor turns due recurring templates into real expenses,
// split equally across the household like any other expense.
type RecurringProcessor struct {
	storage        *storage.Repository
	expenseService *ExpenseService
}

func NewRecurringProcessor(storage *storage.Repository, expenseService *ExpenseService) *RecurringProcessor {
	return &RecurringProcessor{
		storage:        storage,
		expenseService: expenseService,
	}
}

// ProcessDueExpenses creates an expense for every template that is due at
// now. A failing template is logged and skipped, not fatal: the next run
// retries it.
func (p *RecurringProcessor) ProcessDueExpenses(ctx context.Context, now time.Time) (int, error) {
	if p.storage == nil || p.expenseService == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	templates, err := p.storage.ListActiveRecurringExpenses(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list active recurring expenses: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring expenses",
		"total_active", len(templates),
		"processing_date", now.Format("2006-01-02"))

	processed := 0
	for _, re := range templates {
		checker, err := checkerFor(re.Every)
		if err != nil {
			slog.ErrorContext(ctx, "Unknown repetition type",
				"recurring_id", re.ID, "every", re.Every)
			continue
		}
		if !checker.IsDue(re, now) {
			continue
		}

		expense := core.Expense{
			HouseholdID: re.HouseholdID,
			CreatorID:   re.CreatorID,
			Title:       re.Title,
			Amount:      re.Amount,
			Currency:    "EUR",
			Category:    re.Category,
			Date:        core.Date{Time: now},
		}

		if _, err := p.expenseService.CreateExpense(ctx, expense, nil); err != nil {
			slog.ErrorContext(ctx, "Failed to create expense from recurring template",
				"recurring_id", re.ID,
				"title", re.Title,
				"error", err)
			continue
		}

		if err := p.storage.MarkRecurringRun(ctx, re.ID, now); err != nil {
			// Expense was created; worst case the next run duplicates it,
			// which the dueness check prevents within the same period.
			slog.ErrorContext(ctx, "Failed to record recurring run",
				"recurring_id", re.ID, "error", err)
		}

		processed++
		slog.InfoContext(ctx, "Created expense from recurring template",
			"recurring_id", re.ID,
			"title", re.Title,
			"amount_cents", re.Amount.Cents,
			"frequency", re.Every)
	}

	slog.InfoContext(ctx, "Recurring expense processing complete",
		"processed", processed,
		"total_checked", len(templates))

	return processed, nil
}
