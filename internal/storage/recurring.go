package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conti/internal/core"

	"github.com/google/uuid"
)

func (r *Repository) CreateRecurringExpense(ctx context.Context, re core.RecurringExpense) (core.RecurringExpense, error) {
	if err := re.Validate(); err != nil {
		return core.RecurringExpense{}, err
	}

	re.ID = uuid.NewString()
	var endDate any
	if !re.EndDate.IsEmpty() {
		endDate = formatDate(re.EndDate)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recurring_expenses (id, household_id, creator_id, title, amount_cents, category, every, start_date, end_date, last_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		re.ID, re.HouseholdID, re.CreatorID, re.Title, re.Amount.Cents, re.Category,
		re.Every, formatDate(re.StartDate), endDate)
	if err != nil {
		return core.RecurringExpense{}, fmt.Errorf("insert recurring expense: %w", err)
	}

	slog.InfoContext(ctx, "Recurring expense created",
		"recurring_id", re.ID,
		"household_id", re.HouseholdID,
		"every", re.Every)
	return re, nil
}

func (r *Repository) GetRecurringExpense(ctx context.Context, id string) (core.RecurringExpense, error) {
	return scanRecurring(r.db.QueryRowContext(ctx,
		`SELECT id, household_id, creator_id, title, amount_cents, category, every, start_date, end_date, last_run
		 FROM recurring_expenses WHERE id = ?`, id))
}

// ListRecurringExpenses returns the household's templates.
func (r *Repository) ListRecurringExpenses(ctx context.Context, householdID string) ([]core.RecurringExpense, error) {
	return r.queryRecurring(ctx,
		`SELECT id, household_id, creator_id, title, amount_cents, category, every, start_date, end_date, last_run
		 FROM recurring_expenses WHERE household_id = ? ORDER BY title`, householdID)
}

// ListActiveRecurringExpenses returns every template whose window covers
// now, across all households. This is the worker's scan set.
func (r *Repository) ListActiveRecurringExpenses(ctx context.Context, now time.Time) ([]core.RecurringExpense, error) {
	today := now.UTC().Format(dateLayout)
	return r.queryRecurring(ctx,
		`SELECT id, household_id, creator_id, title, amount_cents, category, every, start_date, end_date, last_run
		 FROM recurring_expenses
		 WHERE start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY household_id, title`, today, today)
}

// MarkRecurringRun records that a template produced an expense.
func (r *Repository) MarkRecurringRun(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recurring_expenses SET last_run = ? WHERE id = ?`, now.UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark recurring run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteRecurringExpense(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recurring_expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recurring expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	slog.InfoContext(ctx, "Recurring expense deleted", "recurring_id", id)
	return nil
}

func (r *Repository) queryRecurring(ctx context.Context, query string, args ...any) ([]core.RecurringExpense, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recurring expenses: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringExpense
	for rows.Next() {
		re, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, rows.Err()
}

func scanRecurring(row rowScanner) (core.RecurringExpense, error) {
	var re core.RecurringExpense
	var every, startDate string
	var endDate sql.NullString
	var lastRun sql.NullInt64
	err := row.Scan(&re.ID, &re.HouseholdID, &re.CreatorID, &re.Title, &re.Amount.Cents,
		&re.Category, &every, &startDate, &endDate, &lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringExpense{}, ErrNotFound
	}
	if err != nil {
		return core.RecurringExpense{}, fmt.Errorf("scan recurring expense: %w", err)
	}
	re.Every = core.RepetitionTypes(every)
	re.StartDate, err = parseDate(startDate)
	if err != nil {
		return core.RecurringExpense{}, err
	}
	if endDate.Valid {
		re.EndDate, err = parseDate(endDate.String)
		if err != nil {
			return core.RecurringExpense{}, err
		}
	}
	if lastRun.Valid {
		re.LastRun = time.Unix(lastRun.Int64, 0).UTC()
	}
	return re, nil
}
