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

// CreateExpenseWithShares inserts an expense together with its split in
// one transaction. Share amounts must sum to the expense amount exactly.
// The creator's own share, if present, is inserted already paid: the
// creator fronted the money, so nobody owes the creator their own part.
func (r *Repository) CreateExpenseWithShares(ctx context.Context, e core.Expense, shares []core.ShareSpec) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if err := core.ValidateCustomShares(e.Amount.Cents, shares); err != nil {
		return core.Expense{}, err
	}

	e.ID = uuid.NewString()
	e.Status = core.StatusActive
	now := time.Now().UTC()

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (id, household_id, creator_id, title, amount_cents, currency, category, expense_date, notes, status, sync_status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', 'pending', ?, ?)`,
			e.ID, e.HouseholdID, e.CreatorID, e.Title, e.Amount.Cents, e.Currency, e.Category,
			formatDate(e.Date), e.Notes, now.Unix(), now.Unix()); err != nil {
			return fmt.Errorf("insert expense: %w", err)
		}
		inserted, err := insertShares(ctx, tx, e.ID, e.CreatorID, shares, now)
		if err != nil {
			return err
		}
		e.Shares = inserted
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	slog.InfoContext(ctx, "Expense created",
		"expense_id", e.ID,
		"household_id", e.HouseholdID,
		"amount_cents", e.Amount.Cents,
		"shares", len(e.Shares))
	return e, nil
}

func insertShares(ctx context.Context, tx *sql.Tx, expenseID, creatorID string, shares []core.ShareSpec, now time.Time) ([]core.ExpenseShare, error) {
	out := make([]core.ExpenseShare, 0, len(shares))
	for _, spec := range shares {
		s := core.ExpenseShare{
			ID:        uuid.NewString(),
			ExpenseID: expenseID,
			UserID:    spec.UserID,
			Amount:    spec.Amount,
			IsPaid:    spec.UserID == creatorID,
		}
		var paidAt any
		if s.IsPaid {
			s.PaidAt = now
			paidAt = now.Unix()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expense_shares (id, expense_id, user_id, amount_cents, is_paid, paid_at) VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, s.ExpenseID, s.UserID, s.Amount.Cents, boolToInt(s.IsPaid), paidAt); err != nil {
			return nil, fmt.Errorf("insert share for %s: %w", spec.UserID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// UpdateExpenseWithShares replaces an expense's fields and split. Once a
// non-creator share has been paid, money already moved against the old
// split, so the update is rejected with ErrSharesSettled.
func (r *Repository) UpdateExpenseWithShares(ctx context.Context, e core.Expense, shares []core.ShareSpec) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if err := core.ValidateCustomShares(e.Amount.Cents, shares); err != nil {
		return core.Expense{}, err
	}

	now := time.Now().UTC()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var settled int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM expense_shares WHERE expense_id = ? AND is_paid = 1 AND user_id != ?`,
			e.ID, e.CreatorID).Scan(&settled); err != nil {
			return fmt.Errorf("count settled shares: %w", err)
		}
		if settled > 0 {
			return ErrSharesSettled
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE expenses SET title = ?, amount_cents = ?, category = ?, expense_date = ?, notes = ?, sync_status = 'pending', updated_at = ?
			 WHERE id = ? AND status = 'active'`,
			e.Title, e.Amount.Cents, e.Category, formatDate(e.Date), e.Notes, now.Unix(), e.ID)
		if err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM expense_shares WHERE expense_id = ?`, e.ID); err != nil {
			return fmt.Errorf("delete old shares: %w", err)
		}
		inserted, err := insertShares(ctx, tx, e.ID, e.CreatorID, shares, now)
		if err != nil {
			return err
		}
		e.Shares = inserted
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	slog.InfoContext(ctx, "Expense updated", "expense_id", e.ID, "amount_cents", e.Amount.Cents)
	return e, nil
}

// ArchiveExpense hides an expense from lists and balances without losing
// its history.
func (r *Repository) ArchiveExpense(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET status = 'archived', updated_at = ? WHERE id = ? AND status = 'active'`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("archive expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	slog.InfoContext(ctx, "Expense archived", "expense_id", id)
	return nil
}

func (r *Repository) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, household_id, creator_id, title, amount_cents, currency, category, expense_date, notes, status
		 FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if err != nil {
		return core.Expense{}, err
	}
	shares, err := r.listSharesByExpense(ctx, id)
	if err != nil {
		return core.Expense{}, err
	}
	e.Shares = shares
	return e, nil
}

// ListExpenses returns the household's active expenses for a month, newest
// first, with shares loaded.
func (r *Repository) ListExpenses(ctx context.Context, householdID string, year, month int) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, household_id, creator_id, title, amount_cents, currency, category, expense_date, notes, status
		 FROM expenses
		 WHERE household_id = ? AND status = 'active' AND substr(expense_date, 1, 7) = ?
		 ORDER BY expense_date DESC, created_at DESC`,
		householdID, fmt.Sprintf("%04d-%02d", year, month))
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	byID := map[string]int{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		byID[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(expenses) == 0 {
		return nil, nil
	}

	shareRows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.expense_id, s.user_id, s.amount_cents, s.is_paid, s.paid_at
		 FROM expense_shares s
		 JOIN expenses e ON e.id = s.expense_id
		 WHERE e.household_id = ? AND e.status = 'active' AND substr(e.expense_date, 1, 7) = ?`,
		householdID, fmt.Sprintf("%04d-%02d", year, month))
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer shareRows.Close()

	for shareRows.Next() {
		s, err := scanShare(shareRows)
		if err != nil {
			return nil, err
		}
		if i, ok := byID[s.ExpenseID]; ok {
			expenses[i].Shares = append(expenses[i].Shares, s)
		}
	}
	return expenses, shareRows.Err()
}

// MonthOverview aggregates a household's active expenses for a month into
// a total plus per-category sums.
func (r *Repository) MonthOverview(ctx context.Context, householdID string, year, month int) (core.MonthOverview, error) {
	overview := core.MonthOverview{HouseholdID: householdID, Year: year, Month: month}
	prefix := fmt.Sprintf("%04d-%02d", year, month)

	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM expenses
		 WHERE household_id = ? AND status = 'active' AND substr(expense_date, 1, 7) = ?`,
		householdID, prefix).Scan(&overview.Total.Cents)
	if err != nil {
		return overview, fmt.Errorf("month total: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(amount_cents) FROM expenses
		 WHERE household_id = ? AND status = 'active' AND substr(expense_date, 1, 7) = ?
		 GROUP BY category ORDER BY SUM(amount_cents) DESC`,
		householdID, prefix)
	if err != nil {
		return overview, fmt.Errorf("category sums: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return overview, fmt.Errorf("scan category sum: %w", err)
		}
		overview.ByCategory = append(overview.ByCategory, ca)
	}
	return overview, rows.Err()
}

// ListShareDebts returns the raw debt rows balances are computed from:
// every share of every active expense, with its expense's creator.
func (r *Repository) ListShareDebts(ctx context.Context, householdID string) ([]core.ShareDebt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.user_id, e.creator_id, s.amount_cents, s.is_paid
		 FROM expense_shares s
		 JOIN expenses e ON e.id = s.expense_id
		 WHERE e.household_id = ? AND e.status = 'active'`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list share debts: %w", err)
	}
	defer rows.Close()

	var debts []core.ShareDebt
	for rows.Next() {
		var d core.ShareDebt
		var isPaid int
		if err := rows.Scan(&d.OwerID, &d.CreditorID, &d.Amount.Cents, &isPaid); err != nil {
			return nil, fmt.Errorf("scan share debt: %w", err)
		}
		d.IsPaid = isPaid != 0
		debts = append(debts, d)
	}
	return debts, rows.Err()
}

// ListUnpaidShares returns the ower's unpaid shares on active expenses
// created by the creditor, oldest expense first. This is the work list
// for settle-all.
func (r *Repository) ListUnpaidShares(ctx context.Context, householdID, owerID, creditorID string) ([]core.ExpenseShare, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.expense_id, s.user_id, s.amount_cents, s.is_paid, s.paid_at
		 FROM expense_shares s
		 JOIN expenses e ON e.id = s.expense_id
		 WHERE e.household_id = ? AND e.status = 'active'
		   AND s.user_id = ? AND e.creator_id = ? AND s.is_paid = 0
		 ORDER BY e.expense_date, e.created_at`,
		householdID, owerID, creditorID)
	if err != nil {
		return nil, fmt.Errorf("list unpaid shares: %w", err)
	}
	defer rows.Close()

	var shares []core.ExpenseShare
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

func (r *Repository) listSharesByExpense(ctx context.Context, expenseID string) ([]core.ExpenseShare, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, expense_id, user_id, amount_cents, is_paid, paid_at
		 FROM expense_shares WHERE expense_id = ? ORDER BY rowid`, expenseID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var shares []core.ExpenseShare
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var e core.Expense
	var date, status string
	err := row.Scan(&e.ID, &e.HouseholdID, &e.CreatorID, &e.Title, &e.Amount.Cents,
		&e.Currency, &e.Category, &date, &e.Notes, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	e.Status = core.RecordStatus(status)
	e.Date, err = parseDate(date)
	if err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func scanShare(row rowScanner) (core.ExpenseShare, error) {
	var s core.ExpenseShare
	var isPaid int
	var paidAt sql.NullInt64
	err := row.Scan(&s.ID, &s.ExpenseID, &s.UserID, &s.Amount.Cents, &isPaid, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ExpenseShare{}, ErrNotFound
	}
	if err != nil {
		return core.ExpenseShare{}, fmt.Errorf("scan share: %w", err)
	}
	s.IsPaid = isPaid != 0
	if paidAt.Valid {
		s.PaidAt = time.Unix(paidAt.Int64, 0).UTC()
	}
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
