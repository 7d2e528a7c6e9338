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

// ErrNothingToSettle is returned by bulk settlement when no unpaid share
// is owed between the pair.
var ErrNothingToSettle = errors.New("nothing to settle")

// CreatePayment records a transfer between two members, optionally linked
// to specific shares. The whole payment is one transaction: every linked
// share must be unpaid, owed payer to payee, and allocated its exact
// amount, or nothing is recorded.
func (r *Repository) CreatePayment(ctx context.Context, p core.Payment) (core.Payment, error) {
	if err := p.Validate(); err != nil {
		return core.Payment{}, err
	}

	p.ID = uuid.NewString()
	p.Status = core.StatusActive
	now := time.Now().UTC()

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payments (id, household_id, payer_id, payee_id, amount_cents, method, note, payment_date, status, sync_status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'active', 'pending', ?)`,
			p.ID, p.HouseholdID, p.PayerID, p.PayeeID, p.Amount.Cents, p.Method, p.Note,
			formatDate(p.Date), now.Unix()); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		for _, a := range p.Allocations {
			if err := settleShare(ctx, tx, p, a, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.Payment{}, err
	}

	slog.InfoContext(ctx, "Payment created",
		"payment_id", p.ID,
		"household_id", p.HouseholdID,
		"amount_cents", p.Amount.Cents,
		"allocations", len(p.Allocations))
	return p, nil
}

// settleShare links one allocation to its share and flips the share paid.
// The UPDATE is guarded on is_paid = 0 so a concurrent settlement of the
// same share fails here instead of double-paying.
func settleShare(ctx context.Context, tx *sql.Tx, p core.Payment, a core.Allocation, now time.Time) error {
	var ownerID, creditorID, householdID, status string
	var shareCents int64
	var isPaid int
	err := tx.QueryRowContext(ctx,
		`SELECT s.user_id, e.creator_id, e.household_id, e.status, s.amount_cents, s.is_paid
		 FROM expense_shares s
		 JOIN expenses e ON e.id = s.expense_id
		 WHERE s.id = ?`, a.ShareID).
		Scan(&ownerID, &creditorID, &householdID, &status, &shareCents, &isPaid)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("share %s: %w", a.ShareID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load share %s: %w", a.ShareID, err)
	}

	if householdID != p.HouseholdID || status != string(core.StatusActive) {
		return fmt.Errorf("share %s: %w", a.ShareID, ErrNotFound)
	}
	if isPaid != 0 {
		return fmt.Errorf("share %s: %w", a.ShareID, ErrShareAlreadyPaid)
	}
	if ownerID != p.PayerID || creditorID != p.PayeeID {
		return fmt.Errorf("share %s: %w", a.ShareID, ErrShareNotOwed)
	}
	if a.Amount.Cents != shareCents {
		return fmt.Errorf("share %s: allocated %d of %d cents: %w",
			a.ShareID, a.Amount.Cents, shareCents, ErrPartialAllocation)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payment_allocations (payment_id, share_id, amount_cents) VALUES (?, ?, ?)`,
		p.ID, a.ShareID, a.Amount.Cents); err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE expense_shares SET is_paid = 1, paid_at = ? WHERE id = ? AND is_paid = 0`,
		now.Unix(), a.ShareID)
	if err != nil {
		return fmt.Errorf("mark share paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("share %s: %w", a.ShareID, ErrShareAlreadyPaid)
	}
	return nil
}

// UpdatePayment rewrites a payment's metadata: amount, method, note and
// date. Allocations and the share states they settled stay exactly as
// they are; an edit never re-derives is_paid. The new amount must still
// cover whatever is already allocated.
func (r *Repository) UpdatePayment(ctx context.Context, p core.Payment) (core.Payment, error) {
	if p.Amount.Cents <= 0 {
		return core.Payment{}, core.ErrInvalidAmount
	}

	existing, err := r.GetPayment(ctx, p.ID)
	if err != nil {
		return core.Payment{}, err
	}
	if existing.Status != core.StatusActive {
		return core.Payment{}, ErrNotFound
	}

	var allocated int64
	for _, a := range existing.Allocations {
		allocated += a.Amount.Cents
	}
	if p.Amount.Cents < allocated {
		return core.Payment{}, fmt.Errorf("amount %d below allocated %d: %w",
			p.Amount.Cents, allocated, core.ErrOverAllocation)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET amount_cents = ?, method = ?, note = ?, payment_date = ?, sync_status = 'pending'
		 WHERE id = ? AND status = 'active'`,
		p.Amount.Cents, p.Method, p.Note, formatDate(p.Date), p.ID)
	if err != nil {
		return core.Payment{}, fmt.Errorf("update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Payment{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.Payment{}, ErrNotFound
	}

	existing.Amount = p.Amount
	existing.Method = p.Method
	existing.Note = p.Note
	existing.Date = p.Date

	slog.InfoContext(ctx, "Payment updated",
		"payment_id", existing.ID,
		"household_id", existing.HouseholdID,
		"amount_cents", existing.Amount.Cents)
	return existing, nil
}

func (r *Repository) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, household_id, payer_id, payee_id, amount_cents, method, note, payment_date, status
		 FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err != nil {
		return core.Payment{}, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT share_id, amount_cents FROM payment_allocations WHERE payment_id = ?`, id)
	if err != nil {
		return core.Payment{}, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a core.Allocation
		if err := rows.Scan(&a.ShareID, &a.Amount.Cents); err != nil {
			return core.Payment{}, fmt.Errorf("scan allocation: %w", err)
		}
		p.Allocations = append(p.Allocations, a)
	}
	return p, rows.Err()
}

// ListPayments returns the household's active payments for a month, newest
// first.
func (r *Repository) ListPayments(ctx context.Context, householdID string, year, month int) ([]core.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, household_id, payer_id, payee_id, amount_cents, method, note, payment_date, status
		 FROM payments
		 WHERE household_id = ? AND status = 'active' AND substr(payment_date, 1, 7) = ?
		 ORDER BY payment_date DESC, created_at DESC`,
		householdID, fmt.Sprintf("%04d-%02d", year, month))
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []core.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListTransfers returns the household's active payments reduced to what
// balance computation needs: amounts and their allocated portions.
func (r *Repository) ListTransfers(ctx context.Context, householdID string) ([]core.Transfer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.payer_id, p.payee_id, p.amount_cents, COALESCE(SUM(a.amount_cents), 0)
		 FROM payments p
		 LEFT JOIN payment_allocations a ON a.payment_id = p.id
		 WHERE p.household_id = ? AND p.status = 'active'
		 GROUP BY p.id`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []core.Transfer
	for rows.Next() {
		var t core.Transfer
		if err := rows.Scan(&t.PayerID, &t.PayeeID, &t.Amount.Cents, &t.Allocated.Cents); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// ArchivePayment hides a payment from lists and balances. Shares its
// allocations flipped stay paid: paid is one-way.
func (r *Repository) ArchivePayment(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = 'archived' WHERE id = ? AND status = 'active'`, id)
	if err != nil {
		return fmt.Errorf("archive payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	slog.InfoContext(ctx, "Payment archived", "payment_id", id)
	return nil
}

func scanPayment(row rowScanner) (core.Payment, error) {
	var p core.Payment
	var date, status string
	err := row.Scan(&p.ID, &p.HouseholdID, &p.PayerID, &p.PayeeID, &p.Amount.Cents,
		&p.Method, &p.Note, &date, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payment{}, ErrNotFound
	}
	if err != nil {
		return core.Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	p.Status = core.RecordStatus(status)
	p.Date, err = parseDate(date)
	if err != nil {
		return core.Payment{}, err
	}
	return p, nil
}
