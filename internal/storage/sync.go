package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Ledger entry kinds for the export pipeline.
const (
	LedgerExpense = "expense"
	LedgerPayment = "payment"
)

// LedgerEntry identifies one record awaiting export to the external ledger.
type LedgerEntry struct {
	Kind string
	ID   string
}

// PendingLedgerEntries returns records created before olderThan and still
// marked pending, oldest first. The recovery scan uses this to requeue
// anything whose message was lost; the age cutoff keeps records whose
// message is still in flight out of the result.
func (r *Repository) PendingLedgerEntries(ctx context.Context, olderThan time.Time, limit int) ([]LedgerEntry, error) {
	cutoff := olderThan.Unix()
	rows, err := r.db.QueryContext(ctx,
		`SELECT 'expense' AS kind, id, created_at FROM expenses WHERE sync_status = 'pending' AND created_at <= ?
		 UNION ALL
		 SELECT 'payment' AS kind, id, created_at FROM payments WHERE sync_status = 'pending' AND created_at <= ?
		 ORDER BY created_at LIMIT ?`, cutoff, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var createdAt int64
		if err := rows.Scan(&e.Kind, &e.ID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkSynced records a successful export.
func (r *Repository) MarkSynced(ctx context.Context, kind, id string) error {
	if err := r.setSyncStatus(ctx, kind, id, "synced"); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Record marked as synced", "kind", kind, "id", id)
	return nil
}

// MarkSyncError records a failed export so the recovery scan retries it later.
func (r *Repository) MarkSyncError(ctx context.Context, kind, id string) error {
	if err := r.setSyncStatus(ctx, kind, id, "error"); err != nil {
		return err
	}
	slog.WarnContext(ctx, "Record marked with sync error", "kind", kind, "id", id)
	return nil
}

func (r *Repository) setSyncStatus(ctx context.Context, kind, id, status string) error {
	var table string
	switch kind {
	case LedgerExpense:
		table = "expenses"
	case LedgerPayment:
		table = "payments"
	default:
		return fmt.Errorf("unknown ledger kind: %s", kind)
	}
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET sync_status = ? WHERE id = ?`, table), status, id)
	if err != nil {
		return fmt.Errorf("set sync status: %w", err)
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
