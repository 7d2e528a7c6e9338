// Package worker consumes ledger sync messages and appends the referenced
// records to the external ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conti/internal/amqp"
	"conti/internal/export"
	"conti/internal/storage"
)

// LedgerWorker exports expenses and payments referenced by sync messages.
// The message carries only kind and id; the worker loads the record,
// resolves names, appends one ledger row and updates the sync status.
type LedgerWorker struct {
	storage *storage.Repository
	ledger  export.LedgerWriter
}

func NewLedgerWorker(storage *storage.Repository, ledger export.LedgerWriter) *LedgerWorker {
	return &LedgerWorker{
		storage: storage,
		ledger:  ledger,
	}
}

// HandleSyncMessage processes a single ledger sync message. A missing
// record is not retried: it was archived or removed after the message was
// queued.
func (w *LedgerWorker) HandleSyncMessage(ctx context.Context, msg *amqp.LedgerSyncMessage) error {
	slog.InfoContext(ctx, "Processing ledger sync message",
		"kind", msg.Kind,
		"id", msg.ID)

	entry, err := w.buildEntry(ctx, msg.Kind, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "Record gone before export, skipping",
			"kind", msg.Kind, "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("build ledger entry: %w", err)
	}

	return w.exportEntry(ctx, entry)
}

// StartupSyncCheck exports anything still pending at worker startup. This
// recovers from messages lost while the worker was down.
func (w *LedgerWorker) StartupSyncCheck(ctx context.Context, batchSize int) error {
	pending, err := w.storage.PendingLedgerEntries(ctx, time.Now(), batchSize)
	if err != nil {
		return fmt.Errorf("get pending ledger entries: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending ledger entries found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending ledger entries on startup, processing...",
		"count", len(pending))

	synced := 0
	failed := 0
	for _, p := range pending {
		entry, err := w.buildEntry(ctx, p.Kind, p.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load pending record",
				"kind", p.Kind, "id", p.ID, "error", err)
			if markErr := w.storage.MarkSyncError(ctx, p.Kind, p.ID); markErr != nil {
				slog.ErrorContext(ctx, "Failed to mark sync error",
					"kind", p.Kind, "id", p.ID, "error", markErr)
			}
			failed++
			continue
		}
		if err := w.exportEntry(ctx, entry); err != nil {
			slog.ErrorContext(ctx, "Failed to export record during startup",
				"kind", p.Kind, "id", p.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", synced,
		"errors", failed)

	return nil
}

func (w *LedgerWorker) buildEntry(ctx context.Context, kind, id string) (export.Entry, error) {
	switch kind {
	case storage.LedgerExpense:
		return w.expenseEntry(ctx, id)
	case storage.LedgerPayment:
		return w.paymentEntry(ctx, id)
	default:
		return export.Entry{}, fmt.Errorf("unknown ledger kind: %s", kind)
	}
}

func (w *LedgerWorker) expenseEntry(ctx context.Context, id string) (export.Entry, error) {
	e, err := w.storage.GetExpense(ctx, id)
	if err != nil {
		return export.Entry{}, err
	}
	household, err := w.storage.GetHousehold(ctx, e.HouseholdID)
	if err != nil {
		return export.Entry{}, err
	}
	creator, err := w.storage.GetUser(ctx, e.CreatorID)
	if err != nil {
		return export.Entry{}, err
	}

	return export.Entry{
		Kind:      storage.LedgerExpense,
		ID:        e.ID,
		Date:      e.Date,
		Household: household.Name,
		Title:     e.Title,
		Category:  e.Category,
		Amount:    e.Amount,
		From:      creator.Name,
	}, nil
}

func (w *LedgerWorker) paymentEntry(ctx context.Context, id string) (export.Entry, error) {
	p, err := w.storage.GetPayment(ctx, id)
	if err != nil {
		return export.Entry{}, err
	}
	household, err := w.storage.GetHousehold(ctx, p.HouseholdID)
	if err != nil {
		return export.Entry{}, err
	}
	payer, err := w.storage.GetUser(ctx, p.PayerID)
	if err != nil {
		return export.Entry{}, err
	}
	payee, err := w.storage.GetUser(ctx, p.PayeeID)
	if err != nil {
		return export.Entry{}, err
	}

	title := p.Note
	if title == "" {
		title = fmt.Sprintf("%s -> %s", payer.Name, payee.Name)
	}

	return export.Entry{
		Kind:      storage.LedgerPayment,
		ID:        p.ID,
		Date:      p.Date,
		Household: household.Name,
		Title:     title,
		Amount:    p.Amount,
		From:      payer.Name,
		To:        payee.Name,
	}, nil
}

func (w *LedgerWorker) exportEntry(ctx context.Context, entry export.Entry) error {
	ref, err := w.ledger.AppendEntry(ctx, entry)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, entry.Kind, entry.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error",
				"kind", entry.Kind, "id", entry.ID, "error", markErr)
		}
		return fmt.Errorf("append to ledger: %w", err)
	}

	if err := w.storage.MarkSynced(ctx, entry.Kind, entry.ID); err != nil {
		// Export actually worked; only the status write failed.
		slog.ErrorContext(ctx, "Failed to mark as synced",
			"kind", entry.Kind, "id", entry.ID, "error", err)
	}

	slog.InfoContext(ctx, "Exported record to ledger",
		"kind", entry.Kind,
		"id", entry.ID,
		"ledger_ref", ref,
		"amount_cents", entry.Amount.Cents)

	return nil
}
