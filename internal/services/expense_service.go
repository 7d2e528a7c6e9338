package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"conti/internal/core"
	"conti/internal/storage"
)

// LedgerPublisher publishes ledger export messages. Satisfied by
// *amqp.Client; nil disables publishing.
type LedgerPublisher interface {
	PublishLedgerSync(ctx context.Context, kind, id string) error
}

// ErrNotAMember is returned when an expense involves someone outside the
// household.
var ErrNotAMember = errors.New("user is not a household member")

// ExpenseService orchestrates expense operations: splitting, persistence
// and the async ledger export.
type ExpenseService struct {
	storage   *storage.Repository
	publisher LedgerPublisher
}

func NewExpenseService(storage *storage.Repository, opts ...func(*ExpenseService)) *ExpenseService {
	s := &ExpenseService{storage: storage}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithLedgerPublisher enables async export of saved expenses.
func WithLedgerPublisher(p LedgerPublisher) func(*ExpenseService) {
	return func(s *ExpenseService) { s.publisher = p }
}

// CreateExpense saves an expense split across the household. A nil
// customShares splits equally across all members in stored member order;
// otherwise the given split is used as-is. Every participant must be a
// member, and the creator must be too.
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.Expense, customShares []core.ShareSpec) (core.Expense, error) {
	members, err := s.storage.ListMembers(ctx, e.HouseholdID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("list members: %w", err)
	}

	shares, err := resolveShares(e, members, customShares)
	if err != nil {
		return core.Expense{}, err
	}

	saved, err := s.storage.CreateExpenseWithShares(ctx, e, shares)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	s.publishLedgerSync(ctx, storage.LedgerExpense, saved.ID)
	return saved, nil
}

// UpdateExpense replaces an expense's fields and split, under the same
// membership rules as creation. Fails once any non-creator share is paid.
func (s *ExpenseService) UpdateExpense(ctx context.Context, e core.Expense, customShares []core.ShareSpec) (core.Expense, error) {
	members, err := s.storage.ListMembers(ctx, e.HouseholdID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("list members: %w", err)
	}

	shares, err := resolveShares(e, members, customShares)
	if err != nil {
		return core.Expense{}, err
	}

	saved, err := s.storage.UpdateExpenseWithShares(ctx, e, shares)
	if err != nil {
		return core.Expense{}, err
	}

	s.publishLedgerSync(ctx, storage.LedgerExpense, saved.ID)
	return saved, nil
}

func (s *ExpenseService) ArchiveExpense(ctx context.Context, id string) error {
	return s.storage.ArchiveExpense(ctx, id)
}

func resolveShares(e core.Expense, members []core.Member, customShares []core.ShareSpec) ([]core.ShareSpec, error) {
	memberIDs := make([]string, len(members))
	isMember := make(map[string]bool, len(members))
	for i, m := range members {
		memberIDs[i] = m.UserID
		isMember[m.UserID] = true
	}
	if !isMember[e.CreatorID] {
		return nil, ErrNotAMember
	}

	if customShares == nil {
		return core.EqualShares(e.Amount.Cents, memberIDs)
	}

	for _, spec := range customShares {
		if !isMember[spec.UserID] {
			return nil, ErrNotAMember
		}
	}
	if err := core.ValidateCustomShares(e.Amount.Cents, customShares); err != nil {
		return nil, err
	}
	return customShares, nil
}

func (s *ExpenseService) publishLedgerSync(ctx context.Context, kind, id string) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "Ledger publisher not available, skipping sync message")
		return
	}
	// Record is saved either way; the recovery scan picks up lost messages.
	if err := s.publisher.PublishLedgerSync(ctx, kind, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger sync message",
			"kind", kind, "id", id, "error", err)
	}
}

// Close closes the underlying storage.
func (s *ExpenseService) Close() error {
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			return fmt.Errorf("close expense service: %w", err)
		}
	}
	return nil
}
