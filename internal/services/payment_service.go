package services

import (
	"context"
	"fmt"
	"log/slog"

	"conti/internal/core"
	"conti/internal/storage"
)

// PaymentService orchestrates settlements: recording payments, linking
// them to shares and computing balances.
type PaymentService struct {
	storage   *storage.Repository
	publisher LedgerPublisher
}

func NewPaymentService(storage *storage.Repository, opts ...func(*PaymentService)) *PaymentService {
	s := &PaymentService{storage: storage}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithPaymentLedgerPublisher enables async export of saved payments.
func WithPaymentLedgerPublisher(p LedgerPublisher) func(*PaymentService) {
	return func(s *PaymentService) { s.publisher = p }
}

// CreatePayment records a transfer between two members. Both must belong
// to the household. Any allocation conflict aborts the whole payment.
func (s *PaymentService) CreatePayment(ctx context.Context, p core.Payment) (core.Payment, error) {
	for _, userID := range []string{p.PayerID, p.PayeeID} {
		ok, err := s.storage.IsMember(ctx, p.HouseholdID, userID)
		if err != nil {
			return core.Payment{}, fmt.Errorf("check membership: %w", err)
		}
		if !ok {
			return core.Payment{}, ErrNotAMember
		}
	}

	saved, err := s.storage.CreatePayment(ctx, p)
	if err != nil {
		return core.Payment{}, err
	}

	s.publishLedgerSync(ctx, storage.LedgerPayment, saved.ID)
	return saved, nil
}

// SettleAll records one payment covering everything the payer owes the
// payee right now. The share set is fixed up front; if any of those
// shares gets settled by another request before the payment commits, the
// guarded share update aborts the whole transaction and no share changes.
// The caller retries against the new state.
func (s *PaymentService) SettleAll(ctx context.Context, householdID, payerID, payeeID, method, note string, date core.Date) (core.Payment, error) {
	if payerID == payeeID {
		return core.Payment{}, core.ErrSamePayerPayee
	}
	for _, userID := range []string{payerID, payeeID} {
		ok, err := s.storage.IsMember(ctx, householdID, userID)
		if err != nil {
			return core.Payment{}, fmt.Errorf("check membership: %w", err)
		}
		if !ok {
			return core.Payment{}, ErrNotAMember
		}
	}

	shares, err := s.storage.ListUnpaidShares(ctx, householdID, payerID, payeeID)
	if err != nil {
		return core.Payment{}, fmt.Errorf("list unpaid shares: %w", err)
	}
	if len(shares) == 0 {
		return core.Payment{}, storage.ErrNothingToSettle
	}

	p := core.Payment{
		HouseholdID: householdID,
		PayerID:     payerID,
		PayeeID:     payeeID,
		Method:      method,
		Note:        note,
		Date:        date,
	}
	for _, sh := range shares {
		p.Allocations = append(p.Allocations, core.Allocation{ShareID: sh.ID, Amount: sh.Amount})
		p.Amount.Cents += sh.Amount.Cents
	}

	saved, err := s.storage.CreatePayment(ctx, p)
	if err != nil {
		return core.Payment{}, err
	}

	s.publishLedgerSync(ctx, storage.LedgerPayment, saved.ID)
	return saved, nil
}

// UpdatePayment edits a payment's amount, method, note and date. Linked
// allocations are untouched: editing never flips a share back to unpaid.
func (s *PaymentService) UpdatePayment(ctx context.Context, p core.Payment) (core.Payment, error) {
	saved, err := s.storage.UpdatePayment(ctx, p)
	if err != nil {
		return core.Payment{}, err
	}

	s.publishLedgerSync(ctx, storage.LedgerPayment, saved.ID)
	return saved, nil
}

func (s *PaymentService) ArchivePayment(ctx context.Context, id string) error {
	return s.storage.ArchivePayment(ctx, id)
}

// Balances computes the user's net position against every other household
// member from the current share and payment rows.
func (s *PaymentService) Balances(ctx context.Context, householdID, userID string) ([]core.PairBalance, error) {
	debts, err := s.storage.ListShareDebts(ctx, householdID)
	if err != nil {
		return nil, fmt.Errorf("list share debts: %w", err)
	}
	transfers, err := s.storage.ListTransfers(ctx, householdID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return core.NetBalances(userID, debts, transfers), nil
}

func (s *PaymentService) publishLedgerSync(ctx context.Context, kind, id string) {
	if s.publisher == nil {
		return
	}
	// Record is saved either way; the recovery scan picks up lost messages.
	if err := s.publisher.PublishLedgerSync(ctx, kind, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger sync message",
			"kind", kind, "id", id, "error", err)
	}
}
