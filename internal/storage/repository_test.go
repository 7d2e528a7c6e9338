package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"conti/internal/core"
)

type fixture struct {
	repo      *Repository
	household core.Household
	anna      core.User
	bruno     core.User
	carla     core.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "conti.db"))
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	anna, err := repo.CreateUser(ctx, "Anna", "anna@example.com", "hash-a")
	if err != nil {
		t.Fatalf("CreateUser(anna) error = %v", err)
	}
	bruno, err := repo.CreateUser(ctx, "Bruno", "bruno@example.com", "hash-b")
	if err != nil {
		t.Fatalf("CreateUser(bruno) error = %v", err)
	}
	carla, err := repo.CreateUser(ctx, "Carla", "carla@example.com", "hash-c")
	if err != nil {
		t.Fatalf("CreateUser(carla) error = %v", err)
	}

	h, err := repo.CreateHousehold(ctx, "Casa Test", anna.ID)
	if err != nil {
		t.Fatalf("CreateHousehold() error = %v", err)
	}
	if _, err := repo.JoinHousehold(ctx, h.InviteCode, bruno.ID); err != nil {
		t.Fatalf("JoinHousehold(bruno) error = %v", err)
	}
	if _, err := repo.JoinHousehold(ctx, h.InviteCode, carla.ID); err != nil {
		t.Fatalf("JoinHousehold(carla) error = %v", err)
	}

	return &fixture{repo: repo, household: h, anna: anna, bruno: bruno, carla: carla}
}

func (f *fixture) createExpense(t *testing.T, creator core.User, title string, cents int64, date core.Date) core.Expense {
	t.Helper()
	ctx := context.Background()
	members, err := f.repo.ListMembers(ctx, f.household.ID)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	shares, err := core.EqualShares(cents, ids)
	if err != nil {
		t.Fatalf("EqualShares() error = %v", err)
	}
	e, err := f.repo.CreateExpenseWithShares(ctx, core.Expense{
		HouseholdID: f.household.ID,
		CreatorID:   creator.ID,
		Title:       title,
		Amount:      core.Money{Cents: cents},
		Currency:    "EUR",
		Category:    "Spesa",
		Date:        date,
	}, shares)
	if err != nil {
		t.Fatalf("CreateExpenseWithShares() error = %v", err)
	}
	return e
}

func (f *fixture) shareOf(t *testing.T, e core.Expense, userID string) core.ExpenseShare {
	t.Helper()
	for _, s := range e.Shares {
		if s.UserID == userID {
			return s
		}
	}
	t.Fatalf("no share for user %s on expense %s", userID, e.ID)
	return core.ExpenseShare{}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.CreateUser(context.Background(), "Anna Bis", "Anna@Example.com", "hash")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("CreateUser() error = %v, want ErrDuplicateEmail", err)
	}
}

func TestHouseholdMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	members, err := f.repo.ListMembers(ctx, f.household.ID)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("got %d members, want 3", len(members))
	}
	if members[0].UserID != f.anna.ID || members[0].Role != core.RoleAdmin || members[0].Position != 0 {
		t.Errorf("creator not enrolled as admin at position 0: %+v", members[0])
	}
	if members[1].Position != 1 || members[2].Position != 2 {
		t.Errorf("join order not preserved in positions: %d, %d", members[1].Position, members[2].Position)
	}

	if _, err := f.repo.JoinHousehold(ctx, f.household.InviteCode, f.bruno.ID); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("second join error = %v, want ErrAlreadyMember", err)
	}
	if _, err := f.repo.JoinHousehold(ctx, "NOPE1234", f.carla.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("bad invite code error = %v, want ErrNotFound", err)
	}
}

func TestCreateExpensePresettlesCreatorShare(t *testing.T) {
	f := newFixture(t)
	e := f.createExpense(t, f.anna, "Spesa settimanale", 3000, core.NewDate(2026, 3, 10))

	if len(e.Shares) != 3 {
		t.Fatalf("got %d shares, want 3", len(e.Shares))
	}
	for _, s := range e.Shares {
		wantPaid := s.UserID == f.anna.ID
		if s.IsPaid != wantPaid {
			t.Errorf("share of %s: IsPaid = %v, want %v", s.UserID, s.IsPaid, wantPaid)
		}
	}
	if got := e.PaymentStatus(); got != core.ExpensePartial {
		t.Errorf("PaymentStatus() = %v, want partial", got)
	}
}

func TestCreateExpenseRejectsBadSplit(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.CreateExpenseWithShares(context.Background(), core.Expense{
		HouseholdID: f.household.ID,
		CreatorID:   f.anna.ID,
		Title:       "Bolletta",
		Amount:      core.Money{Cents: 1000},
		Currency:    "EUR",
		Category:    "Casa",
		Date:        core.NewDate(2026, 3, 1),
	}, []core.ShareSpec{
		{UserID: f.anna.ID, Amount: core.Money{Cents: 600}},
		{UserID: f.bruno.ID, Amount: core.Money{Cents: 300}},
	})
	if !errors.Is(err, core.ErrShareSumMismatch) {
		t.Fatalf("error = %v, want ErrShareSumMismatch", err)
	}
}

func TestUpdateExpenseRejectedAfterSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExpense(t, f.anna, "Cena", 3000, core.NewDate(2026, 3, 12))
	brunoShare := f.shareOf(t, e, f.bruno.ID)

	_, err := f.repo.CreatePayment(ctx, core.Payment{
		HouseholdID: f.household.ID,
		PayerID:     f.bruno.ID,
		PayeeID:     f.anna.ID,
		Amount:      brunoShare.Amount,
		Date:        core.NewDate(2026, 3, 13),
		Allocations: []core.Allocation{{ShareID: brunoShare.ID, Amount: brunoShare.Amount}},
	})
	if err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	e.Amount = core.Money{Cents: 4500}
	shares, _ := core.EqualShares(4500, []string{f.anna.ID, f.bruno.ID, f.carla.ID})
	_, err = f.repo.UpdateExpenseWithShares(ctx, e, shares)
	if !errors.Is(err, ErrSharesSettled) {
		t.Fatalf("UpdateExpenseWithShares() error = %v, want ErrSharesSettled", err)
	}
}

func TestCreatePaymentAllocationRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExpense(t, f.anna, "Affitto", 9000, core.NewDate(2026, 3, 1))
	brunoShare := f.shareOf(t, e, f.bruno.ID)
	carlaShare := f.shareOf(t, e, f.carla.ID)

	pay := func(payer, payee core.User, amount int64, allocs []core.Allocation) error {
		_, err := f.repo.CreatePayment(ctx, core.Payment{
			HouseholdID: f.household.ID,
			PayerID:     payer.ID,
			PayeeID:     payee.ID,
			Amount:      core.Money{Cents: amount},
			Date:        core.NewDate(2026, 3, 2),
			Allocations: allocs,
		})
		return err
	}

	// Allocation below the share amount is a conflict, not a partial credit.
	err := pay(f.bruno, f.anna, 1000, []core.Allocation{{ShareID: brunoShare.ID, Amount: core.Money{Cents: 1000}}})
	if !errors.Is(err, ErrPartialAllocation) {
		t.Fatalf("partial allocation error = %v, want ErrPartialAllocation", err)
	}

	// A share not owed payer to payee cannot be linked.
	err = pay(f.bruno, f.anna, 3000, []core.Allocation{{ShareID: carlaShare.ID, Amount: carlaShare.Amount}})
	if !errors.Is(err, ErrShareNotOwed) {
		t.Fatalf("foreign share error = %v, want ErrShareNotOwed", err)
	}

	// Allocations beyond the payment amount never pass validation.
	err = pay(f.bruno, f.anna, 1000, []core.Allocation{{ShareID: brunoShare.ID, Amount: brunoShare.Amount}})
	if !errors.Is(err, core.ErrOverAllocation) {
		t.Fatalf("over-allocation error = %v, want ErrOverAllocation", err)
	}

	// Failed attempts must leave no payment rows behind.
	payments, err := f.repo.ListPayments(ctx, f.household.ID, 2026, 3)
	if err != nil {
		t.Fatalf("ListPayments() error = %v", err)
	}
	if len(payments) != 0 {
		t.Fatalf("got %d payments after failed attempts, want 0", len(payments))
	}

	// Exact allocation settles the share.
	err = pay(f.bruno, f.anna, 3000, []core.Allocation{{ShareID: brunoShare.ID, Amount: brunoShare.Amount}})
	if err != nil {
		t.Fatalf("exact allocation error = %v", err)
	}
	got, err := f.repo.GetExpense(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExpense() error = %v", err)
	}
	if s := f.shareOf(t, got, f.bruno.ID); !s.IsPaid {
		t.Error("share not marked paid after exact allocation")
	}

	// Settling the same share again is a conflict.
	err = pay(f.bruno, f.anna, 3000, []core.Allocation{{ShareID: brunoShare.ID, Amount: brunoShare.Amount}})
	if !errors.Is(err, ErrShareAlreadyPaid) {
		t.Fatalf("double settlement error = %v, want ErrShareAlreadyPaid", err)
	}
}

func TestListUnpaidShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createExpense(t, f.anna, "Spesa", 3000, core.NewDate(2026, 3, 3))
	f.createExpense(t, f.anna, "Bollette", 6000, core.NewDate(2026, 3, 5))

	shares, err := f.repo.ListUnpaidShares(ctx, f.household.ID, f.bruno.ID, f.anna.ID)
	if err != nil {
		t.Fatalf("ListUnpaidShares() error = %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("bruno owes %d shares, want 2", len(shares))
	}
	var total int64
	for _, s := range shares {
		total += s.Amount.Cents
	}
	if total != 3000 {
		t.Errorf("owed total = %d, want 3000 (1000 + 2000)", total)
	}

	// Wrong direction: anna owes bruno nothing.
	shares, err = f.repo.ListUnpaidShares(ctx, f.household.ID, f.anna.ID, f.bruno.ID)
	if err != nil {
		t.Fatalf("ListUnpaidShares() error = %v", err)
	}
	if len(shares) != 0 {
		t.Errorf("anna owes bruno %d shares, want 0", len(shares))
	}
}

func TestUpdatePaymentKeepsAllocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExpense(t, f.anna, "Cena", 3000, core.NewDate(2026, 3, 12))
	brunoShare := f.shareOf(t, e, f.bruno.ID)

	p, err := f.repo.CreatePayment(ctx, core.Payment{
		HouseholdID: f.household.ID,
		PayerID:     f.bruno.ID,
		PayeeID:     f.anna.ID,
		Amount:      core.Money{Cents: 1500},
		Method:      "contanti",
		Date:        core.NewDate(2026, 3, 13),
		Allocations: []core.Allocation{{ShareID: brunoShare.ID, Amount: brunoShare.Amount}},
	})
	if err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	// An edit below what is already allocated must not pass.
	p.Amount = core.Money{Cents: 500}
	if _, err := f.repo.UpdatePayment(ctx, p); !errors.Is(err, core.ErrOverAllocation) {
		t.Fatalf("shrinking below allocated error = %v, want ErrOverAllocation", err)
	}

	p.Amount = core.Money{Cents: 2000}
	p.Method = "bonifico"
	p.Note = "con arrotondamento"
	p.Date = core.NewDate(2026, 3, 14)
	updated, err := f.repo.UpdatePayment(ctx, p)
	if err != nil {
		t.Fatalf("UpdatePayment() error = %v", err)
	}
	if updated.Amount.Cents != 2000 || updated.Method != "bonifico" {
		t.Errorf("updated payment = %+v, want amount 2000 via bonifico", updated)
	}
	if len(updated.Allocations) != 1 || updated.Allocations[0].ShareID != brunoShare.ID {
		t.Errorf("allocations changed by the edit: %+v", updated.Allocations)
	}

	// The settled share stays settled.
	got, err := f.repo.GetExpense(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExpense() error = %v", err)
	}
	if s := f.shareOf(t, got, f.bruno.ID); !s.IsPaid {
		t.Error("share no longer paid after payment edit")
	}

	if _, err := f.repo.UpdatePayment(ctx, core.Payment{ID: "missing", Amount: core.Money{Cents: 100}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown payment error = %v, want ErrNotFound", err)
	}
}

func TestBalancesFromStoredRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createExpense(t, f.anna, "Spesa", 3000, core.NewDate(2026, 3, 3))

	// Bruno sends Anna an unlinked 500.
	if _, err := f.repo.CreatePayment(ctx, core.Payment{
		HouseholdID: f.household.ID,
		PayerID:     f.bruno.ID,
		PayeeID:     f.anna.ID,
		Amount:      core.Money{Cents: 500},
		Date:        core.NewDate(2026, 3, 4),
	}); err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	debts, err := f.repo.ListShareDebts(ctx, f.household.ID)
	if err != nil {
		t.Fatalf("ListShareDebts() error = %v", err)
	}
	transfers, err := f.repo.ListTransfers(ctx, f.household.ID)
	if err != nil {
		t.Fatalf("ListTransfers() error = %v", err)
	}

	balances := core.NetBalances(f.anna.ID, debts, transfers)
	want := map[string]int64{f.bruno.ID: 500, f.carla.ID: 1000}
	if len(balances) != len(want) {
		t.Fatalf("got %d pair balances, want %d: %+v", len(balances), len(want), balances)
	}
	for _, b := range balances {
		if b.Net.Cents != want[b.OtherID] {
			t.Errorf("net vs %s = %d, want %d", b.OtherID, b.Net.Cents, want[b.OtherID])
		}
	}
}

func TestListExpensesFiltersByMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createExpense(t, f.anna, "Marzo", 3000, core.NewDate(2026, 3, 10))
	f.createExpense(t, f.bruno, "Aprile", 4500, core.NewDate(2026, 4, 2))

	expenses, err := f.repo.ListExpenses(ctx, f.household.ID, 2026, 3)
	if err != nil {
		t.Fatalf("ListExpenses() error = %v", err)
	}
	if len(expenses) != 1 || expenses[0].Title != "Marzo" {
		t.Fatalf("got %+v, want only the March expense", expenses)
	}
	if len(expenses[0].Shares) != 3 {
		t.Errorf("expense loaded with %d shares, want 3", len(expenses[0].Shares))
	}
}

func TestMonthOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createExpense(t, f.anna, "Spesa uno", 3000, core.NewDate(2026, 3, 3))
	f.createExpense(t, f.bruno, "Spesa due", 4500, core.NewDate(2026, 3, 8))

	overview, err := f.repo.MonthOverview(ctx, f.household.ID, 2026, 3)
	if err != nil {
		t.Fatalf("MonthOverview() error = %v", err)
	}
	if overview.Total.Cents != 7500 {
		t.Errorf("Total = %d, want 7500", overview.Total.Cents)
	}
	if len(overview.ByCategory) != 1 || overview.ByCategory[0].Amount.Cents != 7500 {
		t.Errorf("ByCategory = %+v, want one Spesa bucket of 7500", overview.ByCategory)
	}
}

func TestArchiveExpenseRemovesFromBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExpense(t, f.anna, "Sbagliata", 3000, core.NewDate(2026, 3, 3))

	if err := f.repo.ArchiveExpense(ctx, e.ID); err != nil {
		t.Fatalf("ArchiveExpense() error = %v", err)
	}
	debts, err := f.repo.ListShareDebts(ctx, f.household.ID)
	if err != nil {
		t.Fatalf("ListShareDebts() error = %v", err)
	}
	if len(debts) != 0 {
		t.Errorf("archived expense still contributes %d debt rows", len(debts))
	}
	if err := f.repo.ArchiveExpense(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second archive error = %v, want ErrNotFound", err)
	}
}

func TestLedgerSyncLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createExpense(t, f.anna, "Spesa", 3000, core.NewDate(2026, 3, 3))
	p, err := f.repo.CreatePayment(ctx, core.Payment{
		HouseholdID: f.household.ID,
		PayerID:     f.bruno.ID,
		PayeeID:     f.anna.ID,
		Amount:      core.Money{Cents: 500},
		Date:        core.NewDate(2026, 3, 4),
	})
	if err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	entries, err := f.repo.PendingLedgerEntries(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("PendingLedgerEntries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d pending entries, want 2", len(entries))
	}

	if err := f.repo.MarkSynced(ctx, LedgerExpense, e.ID); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	if err := f.repo.MarkSyncError(ctx, LedgerPayment, p.ID); err != nil {
		t.Fatalf("MarkSyncError() error = %v", err)
	}

	entries, err = f.repo.PendingLedgerEntries(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("PendingLedgerEntries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d pending entries after marking, want 0", len(entries))
	}
}

func TestRecurringExpenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	re, err := f.repo.CreateRecurringExpense(ctx, core.RecurringExpense{
		HouseholdID: f.household.ID,
		CreatorID:   f.anna.ID,
		Title:       "Affitto",
		Amount:      core.Money{Cents: 90000},
		Category:    "Casa",
		Every:       core.Monthly,
		StartDate:   core.NewDate(2026, 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateRecurringExpense() error = %v", err)
	}

	active, err := f.repo.ListActiveRecurringExpenses(ctx, core.NewDate(2026, 3, 1).Time)
	if err != nil {
		t.Fatalf("ListActiveRecurringExpenses() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active templates, want 1", len(active))
	}

	if err := f.repo.MarkRecurringRun(ctx, re.ID, core.NewDate(2026, 3, 1).Time); err != nil {
		t.Fatalf("MarkRecurringRun() error = %v", err)
	}
	got, err := f.repo.GetRecurringExpense(ctx, re.ID)
	if err != nil {
		t.Fatalf("GetRecurringExpense() error = %v", err)
	}
	if got.LastRun.IsZero() {
		t.Error("LastRun still zero after MarkRecurringRun")
	}
}
