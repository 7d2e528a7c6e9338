package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"conti/internal/core"
	"conti/internal/storage"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakePublisher) PublishLedgerSync(_ context.Context, kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, kind+":"+id)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type env struct {
	repo      *storage.Repository
	publisher *fakePublisher
	expenses  *ExpenseService
	payments  *PaymentService
	household core.Household
	anna      core.User
	bruno     core.User
	carla     core.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "conti.db"))
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	anna, _ := repo.CreateUser(ctx, "Anna", "anna@example.com", "hash")
	bruno, _ := repo.CreateUser(ctx, "Bruno", "bruno@example.com", "hash")
	carla, _ := repo.CreateUser(ctx, "Carla", "carla@example.com", "hash")

	h, err := repo.CreateHousehold(ctx, "Casa Test", anna.ID)
	if err != nil {
		t.Fatalf("CreateHousehold() error = %v", err)
	}
	if _, err := repo.JoinHousehold(ctx, h.InviteCode, bruno.ID); err != nil {
		t.Fatalf("JoinHousehold() error = %v", err)
	}
	if _, err := repo.JoinHousehold(ctx, h.InviteCode, carla.ID); err != nil {
		t.Fatalf("JoinHousehold() error = %v", err)
	}

	pub := &fakePublisher{}
	return &env{
		repo:      repo,
		publisher: pub,
		expenses:  NewExpenseService(repo, WithLedgerPublisher(pub)),
		payments:  NewPaymentService(repo, WithPaymentLedgerPublisher(pub)),
		household: h,
		anna:      anna,
		bruno:     bruno,
		carla:     carla,
	}
}

func (e *env) expense(creatorID, title string, cents int64) core.Expense {
	return core.Expense{
		HouseholdID: e.household.ID,
		CreatorID:   creatorID,
		Title:       title,
		Amount:      core.Money{Cents: cents},
		Currency:    "EUR",
		Category:    "Spesa",
		Date:        core.NewDate(2026, 3, 10),
	}
}

func TestCreateExpenseEqualSplit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// 100.00 across three members: 33.34 + 33.33 + 33.33. The remainder
	// lands on the first member in join order.
	saved, err := e.expenses.CreateExpense(ctx, e.expense(e.bruno.ID, "Spesa grossa", 10000), nil)
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if len(saved.Shares) != 3 {
		t.Fatalf("got %d shares, want 3", len(saved.Shares))
	}

	var total int64
	byUser := map[string]core.ExpenseShare{}
	for _, s := range saved.Shares {
		total += s.Amount.Cents
		byUser[s.UserID] = s
	}
	if total != 10000 {
		t.Errorf("shares sum to %d, want 10000", total)
	}
	if got := byUser[e.anna.ID].Amount.Cents; got != 3334 {
		t.Errorf("first member share = %d, want 3334", got)
	}
	if !byUser[e.bruno.ID].IsPaid {
		t.Error("creator's own share should be settled at creation")
	}
	if byUser[e.anna.ID].IsPaid || byUser[e.carla.ID].IsPaid {
		t.Error("non-creator shares should start unpaid")
	}
}

func TestCreateExpenseCustomSplit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	saved, err := e.expenses.CreateExpense(ctx, e.expense(e.anna.ID, "Cena", 5000), []core.ShareSpec{
		{UserID: e.anna.ID, Amount: core.Money{Cents: 3000}},
		{UserID: e.bruno.ID, Amount: core.Money{Cents: 2000}},
	})
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if len(saved.Shares) != 2 {
		t.Fatalf("got %d shares, want 2", len(saved.Shares))
	}

	_, err = e.expenses.CreateExpense(ctx, e.expense(e.anna.ID, "Sbagliata", 5000), []core.ShareSpec{
		{UserID: e.anna.ID, Amount: core.Money{Cents: 3000}},
		{UserID: e.bruno.ID, Amount: core.Money{Cents: 1000}},
	})
	if !errors.Is(err, core.ErrShareSumMismatch) {
		t.Fatalf("bad split error = %v, want ErrShareSumMismatch", err)
	}
}

func TestCreateExpenseRejectsOutsiders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	outsider, _ := e.repo.CreateUser(ctx, "Dora", "dora@example.com", "hash")

	_, err := e.expenses.CreateExpense(ctx, e.expense(outsider.ID, "Intrusa", 1000), nil)
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("outsider creator error = %v, want ErrNotAMember", err)
	}

	_, err = e.expenses.CreateExpense(ctx, e.expense(e.anna.ID, "Con intrusa", 1000), []core.ShareSpec{
		{UserID: outsider.ID, Amount: core.Money{Cents: 1000}},
	})
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("outsider participant error = %v, want ErrNotAMember", err)
	}
}

func TestCreateExpensePublishesLedgerSync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.expenses.CreateExpense(ctx, e.expense(e.anna.ID, "Spesa", 3000), nil); err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if e.publisher.count() != 1 {
		t.Errorf("got %d published messages, want 1", e.publisher.count())
	}

	// Publish failures must not fail the write.
	e.publisher.err = errors.New("broker down")
	if _, err := e.expenses.CreateExpense(ctx, e.expense(e.anna.ID, "Altra", 3000), nil); err != nil {
		t.Fatalf("CreateExpense() with broken publisher error = %v", err)
	}
}

func TestSettleAllThenBalanced(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.expenses.CreateExpense(ctx, e.expense(e.anna.ID, "Spesa", 3000), nil); err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if _, err := e.expenses.CreateExpense(ctx, e.expense(e.anna.ID, "Bollette", 6000), nil); err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}

	p, err := e.payments.SettleAll(ctx, e.household.ID, e.bruno.ID, e.anna.ID, "bonifico", "", core.NewDate(2026, 3, 20))
	if err != nil {
		t.Fatalf("SettleAll() error = %v", err)
	}
	if p.Amount.Cents != 3000 {
		t.Errorf("settled amount = %d, want 3000", p.Amount.Cents)
	}

	balances, err := e.payments.Balances(ctx, e.household.ID, e.bruno.ID)
	if err != nil {
		t.Fatalf("Balances() error = %v", err)
	}
	for _, b := range balances {
		if b.OtherID == e.anna.ID {
			t.Errorf("bruno still has a balance vs anna: %d", b.Net.Cents)
		}
	}
}

func TestBalancesAntisymmetric(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.expenses.CreateExpense(ctx, e.expense(e.anna.ID, "Spesa", 10000), nil); err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if _, err := e.payments.CreatePayment(ctx, core.Payment{
		HouseholdID: e.household.ID,
		PayerID:     e.bruno.ID,
		PayeeID:     e.anna.ID,
		Amount:      core.Money{Cents: 1200},
		Date:        core.NewDate(2026, 3, 11),
	}); err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	users := []string{e.anna.ID, e.bruno.ID, e.carla.ID}
	nets := map[string]map[string]int64{}
	for _, u := range users {
		balances, err := e.payments.Balances(ctx, e.household.ID, u)
		if err != nil {
			t.Fatalf("Balances(%s) error = %v", u, err)
		}
		nets[u] = map[string]int64{}
		for _, b := range balances {
			nets[u][b.OtherID] = b.Net.Cents
		}
	}

	for _, a := range users {
		for _, b := range users {
			if a == b {
				continue
			}
			if nets[a][b] != -nets[b][a] {
				t.Errorf("net(%s,%s) = %d, net(%s,%s) = %d: not antisymmetric",
					a, b, nets[a][b], b, a, nets[b][a])
			}
		}
	}
}

func TestPaymentRejectsOutsiders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	outsider, _ := e.repo.CreateUser(ctx, "Dora", "dora@example.com", "hash")

	_, err := e.payments.CreatePayment(ctx, core.Payment{
		HouseholdID: e.household.ID,
		PayerID:     outsider.ID,
		PayeeID:     e.anna.ID,
		Amount:      core.Money{Cents: 1000},
		Date:        core.NewDate(2026, 3, 11),
	})
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("outsider payer error = %v, want ErrNotAMember", err)
	}
}

func TestRecurringProcessorCreatesSplitExpenses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.repo.CreateRecurringExpense(ctx, core.RecurringExpense{
		HouseholdID: e.household.ID,
		CreatorID:   e.anna.ID,
		Title:       "Affitto",
		Amount:      core.Money{Cents: 90000},
		Category:    "Casa",
		Every:       core.Monthly,
		StartDate:   core.NewDate(2026, 1, 1),
	}); err != nil {
		t.Fatalf("CreateRecurringExpense() error = %v", err)
	}

	processor := NewRecurringProcessor(e.repo, e.expenses)
	now := core.NewDate(2026, 3, 1).Time

	processed, err := processor.ProcessDueExpenses(ctx, now)
	if err != nil {
		t.Fatalf("ProcessDueExpenses() error = %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	expenses, err := e.repo.ListExpenses(ctx, e.household.ID, 2026, 3)
	if err != nil {
		t.Fatalf("ListExpenses() error = %v", err)
	}
	if len(expenses) != 1 || len(expenses[0].Shares) != 3 {
		t.Fatalf("expected one expense split three ways, got %+v", expenses)
	}

	// Same month, second run: nothing to do.
	processed, err = processor.ProcessDueExpenses(ctx, now.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("second ProcessDueExpenses() error = %v", err)
	}
	if processed != 0 {
		t.Errorf("second run processed = %d, want 0", processed)
	}
}

func TestRecoveryScannerRequeuesStuckRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Break the publisher so the write-path message is lost.
	e.publisher.err = errors.New("broker down")
	if _, err := e.expenses.CreateExpense(ctx, e.expense(e.anna.ID, "Spesa", 3000), nil); err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	e.publisher.err = nil

	cfg := DefaultRecoveryScannerConfig()
	cfg.MinAge = -time.Minute // treat fresh records as stuck
	scanner := NewRecoveryScanner(e.repo, e.publisher, cfg)

	if published := scanner.Scan(ctx); published != 1 {
		t.Fatalf("Scan() published = %d, want 1", published)
	}

	// Once exported, the record stops appearing.
	entries, err := e.repo.PendingLedgerEntries(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("PendingLedgerEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("still-pending entries = %d, want 1 (not yet marked synced)", len(entries))
	}
	if err := e.repo.MarkSynced(ctx, entries[0].Kind, entries[0].ID); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	if published := scanner.Scan(ctx); published != 0 {
		t.Errorf("Scan() after sync published = %d, want 0", published)
	}
}
