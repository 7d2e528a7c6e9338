package core

import (
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		Date:     NewDate(2025, 1, 1),
		Title:    "Spesa settimanale",
		Amount:   Money{Cents: 4250},
		Category: "Spesa",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Expense{
		{Date: Date{Time: time.Time{}}, Title: "a", Amount: Money{Cents: 1}, Category: "c"}, // zero date
		{Date: NewDate(2025, 1, 1), Title: "", Amount: Money{Cents: 1}, Category: "c"},
		{Date: NewDate(2025, 1, 1), Title: "a", Amount: Money{Cents: 0}, Category: "c"},
		{Date: NewDate(2025, 1, 1), Title: "a", Amount: Money{Cents: 1}, Category: ""},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestPaymentValidate(t *testing.T) {
	base := Payment{
		Date:    NewDate(2025, 3, 10),
		PayerID: "u1",
		PayeeID: "u2",
		Amount:  Money{Cents: 10000},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	t.Run("same payer and payee", func(t *testing.T) {
		p := base
		p.PayeeID = p.PayerID
		if err := p.Validate(); err != ErrSamePayerPayee {
			t.Fatalf("expected ErrSamePayerPayee, got %v", err)
		}
	})

	t.Run("under-allocation accepted", func(t *testing.T) {
		p := base
		p.Allocations = []Allocation{{ShareID: "s1", Amount: Money{Cents: 4000}}}
		if err := p.Validate(); err != nil {
			t.Fatalf("expected ok, got %v", err)
		}
	})

	t.Run("over-allocation rejected", func(t *testing.T) {
		p := base
		p.Allocations = []Allocation{
			{ShareID: "s1", Amount: Money{Cents: 6000}},
			{ShareID: "s2", Amount: Money{Cents: 6000}},
		}
		if err := p.Validate(); err != ErrOverAllocation {
			t.Fatalf("expected ErrOverAllocation, got %v", err)
		}
	})
}

func TestExpensePaymentStatus(t *testing.T) {
	e := Expense{Shares: []ExpenseShare{
		{ID: "s1", IsPaid: true},
		{ID: "s2"},
		{ID: "s3"},
	}}
	if got := e.PaymentStatus(); got != ExpensePartial {
		t.Fatalf("expected partial, got %s", got)
	}
	for i := range e.Shares {
		e.Shares[i].IsPaid = true
	}
	if got := e.PaymentStatus(); got != ExpensePaid {
		t.Fatalf("expected paid, got %s", got)
	}
	for i := range e.Shares {
		e.Shares[i].IsPaid = false
	}
	if got := e.PaymentStatus(); got != ExpenseUnpaid {
		t.Fatalf("expected unpaid, got %s", got)
	}
	if got := (Expense{}).PaymentStatus(); got != ExpenseUnpaid {
		t.Fatalf("expected unpaid for no shares, got %s", got)
	}
}

func TestRecurringExpenseValidate(t *testing.T) {
	good := RecurringExpense{
		StartDate: NewDate(2025, 1, 1),
		Every:     Monthly,
		Title:     "Affitto",
		Amount:    Money{Cents: 95000},
		Category:  "Casa",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bad := good
	bad.Every = "fortnightly"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for invalid repetition")
	}

	bad = good
	bad.EndDate = NewDate(2024, 12, 1) // before start
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for end before start")
	}
}
