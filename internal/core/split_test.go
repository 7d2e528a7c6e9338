package core

import (
	"fmt"
	"testing"
)

func TestEqualSharesExactSum(t *testing.T) {
	// Amounts chosen to produce awkward remainders at 2-decimal precision.
	amounts := []int64{1, 99, 100, 101, 333, 1000, 4999, 10000, 33333, 1234567}
	for _, amount := range amounts {
		for n := 1; n <= 20; n++ {
			t.Run(fmt.Sprintf("cents=%d/members=%d", amount, n), func(t *testing.T) {
				members := make([]string, n)
				for i := range members {
					members[i] = fmt.Sprintf("u%d", i)
				}
				shares, err := EqualShares(amount, members)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(shares) != n {
					t.Fatalf("expected %d shares, got %d", n, len(shares))
				}
				var sum int64
				for _, s := range shares {
					sum += s.Amount.Cents
				}
				if sum != amount {
					t.Fatalf("shares sum to %d, want %d", sum, amount)
				}
			})
		}
	}
}

func TestEqualSharesRemainderGoesToFirstMember(t *testing.T) {
	// 100 cents across 3 members: 34 + 33 + 33.
	shares, err := EqualShares(100, []string{"anna", "bruno", "carla"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{34, 33, 33}
	for i, s := range shares {
		if s.Amount.Cents != want[i] {
			t.Fatalf("share %d = %d, want %d", i, s.Amount.Cents, want[i])
		}
	}
	if shares[0].UserID != "anna" {
		t.Fatalf("remainder assigned to %s, want first member", shares[0].UserID)
	}
}

func TestEqualSharesErrors(t *testing.T) {
	if _, err := EqualShares(0, []string{"a"}); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := EqualShares(-100, []string{"a"}); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := EqualShares(100, nil); err != ErrNoMembers {
		t.Fatalf("expected ErrNoMembers, got %v", err)
	}
}

func TestValidateCustomShares(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		shares []ShareSpec
		want   error
	}{
		{
			name:   "exact sum",
			amount: 5000,
			shares: []ShareSpec{
				{UserID: "a", Amount: Money{Cents: 3000}},
				{UserID: "b", Amount: Money{Cents: 2000}},
			},
			want: nil,
		},
		{
			name:   "one cent short",
			amount: 5000,
			shares: []ShareSpec{
				{UserID: "a", Amount: Money{Cents: 2999}},
				{UserID: "b", Amount: Money{Cents: 2000}},
			},
			want: ErrShareSumMismatch,
		},
		{
			name:   "one cent over",
			amount: 5000,
			shares: []ShareSpec{
				{UserID: "a", Amount: Money{Cents: 3001}},
				{UserID: "b", Amount: Money{Cents: 2000}},
			},
			want: ErrShareSumMismatch,
		},
		{
			name:   "zero share",
			amount: 5000,
			shares: []ShareSpec{
				{UserID: "a", Amount: Money{Cents: 5000}},
				{UserID: "b", Amount: Money{Cents: 0}},
			},
			want: ErrInvalidAmount,
		},
		{
			name:   "no shares",
			amount: 5000,
			shares: nil,
			want:   ErrNoMembers,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateCustomShares(tc.amount, tc.shares); err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
