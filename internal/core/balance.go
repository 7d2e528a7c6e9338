package core

import "sort"

// ShareDebt is the slice of an ExpenseShare that matters for balances:
// who owes whom how much, and whether it is already settled.
type ShareDebt struct {
	OwerID     string // share owner
	CreditorID string // expense creator
	Amount     Money
	IsPaid     bool
}

// Transfer is the slice of a Payment that matters for balances. Allocated
// is the portion linked to shares; linked portions already flipped their
// shares to paid, so only the unlinked remainder offsets the computed debt.
type Transfer struct {
	PayerID   string
	PayeeID   string
	Amount    Money
	Allocated Money
}

// PairBalance is the net position between the subject user and one other
// member. Positive Net means the other member owes the subject; negative
// means the subject owes them.
type PairBalance struct {
	OtherID string
	Net     Money
}

// NetBalances computes the subject user's position against every other
// member from raw share and payment rows. It is a pure snapshot
// computation: nothing is persisted, and calling it twice on the same rows
// yields the same result.
//
// For each unpaid share owed to someone else, the ower's debt to the
// creditor grows by the share amount. Each payment's unlinked remainder
// shrinks the payer's debt to the payee (and can push it past zero,
// flipping the direction). By construction the pairwise net is
// antisymmetric: net(A,B) == −net(B,A).
func NetBalances(userID string, shares []ShareDebt, transfers []Transfer) []PairBalance {
	// owed[a][b] = cents a owes b
	owed := map[string]map[string]int64{}
	add := func(from, to string, cents int64) {
		if owed[from] == nil {
			owed[from] = map[string]int64{}
		}
		owed[from][to] += cents
	}

	for _, s := range shares {
		if s.IsPaid || s.OwerID == s.CreditorID {
			continue
		}
		add(s.OwerID, s.CreditorID, s.Amount.Cents)
	}
	for _, t := range transfers {
		remainder := t.Amount.Cents - t.Allocated.Cents
		if remainder <= 0 {
			continue
		}
		add(t.PayerID, t.PayeeID, -remainder)
	}

	net := map[string]int64{}
	for other, cents := range owed[userID] {
		net[other] -= cents
	}
	for from, tos := range owed {
		if from == userID {
			continue
		}
		if cents, ok := tos[userID]; ok {
			net[from] += cents
		}
	}

	balances := make([]PairBalance, 0, len(net))
	for other, cents := range net {
		if cents == 0 {
			continue
		}
		balances = append(balances, PairBalance{OtherID: other, Net: Money{Cents: cents}})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].OtherID < balances[j].OtherID })
	return balances
}
