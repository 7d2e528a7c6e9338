package core

// ShareSpec is one member's portion of an expense amount, produced by a
// split or supplied by the caller for a custom split.
type ShareSpec struct {
	UserID string
	Amount Money
}

// EqualShares divides amountCents evenly across memberIDs. The rounding
// remainder (amount − N×floor) goes entirely to the first member in the
// given order, so the share amounts always sum to the expense amount
// exactly. Member order must be the household's stored member order to keep
// the remainder target deterministic across requests.
func EqualShares(amountCents int64, memberIDs []string) ([]ShareSpec, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(memberIDs) == 0 {
		return nil, ErrNoMembers
	}

	n := int64(len(memberIDs))
	base := amountCents / n
	remainder := amountCents - base*n

	shares := make([]ShareSpec, len(memberIDs))
	for i, id := range memberIDs {
		cents := base
		if i == 0 {
			cents += remainder
		}
		shares[i] = ShareSpec{UserID: id, Amount: Money{Cents: cents}}
	}
	return shares, nil
}

// ValidateCustomShares checks a caller-supplied split against the expense
// amount. Money demands an exact match: any difference, in either
// direction, rejects the split.
func ValidateCustomShares(amountCents int64, shares []ShareSpec) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	if len(shares) == 0 {
		return ErrNoMembers
	}
	var sum int64
	for _, s := range shares {
		if s.Amount.Cents <= 0 {
			return ErrInvalidAmount
		}
		sum += s.Amount.Cents
	}
	if sum != amountCents {
		return ErrShareSumMismatch
	}
	return nil
}
