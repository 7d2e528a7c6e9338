package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Monthly RepetitionTypes = "monthly"
	Yearly  RepetitionTypes = "yearly"
	Weekly  RepetitionTypes = "weekly"
	Daily   RepetitionTypes = "daily"
)

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

const (
	StatusActive   RecordStatus = "active"
	StatusArchived RecordStatus = "archived"
)

// Derived payment state of an expense, computed from its shares.
const (
	ExpenseUnpaid  ExpensePaymentStatus = "unpaid"
	ExpensePartial ExpensePaymentStatus = "partial"
	ExpensePaid    ExpensePaymentStatus = "paid"
)

type (
	RepetitionTypes      string
	MemberRole           string
	RecordStatus         string
	ExpensePaymentStatus string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Household struct {
		ID         string
		Name       string
		InviteCode string
		CreatedBy  string
		CreatedAt  time.Time
	}

	// Member is a user's membership in a household. Position preserves the
	// join order, which fixes the deterministic target of split remainders.
	Member struct {
		HouseholdID string
		UserID      string
		Name        string
		Role        MemberRole
		Position    int
		JoinedAt    time.Time
	}

	Expense struct {
		ID          string
		HouseholdID string
		CreatorID   string // the member who fronted the money
		Title       string
		Amount      Money
		Currency    string
		Category    string
		Date        Date
		Notes       string
		Status      RecordStatus
		Shares      []ExpenseShare
	}

	// ExpenseShare is one member's portion of an expense. Paid is one-way:
	// it flips via a fully allocated payment (or creator pre-settlement)
	// and is never reversed automatically.
	ExpenseShare struct {
		ID        string
		ExpenseID string
		UserID    string
		Amount    Money
		IsPaid    bool
		PaidAt    time.Time
	}

	Payment struct {
		ID          string
		HouseholdID string
		PayerID     string
		PayeeID     string
		Amount      Money
		Method      string
		Note        string
		Date        Date
		Status      RecordStatus
		Allocations []Allocation
	}

	// Allocation ties part of a payment to a specific share.
	Allocation struct {
		ShareID string
		Amount  Money
	}

	RecurringExpense struct {
		ID          string
		HouseholdID string
		CreatorID   string
		Title       string
		Amount      Money
		Category    string
		Every       RepetitionTypes
		StartDate   Date
		EndDate     Date
		LastRun     time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyTitle       = errors.New("empty title")
	ErrEmptyCategory    = errors.New("empty category")
	ErrEmptyName        = errors.New("empty name")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrSamePayerPayee   = errors.New("payer and payee must differ")
	ErrNoMembers        = errors.New("household has no members")
	ErrShareSumMismatch = errors.New("share amounts do not sum to expense amount")
	ErrOverAllocation   = errors.New("allocated amounts exceed payment amount")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// IsEmpty returns true if the date is zero (optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (h Household) Validate() error {
	if len(strings.TrimSpace(h.Name)) == 0 {
		return ErrEmptyName
	}
	if len(h.Name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	return nil
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(e.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(e.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// Validate checks payment fields and its allocations. Allocations may
// under-allocate (the remainder stays unlinked) but never over-allocate.
func (p Payment) Validate() error {
	if err := p.Date.Validate(); err != nil {
		return err
	}
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	if p.PayerID == p.PayeeID {
		return ErrSamePayerPayee
	}
	var allocated int64
	for _, a := range p.Allocations {
		if err := a.Amount.Validate(); err != nil {
			return err
		}
		allocated += a.Amount.Cents
	}
	if allocated > p.Amount.Cents {
		return ErrOverAllocation
	}
	return nil
}

// AllocatedCents returns the total amount linked to specific shares.
func (p Payment) AllocatedCents() int64 {
	var sum int64
	for _, a := range p.Allocations {
		sum += a.Amount.Cents
	}
	return sum
}

// PaymentStatus derives the paid/partial/unpaid state from the shares.
func (e Expense) PaymentStatus() ExpensePaymentStatus {
	if len(e.Shares) == 0 {
		return ExpenseUnpaid
	}
	paid := 0
	for _, s := range e.Shares {
		if s.IsPaid {
			paid++
		}
	}
	switch paid {
	case len(e.Shares):
		return ExpensePaid
	case 0:
		return ExpenseUnpaid
	default:
		return ExpensePartial
	}
}

func (re RecurringExpense) Validate() error {
	if err := re.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}

	if !re.EndDate.IsZero() {
		if err := re.EndDate.Validate(); err != nil {
			return errors.New("invalid end date: " + err.Error())
		}
		if !re.EndDate.After(re.StartDate.Time) && !re.EndDate.Equal(re.StartDate.Time) {
			return errors.New("end date must be after start date")
		}
	}

	switch re.Every {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return errors.New("invalid repetition type")
	}

	if len(strings.TrimSpace(re.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(re.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if err := re.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(re.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}
