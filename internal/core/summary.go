package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// MonthOverview is a compact per-household summary for a specific year+month.
type MonthOverview struct {
	HouseholdID string
	Year        int
	Month       int // 1-12
	Total       Money
	ByCategory  []CategoryAmount
}
