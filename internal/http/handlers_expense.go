package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"conti/internal/core"
	"conti/internal/services"
	"conti/internal/storage"
)

// expenseFromForm builds a core.Expense from the submitted form. The
// creator is always the session user: you can only front money yourself.
func expenseFromForm(r *http.Request, creatorID string) (core.Expense, error) {
	date, err := parseFormDate(r.Form.Get("date"))
	if err != nil {
		return core.Expense{}, errors.New("data non valida")
	}
	cents, err := core.ParseDecimalToCents(strings.TrimSpace(r.Form.Get("amount")))
	if err != nil {
		return core.Expense{}, errors.New("importo non valido")
	}
	return core.Expense{
		HouseholdID: sanitizeInput(r.Form.Get("household")),
		CreatorID:   creatorID,
		Title:       sanitizeInput(r.Form.Get("title")),
		Amount:      core.Money{Cents: cents},
		Currency:    "EUR",
		Category:    sanitizeInput(r.Form.Get("category")),
		Date:        date,
		Notes:       sanitizeInput(r.Form.Get("notes")),
	}, nil
}

// handleCreateExpense creates an expense, split equally unless the form
// carries explicit share fields.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	claims := sessionUser(r)
	expense, err := expenseFromForm(r, claims.UserID)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	shares, err := parseShareSpecs(r.Form)
	if err != nil {
		UnprocessableEntityError("Quote non valide: " + err.Error()).Write(w)
		return
	}

	created, err := s.expenses.CreateExpense(r.Context(), expense, shares)
	if err != nil {
		s.writeExpenseError(w, r, err)
		return
	}

	year, month := created.Date.Year(), created.Date.Month()
	s.invalidateExpenseViews(created.HouseholdID, year, month)

	slog.InfoContext(r.Context(), "Expense created",
		"expense_id", created.ID,
		"household_id", created.HouseholdID,
		"amount_cents", created.Amount.Cents,
		"shares", len(created.Shares))
	NewHTMXResponse().
		TriggerExpenseChanged(created.HouseholdID, year, month).
		TriggerBalancesRefresh(created.HouseholdID).
		TriggerFormReset().
		BodyHTML(`<div class="success">Spesa registrata: ` + escape(created.Title) +
			` — ` + formatEuros(created.Amount.Cents) + `</div>`).
		Write(w)
}

// handleUpdateExpense rewrites an expense and its split. Rejected with 409
// once anybody other than the creator has settled a share.
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	claims := sessionUser(r)
	id := sanitizeInput(r.Form.Get("id"))
	if id == "" {
		BadRequestError("Spesa non specificata").Write(w)
		return
	}

	existing, err := s.store.GetExpense(r.Context(), id)
	if err != nil {
		NotFoundError("Spesa non trovata").Write(w)
		return
	}
	if _, ok := s.authorizeHousehold(w, r, existing.HouseholdID, claims.UserID); !ok {
		return
	}
	if !s.authorizeMutation(w, r, existing.HouseholdID, claims.UserID, existing.CreatorID) {
		return
	}

	expense, err := expenseFromForm(r, existing.CreatorID)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	expense.ID = id
	expense.HouseholdID = existing.HouseholdID
	shares, err := parseShareSpecs(r.Form)
	if err != nil {
		UnprocessableEntityError("Quote non valide: " + err.Error()).Write(w)
		return
	}

	updated, err := s.expenses.UpdateExpense(r.Context(), expense, shares)
	if err != nil {
		s.writeExpenseError(w, r, err)
		return
	}

	// Both the old and the new month partials are stale now.
	s.invalidateExpenseViews(updated.HouseholdID, existing.Date.Year(), existing.Date.Month())
	s.invalidateExpenseViews(updated.HouseholdID, updated.Date.Year(), updated.Date.Month())

	slog.InfoContext(r.Context(), "Expense updated", "expense_id", updated.ID, "household_id", updated.HouseholdID)
	NewHTMXResponse().
		TriggerExpenseChanged(updated.HouseholdID, updated.Date.Year(), updated.Date.Month()).
		TriggerBalancesRefresh(updated.HouseholdID).
		BodyHTML(`<div class="success">Spesa aggiornata: ` + escape(updated.Title) + `</div>`).
		Write(w)
}

// handleArchiveExpense archives an expense, dropping it from lists and
// balances.
func (s *Server) handleArchiveExpense(w http.ResponseWriter, r *http.Request) {
	if resp := RequireDeleteOrPOST(r); resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	claims := sessionUser(r)
	id := sanitizeInput(r.Form.Get("id"))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("id"))
	}
	if id == "" {
		BadRequestError("Spesa non specificata").Write(w)
		return
	}

	expense, err := s.store.GetExpense(r.Context(), id)
	if err != nil {
		NotFoundError("Spesa non trovata").Write(w)
		return
	}
	if _, ok := s.authorizeHousehold(w, r, expense.HouseholdID, claims.UserID); !ok {
		return
	}
	if !s.authorizeMutation(w, r, expense.HouseholdID, claims.UserID, expense.CreatorID) {
		return
	}

	if err := s.expenses.ArchiveExpense(r.Context(), id); err != nil {
		s.writeExpenseError(w, r, err)
		return
	}

	year, month := expense.Date.Year(), expense.Date.Month()
	s.invalidateExpenseViews(expense.HouseholdID, year, month)

	slog.InfoContext(r.Context(), "Expense archived", "expense_id", id, "household_id", expense.HouseholdID)
	NewHTMXResponse().
		TriggerExpenseChanged(expense.HouseholdID, year, month).
		TriggerBalancesRefresh(expense.HouseholdID).
		BodyHTML(`<div class="success">Spesa archiviata</div>`).
		Write(w)
}

// writeExpenseError maps service and storage errors to HTTP responses.
func (s *Server) writeExpenseError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrNotAMember):
		ForbiddenError("Tutti i partecipanti devono far parte della casa").Write(w)
	case errors.Is(err, core.ErrShareSumMismatch):
		UnprocessableEntityError("Le quote non sommano all'importo della spesa").Write(w)
	case errors.Is(err, storage.ErrSharesSettled):
		ConflictError("Spesa non modificabile: quote già saldate").Write(w)
	case errors.Is(err, storage.ErrNotFound):
		NotFoundError("Spesa non trovata").Write(w)
	case errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrEmptyTitle),
		errors.Is(err, core.ErrEmptyCategory), errors.Is(err, core.ErrInvalidDay),
		errors.Is(err, core.ErrInvalidMonth):
		UnprocessableEntityError("Dati non validi: " + err.Error()).Write(w)
	default:
		slog.ErrorContext(r.Context(), "Expense operation error", "error", err)
		InternalServerError("Errore nel salvataggio").Write(w)
	}
}

// handleMonthOverview renders the monthly overview partial.
func (s *Server) handleMonthOverview(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	claims := sessionUser(r)
	householdID := strings.TrimSpace(r.URL.Query().Get("household"))
	if _, ok := s.authorizeHousehold(w, r, householdID, claims.UserID); !ok {
		return
	}
	year, month := parseYearMonth(r)

	ov, err := s.getOverview(r.Context(), householdID, year, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "Month overview error", "error", err, "household_id", householdID, "year", year, "month", month)
		_, _ = w.Write([]byte(`<section id="month-overview" class="month-overview"><div class="placeholder">Errore caricando panoramica</div></section>`))
		return
	}

	// Compute max category for progress scaling and legend.
	var maxCents int64
	var maxName string
	for _, c := range ov.ByCategory {
		if c.Amount.Cents > maxCents {
			maxCents = c.Amount.Cents
			maxName = c.Name
		}
	}

	type row struct {
		Name, Amount string
		Width        int
	}
	data := struct {
		Year    int
		Month   int
		Total   string
		MaxName string
		Max     string
		Rows    []row
	}{Year: ov.Year, Month: ov.Month, Total: formatEuros(ov.Total.Cents), MaxName: maxName, Max: formatEuros(maxCents)}

	for _, c := range ov.ByCategory {
		width := 0
		if maxCents > 0 && c.Amount.Cents > 0 {
			width = int((c.Amount.Cents*100 + maxCents/2) / maxCents) // rounded percent
			if width > 0 && width < 2 {                               // ensure visibility for very small values
				width = 2
			}
			if width > 100 {
				width = 100
			}
		}
		data.Rows = append(data.Rows, row{Name: c.Name, Amount: formatEuros(c.Amount.Cents), Width: width})
	}

	if err := s.templates.ExecuteTemplate(w, "month_overview.html", data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution error", "error", err, "template", "month_overview.html")
		_, _ = w.Write([]byte(`<section id="month-overview" class="month-overview"><div class="placeholder">Errore rendering panoramica</div></section>`))
	}
}

// expenseRow is the template model for one expense line.
type expenseRow struct {
	ID       string
	Date     string
	Title    string
	Amount   string
	Category string
	Creator  string
	Status   core.ExpensePaymentStatus
	Shares   []shareRow
}

type shareRow struct {
	ID     string
	UserID string
	Name   string
	Amount string
	IsPaid bool
}

// handleExpenseList renders the month's expense list partial, shares
// included so the payment form can target them.
func (s *Server) handleExpenseList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	claims := sessionUser(r)
	householdID := strings.TrimSpace(r.URL.Query().Get("household"))
	if _, ok := s.authorizeHousehold(w, r, householdID, claims.UserID); !ok {
		return
	}
	year, month := parseYearMonth(r)

	items, err := s.getExpenses(r.Context(), householdID, year, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "List expenses error", "error", err, "household_id", householdID, "year", year, "month", month)
		_, _ = w.Write([]byte(`<div class="placeholder">Errore caricando le spese</div>`))
		return
	}

	names := s.memberNames(r, householdID)
	rows := make([]expenseRow, 0, len(items))
	for _, e := range items {
		row := expenseRow{
			ID:       e.ID,
			Date:     e.Date.Format("2006-01-02"),
			Title:    e.Title,
			Amount:   formatEuros(e.Amount.Cents),
			Category: e.Category,
			Creator:  names[e.CreatorID],
			Status:   e.PaymentStatus(),
		}
		for _, sh := range e.Shares {
			row.Shares = append(row.Shares, shareRow{
				ID:     sh.ID,
				UserID: sh.UserID,
				Name:   names[sh.UserID],
				Amount: formatEuros(sh.Amount.Cents),
				IsPaid: sh.IsPaid,
			})
		}
		rows = append(rows, row)
	}

	data := struct {
		Year  int
		Month int
		Rows  []expenseRow
	}{Year: year, Month: month, Rows: rows}

	if err := s.templates.ExecuteTemplate(w, "expense_list.html", data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution error", "error", err, "template", "expense_list.html")
		_, _ = w.Write([]byte(`<div class="placeholder">Errore rendering spese</div>`))
	}
}

// memberNames returns a user-id to display-name index for the household.
func (s *Server) memberNames(r *http.Request, householdID string) map[string]string {
	names := make(map[string]string)
	members, err := s.store.ListMembers(r.Context(), householdID)
	if err != nil {
		slog.WarnContext(r.Context(), "List members error", "error", err, "household_id", householdID)
		return names
	}
	for _, m := range members {
		names[m.UserID] = m.Name
	}
	return names
}
