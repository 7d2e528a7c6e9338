package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"conti/internal/core"
	"conti/internal/storage"
)

// handleCreateRecurring registers a recurring expense template. The
// background processor materializes it into real, split expenses.
func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	claims := sessionUser(r)
	householdID := sanitizeInput(r.Form.Get("household"))
	if _, ok := s.authorizeHousehold(w, r, householdID, claims.UserID); !ok {
		return
	}

	startDate, err := parseFormDate(r.Form.Get("start_date"))
	if err != nil {
		UnprocessableEntityError("Data inizio non valida").Write(w)
		return
	}
	var endDate core.Date
	if v := strings.TrimSpace(r.Form.Get("end_date")); v != "" {
		endDate, err = parseFormDate(v)
		if err != nil {
			UnprocessableEntityError("Data fine non valida").Write(w)
			return
		}
	}
	cents, err := core.ParseDecimalToCents(strings.TrimSpace(r.Form.Get("amount")))
	if err != nil {
		UnprocessableEntityError("Importo non valido").Write(w)
		return
	}

	re := core.RecurringExpense{
		HouseholdID: householdID,
		CreatorID:   claims.UserID,
		Title:       sanitizeInput(r.Form.Get("title")),
		Amount:      core.Money{Cents: cents},
		Category:    sanitizeInput(r.Form.Get("category")),
		Every:       core.RepetitionTypes(sanitizeInput(r.Form.Get("every"))),
		StartDate:   startDate,
		EndDate:     endDate,
	}
	if err := re.Validate(); err != nil {
		UnprocessableEntityError("Dati non validi: " + err.Error()).Write(w)
		return
	}

	created, err := s.store.CreateRecurringExpense(r.Context(), re)
	if err != nil {
		slog.ErrorContext(r.Context(), "Recurring expense creation error", "error", err, "household_id", householdID)
		InternalServerError("Errore nel salvataggio").Write(w)
		return
	}

	slog.InfoContext(r.Context(), "Recurring expense created",
		"recurring_id", created.ID,
		"household_id", householdID,
		"every", string(created.Every))
	NewHTMXResponse().
		Trigger("recurring:changed", map[string]interface{}{"household": householdID}).
		TriggerFormReset().
		BodyHTML(`<div class="success">Spesa ricorrente registrata: ` + escape(created.Title) + `</div>`).
		Write(w)
}

// handleDeleteRecurring removes a recurring template. Expenses already
// materialized from it are untouched.
func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
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
		BadRequestError("Spesa ricorrente non specificata").Write(w)
		return
	}

	re, err := s.store.GetRecurringExpense(r.Context(), id)
	if err != nil {
		NotFoundError("Spesa ricorrente non trovata").Write(w)
		return
	}
	if _, ok := s.authorizeHousehold(w, r, re.HouseholdID, claims.UserID); !ok {
		return
	}
	if !s.authorizeMutation(w, r, re.HouseholdID, claims.UserID, re.CreatorID) {
		return
	}

	if err := s.store.DeleteRecurringExpense(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			NotFoundError("Spesa ricorrente non trovata").Write(w)
			return
		}
		slog.ErrorContext(r.Context(), "Recurring expense delete error", "error", err, "recurring_id", id)
		InternalServerError("Errore nella cancellazione").Write(w)
		return
	}

	slog.InfoContext(r.Context(), "Recurring expense deleted", "recurring_id", id, "household_id", re.HouseholdID)
	NewHTMXResponse().
		Trigger("recurring:changed", map[string]interface{}{"household": re.HouseholdID}).
		BodyHTML(`<div class="success">Spesa ricorrente rimossa</div>`).
		Write(w)
}

// recurringRow is the template model for one recurring template line.
type recurringRow struct {
	ID       string
	Title    string
	Amount   string
	Category string
	Every    string
	Start    string
	End      string
	Creator  string
}

// handleRecurringList renders the household's recurring templates partial.
func (s *Server) handleRecurringList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	claims := sessionUser(r)
	householdID := strings.TrimSpace(r.URL.Query().Get("household"))
	if _, ok := s.authorizeHousehold(w, r, householdID, claims.UserID); !ok {
		return
	}

	items, err := s.store.ListRecurringExpenses(r.Context(), householdID)
	if err != nil {
		slog.ErrorContext(r.Context(), "List recurring expenses error", "error", err, "household_id", householdID)
		_, _ = w.Write([]byte(`<div class="placeholder">Errore caricando le spese ricorrenti</div>`))
		return
	}

	names := s.memberNames(r, householdID)
	rows := make([]recurringRow, 0, len(items))
	for _, re := range items {
		row := recurringRow{
			ID:       re.ID,
			Title:    re.Title,
			Amount:   formatEuros(re.Amount.Cents),
			Category: re.Category,
			Every:    string(re.Every),
			Start:    re.StartDate.Format("2006-01-02"),
			Creator:  names[re.CreatorID],
		}
		if !re.EndDate.IsEmpty() {
			row.End = re.EndDate.Format("2006-01-02")
		}
		rows = append(rows, row)
	}

	data := struct {
		Rows []recurringRow
	}{Rows: rows}

	if err := s.templates.ExecuteTemplate(w, "recurring.html", data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution error", "error", err, "template", "recurring.html")
		_, _ = w.Write([]byte(`<div class="placeholder">Errore rendering spese ricorrenti</div>`))
	}
}
