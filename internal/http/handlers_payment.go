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

// handleCreatePayment records a payment from the session user to another
// member, optionally allocated against specific shares.
func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	claims := sessionUser(r)
	date, err := parseFormDate(r.Form.Get("date"))
	if err != nil {
		UnprocessableEntityError("Data non valida").Write(w)
		return
	}
	cents, err := core.ParseDecimalToCents(strings.TrimSpace(r.Form.Get("amount")))
	if err != nil {
		UnprocessableEntityError("Importo non valido").Write(w)
		return
	}
	allocations, err := parseAllocations(r.Form)
	if err != nil {
		UnprocessableEntityError("Collegamenti non validi: " + err.Error()).Write(w)
		return
	}

	payment := core.Payment{
		HouseholdID: sanitizeInput(r.Form.Get("household")),
		PayerID:     claims.UserID,
		PayeeID:     sanitizeInput(r.Form.Get("payee")),
		Amount:      core.Money{Cents: cents},
		Method:      sanitizeInput(r.Form.Get("method")),
		Note:        sanitizeInput(r.Form.Get("note")),
		Date:        date,
		Allocations: allocations,
	}

	created, err := s.payments.CreatePayment(r.Context(), payment)
	if err != nil {
		s.writePaymentError(w, r, err)
		return
	}

	year, month := created.Date.Year(), created.Date.Month()
	s.invalidatePaymentViews(created.HouseholdID, year, month)

	slog.InfoContext(r.Context(), "Payment recorded",
		"payment_id", created.ID,
		"household_id", created.HouseholdID,
		"amount_cents", created.Amount.Cents,
		"allocations", len(created.Allocations))
	NewHTMXResponse().
		TriggerPaymentChanged(created.HouseholdID, year, month).
		TriggerBalancesRefresh(created.HouseholdID).
		TriggerFormReset().
		BodyHTML(`<div class="success">Pagamento registrato: ` + formatEuros(created.Amount.Cents) + `</div>`).
		Write(w)
}

// handleSettleAll settles every open share the session user owes the
// chosen member, in a single payment.
func (s *Server) handleSettleAll(w http.ResponseWriter, r *http.Request) {
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
	payeeID := sanitizeInput(r.Form.Get("payee"))
	date, err := parseFormDate(r.Form.Get("date"))
	if err != nil {
		UnprocessableEntityError("Data non valida").Write(w)
		return
	}

	created, err := s.payments.SettleAll(r.Context(), householdID, claims.UserID, payeeID,
		sanitizeInput(r.Form.Get("method")), sanitizeInput(r.Form.Get("note")), date)
	if err != nil {
		if errors.Is(err, storage.ErrNothingToSettle) {
			NewHTMXResponse().
				TriggerNotification(NotificationInfo, "Nessun debito da saldare", 3000).
				BodyHTML(`<div class="placeholder">Nessun debito aperto verso questo membro</div>`).
				Write(w)
			return
		}
		s.writePaymentError(w, r, err)
		return
	}

	year, month := created.Date.Year(), created.Date.Month()
	s.invalidatePaymentViews(created.HouseholdID, year, month)

	slog.InfoContext(r.Context(), "Debts settled",
		"payment_id", created.ID,
		"household_id", created.HouseholdID,
		"amount_cents", created.Amount.Cents,
		"shares_settled", len(created.Allocations))
	NewHTMXResponse().
		TriggerPaymentChanged(created.HouseholdID, year, month).
		TriggerBalancesRefresh(created.HouseholdID).
		BodyHTML(`<div class="success">Saldati ` + formatEuros(created.Amount.Cents) + `</div>`).
		Write(w)
}

// handleUpdatePayment edits a payment's amount, method, date and note.
// Allocations are never touched here: shares the payment settled stay
// settled, whatever the new amount is.
func (s *Server) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
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
		BadRequestError("Pagamento non specificato").Write(w)
		return
	}

	existing, err := s.store.GetPayment(r.Context(), id)
	if err != nil {
		NotFoundError("Pagamento non trovato").Write(w)
		return
	}
	if _, ok := s.authorizeHousehold(w, r, existing.HouseholdID, claims.UserID); !ok {
		return
	}
	if !s.authorizeMutation(w, r, existing.HouseholdID, claims.UserID, existing.PayerID) {
		return
	}

	date, err := parseFormDate(r.Form.Get("date"))
	if err != nil {
		UnprocessableEntityError("Data non valida").Write(w)
		return
	}
	cents, err := core.ParseDecimalToCents(strings.TrimSpace(r.Form.Get("amount")))
	if err != nil {
		UnprocessableEntityError("Importo non valido").Write(w)
		return
	}

	payment := existing
	payment.Amount = core.Money{Cents: cents}
	payment.Method = sanitizeInput(r.Form.Get("method"))
	payment.Note = sanitizeInput(r.Form.Get("note"))
	payment.Date = date

	updated, err := s.payments.UpdatePayment(r.Context(), payment)
	if err != nil {
		s.writePaymentError(w, r, err)
		return
	}

	// Both the old and the new month partials are stale now.
	s.invalidatePaymentViews(updated.HouseholdID, existing.Date.Year(), existing.Date.Month())
	s.invalidatePaymentViews(updated.HouseholdID, updated.Date.Year(), updated.Date.Month())

	slog.InfoContext(r.Context(), "Payment updated", "payment_id", updated.ID, "household_id", updated.HouseholdID)
	NewHTMXResponse().
		TriggerPaymentChanged(updated.HouseholdID, updated.Date.Year(), updated.Date.Month()).
		TriggerBalancesRefresh(updated.HouseholdID).
		BodyHTML(`<div class="success">Pagamento aggiornato: ` + formatEuros(updated.Amount.Cents) + `</div>`).
		Write(w)
}

// handleArchivePayment archives a payment. Shares settled through it stay
// settled.
func (s *Server) handleArchivePayment(w http.ResponseWriter, r *http.Request) {
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
		BadRequestError("Pagamento non specificato").Write(w)
		return
	}

	payment, err := s.store.GetPayment(r.Context(), id)
	if err != nil {
		NotFoundError("Pagamento non trovato").Write(w)
		return
	}
	if _, ok := s.authorizeHousehold(w, r, payment.HouseholdID, claims.UserID); !ok {
		return
	}
	if !s.authorizeMutation(w, r, payment.HouseholdID, claims.UserID, payment.PayerID) {
		return
	}

	if err := s.payments.ArchivePayment(r.Context(), id); err != nil {
		s.writePaymentError(w, r, err)
		return
	}

	year, month := payment.Date.Year(), payment.Date.Month()
	s.invalidatePaymentViews(payment.HouseholdID, year, month)

	slog.InfoContext(r.Context(), "Payment archived", "payment_id", id, "household_id", payment.HouseholdID)
	NewHTMXResponse().
		TriggerPaymentChanged(payment.HouseholdID, year, month).
		TriggerBalancesRefresh(payment.HouseholdID).
		BodyHTML(`<div class="success">Pagamento archiviato</div>`).
		Write(w)
}

// writePaymentError maps payment errors to HTTP responses. Allocation
// rule violations are client errors, not server faults.
func (s *Server) writePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrNotAMember):
		ForbiddenError("Pagante e beneficiario devono far parte della casa").Write(w)
	case errors.Is(err, storage.ErrPartialAllocation):
		UnprocessableEntityError("Ogni quota va saldata per intero").Write(w)
	case errors.Is(err, storage.ErrShareAlreadyPaid):
		ConflictError("Quota già saldata").Write(w)
	case errors.Is(err, storage.ErrShareNotOwed):
		UnprocessableEntityError("La quota non è dovuta al beneficiario indicato").Write(w)
	case errors.Is(err, core.ErrOverAllocation):
		UnprocessableEntityError("I collegamenti superano l'importo del pagamento").Write(w)
	case errors.Is(err, core.ErrSamePayerPayee):
		UnprocessableEntityError("Pagante e beneficiario devono essere diversi").Write(w)
	case errors.Is(err, storage.ErrNotFound):
		NotFoundError("Quota o pagamento non trovati").Write(w)
	case errors.Is(err, core.ErrInvalidAmount):
		UnprocessableEntityError("Importo non valido").Write(w)
	default:
		slog.ErrorContext(r.Context(), "Payment operation error", "error", err)
		InternalServerError("Errore nel salvataggio").Write(w)
	}
}

// paymentRow is the template model for one payment line.
type paymentRow struct {
	ID        string
	Date      string
	Payer     string
	Payee     string
	Amount    string
	Allocated string
	Method    string
	Note      string
}

// handlePaymentList renders the month's payment list partial.
func (s *Server) handlePaymentList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	claims := sessionUser(r)
	householdID := strings.TrimSpace(r.URL.Query().Get("household"))
	if _, ok := s.authorizeHousehold(w, r, householdID, claims.UserID); !ok {
		return
	}
	year, month := parseYearMonth(r)

	payments, err := s.store.ListPayments(r.Context(), householdID, year, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "List payments error", "error", err, "household_id", householdID, "year", year, "month", month)
		_, _ = w.Write([]byte(`<div class="placeholder">Errore caricando i pagamenti</div>`))
		return
	}

	names := s.memberNames(r, householdID)
	rows := make([]paymentRow, 0, len(payments))
	for _, p := range payments {
		var allocated int64
		for _, a := range p.Allocations {
			allocated += a.Amount.Cents
		}
		rows = append(rows, paymentRow{
			ID:        p.ID,
			Date:      p.Date.Format("2006-01-02"),
			Payer:     names[p.PayerID],
			Payee:     names[p.PayeeID],
			Amount:    formatEuros(p.Amount.Cents),
			Allocated: formatEuros(allocated),
			Method:    p.Method,
			Note:      p.Note,
		})
	}

	data := struct {
		Year  int
		Month int
		Rows  []paymentRow
	}{Year: year, Month: month, Rows: rows}

	if err := s.templates.ExecuteTemplate(w, "payments.html", data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution error", "error", err, "template", "payments.html")
		_, _ = w.Write([]byte(`<div class="placeholder">Errore rendering pagamenti</div>`))
	}
}

// balanceView is the template model for one pairwise balance line.
type balanceView struct {
	Name   string
	Amount string
	// TheyOwe is true when the other member owes the subject.
	TheyOwe bool
	Settled bool
	OtherID string
}

// handleBalances renders the session user's net position against every
// other member of the household.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	claims := sessionUser(r)
	householdID := strings.TrimSpace(r.URL.Query().Get("household"))
	if _, ok := s.authorizeHousehold(w, r, householdID, claims.UserID); !ok {
		return
	}

	balances, err := s.getBalances(r.Context(), householdID, claims.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Balances error", "error", err, "household_id", householdID, "user_id", claims.UserID)
		_, _ = w.Write([]byte(`<div class="placeholder">Errore caricando i saldi</div>`))
		return
	}

	names := s.memberNames(r, householdID)
	rows := make([]balanceView, 0, len(balances))
	for _, b := range balances {
		cents := b.Net.Cents
		view := balanceView{
			Name:    names[b.OtherID],
			OtherID: b.OtherID,
			TheyOwe: cents > 0,
			Settled: cents == 0,
		}
		if cents < 0 {
			cents = -cents
		}
		view.Amount = formatEuros(cents)
		rows = append(rows, view)
	}

	data := struct {
		Rows []balanceView
	}{Rows: rows}

	if err := s.templates.ExecuteTemplate(w, "balances.html", data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution error", "error", err, "template", "balances.html")
		_, _ = w.Write([]byte(`<div class="placeholder">Errore rendering saldi</div>`))
	}
}
