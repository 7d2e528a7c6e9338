package http

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"conti/internal/core"
	"conti/internal/storage"
)

// indexData feeds the main page template.
type indexData struct {
	UserID     string
	Email      string
	Households []core.Household
	Selected   *core.Household
	Members    []core.Member
	Year       int
	Month      int
	Today      string
}

// handleIndex renders the main page: household picker plus the dashboard
// of the selected household. The partials load themselves via HTMX.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims := sessionUser(r)
	households, err := s.store.ListHouseholds(r.Context(), claims.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "List households error", "error", err, "user_id", claims.UserID)
		http.Error(w, "errore caricando le case", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	year, month := parseYearMonth(r)
	data := indexData{
		UserID:     claims.UserID,
		Email:      claims.Email,
		Households: households,
		Year:       year,
		Month:      month,
		Today:      now.Format("2006-01-02"),
	}

	if selected := s.selectHousehold(r, households); selected != nil {
		data.Selected = selected
		members, err := s.store.ListMembers(r.Context(), selected.ID)
		if err != nil {
			slog.ErrorContext(r.Context(), "List members error", "error", err, "household_id", selected.ID)
		} else {
			data.Members = members
		}
	}

	s.renderPage(w, r, "index.html", data)
}

// selectHousehold picks the household named in the query, falling back to
// the user's first. Only memberships count: a foreign id is ignored.
func (s *Server) selectHousehold(r *http.Request, households []core.Household) *core.Household {
	if len(households) == 0 {
		return nil
	}
	if want := strings.TrimSpace(r.URL.Query().Get("household")); want != "" {
		for i := range households {
			if households[i].ID == want {
				return &households[i]
			}
		}
	}
	return &households[0]
}

// handleCreateHousehold creates a household with the caller as admin.
func (s *Server) handleCreateHousehold(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	claims := sessionUser(r)
	name := sanitizeInput(r.Form.Get("name"))

	household, err := s.store.CreateHousehold(r.Context(), name, claims.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Household creation error", "error", err, "user_id", claims.UserID)
		UnprocessableEntityError("Nome casa non valido").Write(w)
		return
	}

	slog.InfoContext(r.Context(), "Household created", "household_id", household.ID, "user_id", claims.UserID)
	NewHTMXResponse().
		TriggerHouseholdChanged(household.ID).
		TriggerSuccessNotification("Casa creata").
		Header("HX-Redirect", "/?household="+household.ID).
		Write(w)
}

// handleJoinHousehold joins the caller to a household by invite code.
func (s *Server) handleJoinHousehold(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	claims := sessionUser(r)
	code := strings.ToUpper(sanitizeInput(r.Form.Get("invite_code")))

	household, err := s.store.JoinHousehold(r.Context(), code, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			NotFoundError("Codice invito non valido").Write(w)
		case errors.Is(err, storage.ErrAlreadyMember):
			ConflictError("Fai già parte di questa casa").Write(w)
		default:
			slog.ErrorContext(r.Context(), "Household join error", "error", err, "user_id", claims.UserID)
			InternalServerError("Errore durante l'iscrizione").Write(w)
		}
		return
	}

	slog.InfoContext(r.Context(), "Household joined", "household_id", household.ID, "user_id", claims.UserID)
	NewHTMXResponse().
		TriggerHouseholdChanged(household.ID).
		TriggerSuccessNotification("Benvenuto in " + household.Name).
		Header("HX-Redirect", "/?household="+household.ID).
		Write(w)
}

// handleMembers renders the member list partial, invite code included.
func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	claims := sessionUser(r)
	householdID := strings.TrimSpace(r.URL.Query().Get("household"))
	household, ok := s.authorizeHousehold(w, r, householdID, claims.UserID)
	if !ok {
		return
	}

	members, err := s.store.ListMembers(r.Context(), household.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "List members error", "error", err, "household_id", household.ID)
		_, _ = w.Write([]byte(`<div class="placeholder">Errore caricando i membri</div>`))
		return
	}

	data := struct {
		InviteCode string
		Members    []core.Member
	}{InviteCode: household.InviteCode, Members: members}

	if err := s.templates.ExecuteTemplate(w, "members.html", data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution error", "error", err, "template", "members.html")
	}
}

// authorizeHousehold loads the household and verifies membership, writing
// the error response itself when the caller has no business there.
func (s *Server) authorizeHousehold(w http.ResponseWriter, r *http.Request, householdID, userID string) (core.Household, bool) {
	if householdID == "" {
		BadRequestError("Casa non specificata").Write(w)
		return core.Household{}, false
	}
	ok, err := s.store.IsMember(r.Context(), householdID, userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Membership check error", "error", err, "household_id", householdID, "user_id", userID)
		InternalServerError("Errore interno").Write(w)
		return core.Household{}, false
	}
	if !ok {
		ForbiddenError("Non fai parte di questa casa").Write(w)
		return core.Household{}, false
	}
	household, err := s.store.GetHousehold(r.Context(), householdID)
	if err != nil {
		NotFoundError("Casa non trovata").Write(w)
		return core.Household{}, false
	}
	return household, true
}

// authorizeMutation allows a record change only to the record's creator
// or a household admin. Plain members can read everything but touch only
// what they created. Writes the 403 itself when the caller fails the rule.
func (s *Server) authorizeMutation(w http.ResponseWriter, r *http.Request, householdID, userID, creatorID string) bool {
	if userID == creatorID {
		return true
	}
	member, err := s.store.GetMember(r.Context(), householdID, userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Member lookup error", "error", err, "household_id", householdID, "user_id", userID)
		ForbiddenError("Non fai parte di questa casa").Write(w)
		return false
	}
	if member.Role != core.RoleAdmin {
		ForbiddenError("Solo chi ha creato il record o un amministratore può modificarlo").Write(w)
		return false
	}
	return true
}

// escape is a tiny alias used when building inline HTML fragments.
func escape(s string) string {
	return template.HTMLEscapeString(s)
}
