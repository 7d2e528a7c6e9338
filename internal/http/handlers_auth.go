package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"conti/internal/auth"
	"conti/internal/storage"
)

// handleRegister serves the registration page and creates new accounts.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.renderPage(w, r, "register.html", nil)
		return
	}
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	name := sanitizeInput(r.Form.Get("name"))
	email := strings.ToLower(sanitizeInput(r.Form.Get("email")))
	password := r.Form.Get("password")

	if err := auth.ValidatePassword(password); err != nil {
		UnprocessableEntityError("Password troppo debole: minimo 8 caratteri").Write(w)
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		slog.ErrorContext(r.Context(), "Password hash error", "error", err)
		InternalServerError("Errore nella registrazione").Write(w)
		return
	}

	user, err := s.store.CreateUser(r.Context(), name, email, hash)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			ConflictError("Email già registrata").Write(w)
			return
		}
		slog.ErrorContext(r.Context(), "User creation error", "error", err)
		UnprocessableEntityError("Dati non validi").Write(w)
		return
	}

	token, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		slog.ErrorContext(r.Context(), "Session issue error", "error", err, "user_id", user.ID)
		InternalServerError("Errore nella registrazione").Write(w)
		return
	}
	s.setSessionCookie(w, token)

	slog.InfoContext(r.Context(), "User registered", "user_id", user.ID)
	redirectAfterAuth(w, r)
}

// handleLogin serves the login page and starts sessions.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.renderPage(w, r, "login.html", nil)
		return
	}
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	email := strings.ToLower(sanitizeInput(r.Form.Get("email")))
	password := r.Form.Get("password")

	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		// Same answer for unknown email and wrong password.
		ErrorResponse(http.StatusUnauthorized, "Credenziali non valide").Write(w)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		slog.WarnContext(r.Context(), "Failed login attempt", "user_id", user.ID)
		ErrorResponse(http.StatusUnauthorized, "Credenziali non valide").Write(w)
		return
	}

	token, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		slog.ErrorContext(r.Context(), "Session issue error", "error", err, "user_id", user.ID)
		InternalServerError("Errore di accesso").Write(w)
		return
	}
	s.setSessionCookie(w, token)

	slog.InfoContext(r.Context(), "User logged in", "user_id", user.ID)
	redirectAfterAuth(w, r)
}

// handleLogout clears the session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	clearSessionCookie(w)
	redirectAfterAuth(w, r)
}

// redirectAfterAuth sends the client back to the index. HTMX requests get
// an HX-Redirect header so the whole page swaps, not just the fragment.
func redirectAfterAuth(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// renderPage executes a full-page template.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, name string, data any) {
	if s.templates == nil {
		slog.ErrorContext(r.Context(), "Templates not loaded", "url", r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.ErrorContext(r.Context(), "Template execution failed", "error", err, "template", name)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
