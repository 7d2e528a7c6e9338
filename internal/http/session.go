package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"conti/internal/auth"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionKey   contextKey = "session"
)

const sessionCookie = "conti_session"

// requireSession validates the session cookie and puts the claims in the
// request context. Browser navigations get redirected to /login; HTMX and
// form posts get a plain 401 so the client can react.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.sessionFromRequest(r)
		if err != nil {
			if wantsHTML(r) {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			http.Error(w, "sessione non valida", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, claims)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) sessionFromRequest(r *http.Request) (*auth.Claims, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, auth.ErrMissingToken
	}
	return s.sessions.Validate(cookie.Value)
}

// sessionUser returns the claims stored by requireSession. Handlers behind
// the middleware can assume it is present.
func sessionUser(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(sessionKey).(*auth.Claims)
	return claims
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(s.sessions.TTL()),
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// wantsHTML reports whether the request is a full-page browser navigation,
// as opposed to an HTMX partial refresh or a programmatic call.
func wantsHTML(r *http.Request) bool {
	if r.Header.Get("HX-Request") == "true" {
		return false
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
