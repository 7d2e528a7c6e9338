package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTMXResponseBuilderTriggers(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHTMXResponse().
		TriggerExpenseChanged("h1", 2026, 3).
		TriggerBalancesRefresh("h1").
		TriggerFormReset().
		BodyHTML(`<div class="success">ok</div>`).
		Write(rec)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}

	var triggers map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rec.Header().Get("HX-Trigger")), &triggers); err != nil {
		t.Fatalf("HX-Trigger is not JSON: %v", err)
	}
	for _, name := range []string{"expense:changed", "balances:refresh", "form:reset"} {
		if _, ok := triggers[name]; !ok {
			t.Errorf("missing trigger %q in %s", name, rec.Header().Get("HX-Trigger"))
		}
	}

	var scope struct {
		Household string `json:"household"`
		Year      int    `json:"year"`
		Month     int    `json:"month"`
	}
	if err := json.Unmarshal(triggers["expense:changed"], &scope); err != nil {
		t.Fatalf("expense:changed payload: %v", err)
	}
	if scope.Household != "h1" || scope.Year != 2026 || scope.Month != 3 {
		t.Errorf("scope = %+v, want h1/2026/3", scope)
	}
}

func TestHTMXResponseBuilderNoTriggers(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHTMXResponse().BodyString("ciao").Write(rec)
	if _, ok := rec.Header()["Hx-Trigger"]; ok {
		t.Error("HX-Trigger set without any triggers")
	}
	if rec.Body.String() != "ciao" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestTriggerNotification(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHTMXResponse().TriggerErrorNotification("qualcosa è andato storto").Write(rec)

	var triggers map[string]struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		Duration int    `json:"duration"`
	}
	if err := json.Unmarshal([]byte(rec.Header().Get("HX-Trigger")), &triggers); err != nil {
		t.Fatalf("HX-Trigger is not JSON: %v", err)
	}
	n, ok := triggers["show-notification"]
	if !ok {
		t.Fatal("missing show-notification trigger")
	}
	if n.Type != "error" || n.Message != "qualcosa è andato storto" || n.Duration != 5000 {
		t.Errorf("notification = %+v", n)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		builder *HTMXResponseBuilder
		status  int
	}{
		{"bad request", BadRequestError("x"), http.StatusBadRequest},
		{"unprocessable", UnprocessableEntityError("x"), http.StatusUnprocessableEntity},
		{"conflict", ConflictError("x"), http.StatusConflict},
		{"forbidden", ForbiddenError("x"), http.StatusForbidden},
		{"not found", NotFoundError("x"), http.StatusNotFound},
		{"internal", InternalServerError("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.builder.Write(rec)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), `class="error"`) {
				t.Errorf("body = %q, want error div", rec.Body.String())
			}
		})
	}

	t.Run("message is escaped", func(t *testing.T) {
		rec := httptest.NewRecorder()
		BadRequestError(`<script>alert(1)</script>`).Write(rec)
		if strings.Contains(rec.Body.String(), "<script>") {
			t.Errorf("unescaped markup in body: %q", rec.Body.String())
		}
	})
}
