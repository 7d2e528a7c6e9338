package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"conti/internal/auth"
	"conti/internal/cache"
	"conti/internal/core"
	"conti/internal/services"
	"conti/internal/storage"
	appweb "conti/web"
)

// Server serves the HTMX UI and form endpoints. Reads go straight to the
// repository (with a small LRU cache in front of the month partials),
// writes go through the services so ledger sync and membership checks
// apply.
type Server struct {
	http.Server
	templates *template.Template

	store    *storage.Repository
	expenses *services.ExpenseService
	payments *services.PaymentService
	sessions *auth.SessionManager

	rateLimiter *rateLimiter
	metrics     securityMetrics

	// Month partials are cheap to recompute but hit on every page load,
	// so they sit behind a short-TTL LRU invalidated on writes.
	overviewCache *cache.LRUCache[core.MonthOverview]
	expensesCache *cache.LRUCache[[]core.Expense]
	balancesCache *cache.LRUCache[balanceRows]
	cacheManager  *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, store *storage.Repository, expenses *services.ExpenseService, payments *services.PaymentService, sessions *auth.SessionManager) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:         store,
		expenses:      expenses,
		payments:      payments,
		sessions:      sessions,
		rateLimiter:   newRateLimiter(),
		overviewCache: cache.NewLRUCache[core.MonthOverview](100, 5*time.Minute),
		expensesCache: cache.NewLRUCache[[]core.Expense](200, 5*time.Minute),
		balancesCache: cache.NewLRUCache[balanceRows](100, time.Minute),
		cacheManager:  cache.NewManager(),
	}

	s.cacheManager.Register(s.overviewCache)
	s.cacheManager.Register(s.expensesCache)
	s.cacheManager.Register(s.balancesCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	// Parse embedded templates at startup.
	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		slog.Warn("Failed parsing templates", "error", err)
	}
	s.templates = t

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("/static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
			static.ServeHTTP(w, r)
		}))
	} else {
		slog.Warn("Failed to mount embedded static FS", "error", err)
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	mux.HandleFunc("/login", s.withSecurityHeaders(s.handleLogin))
	mux.HandleFunc("/register", s.withSecurityHeaders(s.handleRegister))
	mux.HandleFunc("/logout", s.withSecurityHeaders(s.handleLogout))

	mux.HandleFunc("/", s.withSecurityHeaders(s.requireSession(s.handleIndex)))
	mux.HandleFunc("/households", s.withSecurityHeaders(s.requireSession(s.handleCreateHousehold)))
	mux.HandleFunc("/households/join", s.withSecurityHeaders(s.requireSession(s.handleJoinHousehold)))

	mux.HandleFunc("/expenses", s.withSecurityHeaders(s.requireSession(s.handleCreateExpense)))
	mux.HandleFunc("/expenses/update", s.withSecurityHeaders(s.requireSession(s.handleUpdateExpense)))
	mux.HandleFunc("/expenses/archive", s.withSecurityHeaders(s.requireSession(s.handleArchiveExpense)))

	mux.HandleFunc("/recurring", s.withSecurityHeaders(s.requireSession(s.handleCreateRecurring)))
	mux.HandleFunc("/recurring/delete", s.withSecurityHeaders(s.requireSession(s.handleDeleteRecurring)))

	mux.HandleFunc("/payments", s.withSecurityHeaders(s.requireSession(s.handleCreatePayment)))
	mux.HandleFunc("/payments/update", s.withSecurityHeaders(s.requireSession(s.handleUpdatePayment)))
	mux.HandleFunc("/payments/settle-all", s.withSecurityHeaders(s.requireSession(s.handleSettleAll)))
	mux.HandleFunc("/payments/archive", s.withSecurityHeaders(s.requireSession(s.handleArchivePayment)))

	// UI partials
	mux.HandleFunc("/ui/month-overview", s.withSecurityHeaders(s.requireSession(s.handleMonthOverview)))
	mux.HandleFunc("/ui/expenses", s.withSecurityHeaders(s.requireSession(s.handleExpenseList)))
	mux.HandleFunc("/ui/balances", s.withSecurityHeaders(s.requireSession(s.handleBalances)))
	mux.HandleFunc("/ui/payments", s.withSecurityHeaders(s.requireSession(s.handlePaymentList)))
	mux.HandleFunc("/ui/members", s.withSecurityHeaders(s.requireSession(s.handleMembers)))
	mux.HandleFunc("/ui/recurring", s.withSecurityHeaders(s.requireSession(s.handleRecurringList)))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request logging to responses.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		if detectSuspiciousRequest(r, &s.metrics) {
			slog.WarnContext(ctx, "Suspicious request detected",
				"request_id", requestID,
				"client_ip", clientIP,
				"method", r.Method,
				"url", r.URL.Path)
		}

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		// Rate limit mutations only; partial refreshes can be chatty.
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP, &s.metrics) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' https://unpkg.com 'unsafe-eval'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		http.Error(w, "templates not loaded", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) cacheKey(householdID string, year, month int) string {
	return householdID + ":" + strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

// invalidateExpenseViews drops cached partials affected by an expense write.
func (s *Server) invalidateExpenseViews(householdID string, year, month int) {
	key := s.cacheKey(householdID, year, month)
	s.overviewCache.Delete(key)
	s.expensesCache.Delete(key)
	s.balancesCache.Delete(householdID)
}

// invalidatePaymentViews drops cached partials affected by a payment write.
// Payments never change the month totals, only who stands where.
func (s *Server) invalidatePaymentViews(householdID string, year, month int) {
	s.expensesCache.Delete(s.cacheKey(householdID, year, month))
	s.balancesCache.Delete(householdID)
}

func (s *Server) getOverview(ctx context.Context, householdID string, year, month int) (core.MonthOverview, error) {
	key := s.cacheKey(householdID, year, month)

	if data, found := s.overviewCache.Get(key); found {
		slog.DebugContext(ctx, "Overview cache hit", "household_id", householdID, "year", year, "month", month)
		return data, nil
	}

	cctx, cancel := context.WithTimeout(ctx, 7*time.Second)
	defer cancel()
	data, err := s.store.MonthOverview(cctx, householdID, year, month)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("read month overview (household=%s, year=%d, month=%d): %w", householdID, year, month, err)
	}

	s.overviewCache.Set(key, data)
	return data, nil
}

func (s *Server) getExpenses(ctx context.Context, householdID string, year, month int) ([]core.Expense, error) {
	key := s.cacheKey(householdID, year, month)

	if items, found := s.expensesCache.Get(key); found {
		// Return a copy to prevent external mutation
		result := make([]core.Expense, len(items))
		copy(result, items)
		return result, nil
	}

	cctx, cancel := context.WithTimeout(ctx, 7*time.Second)
	defer cancel()
	items, err := s.store.ListExpenses(cctx, householdID, year, month)
	if err != nil {
		return nil, fmt.Errorf("list month expenses (household=%s, year=%d, month=%d): %w", householdID, year, month, err)
	}

	s.expensesCache.Set(key, items)
	return items, nil
}

// balanceRows holds the raw per-household rows that feed the balance
// computation. Cached per household; the per-user netting is cheap.
type balanceRows struct {
	shares    []core.ShareDebt
	transfers []core.Transfer
}

func (s *Server) getBalances(ctx context.Context, householdID, userID string) ([]core.PairBalance, error) {
	rows, found := s.balancesCache.Get(householdID)
	if !found {
		shares, err := s.store.ListShareDebts(ctx, householdID)
		if err != nil {
			return nil, fmt.Errorf("list share debts (household=%s): %w", householdID, err)
		}
		transfers, err := s.store.ListTransfers(ctx, householdID)
		if err != nil {
			return nil, fmt.Errorf("list transfers (household=%s): %w", householdID, err)
		}
		rows = balanceRows{shares: shares, transfers: transfers}
		s.balancesCache.Set(householdID, rows)
	}

	return core.NetBalances(userID, rows.shares, rows.transfers), nil
}
