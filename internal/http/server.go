// Package http serves the tracker as a JSON API.
package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"budgeteer/internal/auth"
	"budgeteer/internal/backend"
	"budgeteer/internal/core"
	"budgeteer/internal/export"
	"budgeteer/internal/log"
	"budgeteer/internal/middleware/ratelimit"
	"budgeteer/internal/middleware/security"
	"budgeteer/internal/middleware/trace"
	"budgeteer/internal/services"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Tracker  *services.Tracker
	Auth     *auth.Provider
	Exporter export.Writer // nil disables ledger export
	Checks   map[string]backend.Pinger
	Logger   *log.Logger

	RateLimitPerMinute int
}

type Server struct {
	http.Server
	tracker  *services.Tracker
	auth     *auth.Provider
	exporter export.Writer
	checks   map[string]backend.Pinger
	logger   *log.Logger

	detector *security.Detector
	tracer   *trace.Middleware
	limiter  *ratelimit.Limiter
	started  time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		tracker:  deps.Tracker,
		auth:     deps.Auth,
		exporter: deps.Exporter,
		checks:   deps.Checks,
		logger:   logger,
		detector: security.NewDetector(logger),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: deps.RateLimitPerMinute,
		}),
		started: time.Now(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.Handle("GET /api/me", s.authenticated(s.handleMe))
	mux.Handle("GET /api/users/{id}", s.authenticated(s.handleGetUser))
	mux.Handle("DELETE /api/users/{id}", s.authenticated(s.handleDeleteUser))

	mux.Handle("GET /api/cards", s.authenticated(s.handleListCards))
	mux.Handle("POST /api/cards", s.authenticated(s.handleCreateCard))
	mux.Handle("GET /api/cards/{id}", s.authenticated(s.handleGetCard))
	mux.Handle("PUT /api/cards/{id}", s.authenticated(s.handleUpdateCard))
	mux.Handle("DELETE /api/cards/{id}", s.authenticated(s.handleDeleteCard))

	mux.Handle("GET /api/categories", s.authenticated(s.handleListCategories))
	mux.Handle("POST /api/categories", s.authenticated(s.handleCreateCategory))
	mux.Handle("GET /api/categories/{id}", s.authenticated(s.handleGetCategory))
	mux.Handle("PUT /api/categories/{id}", s.authenticated(s.handleUpdateCategory))
	mux.Handle("DELETE /api/categories/{id}", s.authenticated(s.handleDeleteCategory))

	mux.Handle("GET /api/budgets", s.authenticated(s.handleListBudgets))
	mux.Handle("POST /api/budgets", s.authenticated(s.handleCreateBudget))
	mux.Handle("GET /api/budgets/{id}", s.authenticated(s.handleGetBudget))
	mux.Handle("PUT /api/budgets/{id}", s.authenticated(s.handleUpdateBudget))
	mux.Handle("DELETE /api/budgets/{id}", s.authenticated(s.handleDeleteBudget))

	mux.Handle("GET /api/ledgers", s.authenticated(s.handleListLedgers))
	mux.Handle("POST /api/ledgers", s.authenticated(s.handleCreateLedger))
	mux.Handle("GET /api/ledgers/{id}", s.authenticated(s.handleGetLedger))
	mux.Handle("PUT /api/ledgers/{id}", s.authenticated(s.handleUpdateLedger))
	mux.Handle("DELETE /api/ledgers/{id}", s.authenticated(s.handleDeleteLedger))
	mux.Handle("POST /api/ledgers/{id}/export", s.authenticated(s.handleExportLedger))

	mux.Handle("GET /api/transactions", s.authenticated(s.handleListTransactions))
	mux.Handle("POST /api/transactions", s.authenticated(s.handleCreateTransaction))
	mux.Handle("GET /api/transactions/{id}", s.authenticated(s.handleGetTransaction))
	mux.Handle("PUT /api/transactions/{id}", s.authenticated(s.handleUpdateTransaction))
	mux.Handle("DELETE /api/transactions/{id}", s.authenticated(s.handleDeleteTransaction))

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, ratelimit.Mutating, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "rate_limited"})
	})

	var handler http.Handler = mux
	handler = limited(handler)
	handler = s.detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = log.RequestIDMiddleware(trace.RequestIDFromRequest)(handler)
	handler = s.tracer.Middleware(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// authenticated resolves the bearer token into a session for next.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="budgeteer"`)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token", Code: "unauthenticated"})
			return
		}
		session, err := s.auth.ParseToken(token)
		if err != nil {
			log.FromContext(r.Context()).DebugContext(r.Context(), "Rejected token", log.FieldError, err.Error())
			w.Header().Set("WWW-Authenticate", `Bearer realm="budgeteer", error="invalid_token"`)
			writeError(w, r, err)
			return
		}

		ctx := auth.WithSession(r.Context(), session)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldOwnerID, session.UserID))
		next(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// session returns the caller of an authenticated route.
func session(r *http.Request) *core.Session {
	s, _ := auth.CurrentSession(r.Context())
	return s
}
