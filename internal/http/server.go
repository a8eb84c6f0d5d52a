// Package http exposes the ledger as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/services"

	"github.com/gorilla/mux"
)

// Services are the use cases behind the API.
type Services struct {
	Ledger    *services.LedgerService
	Summary   *services.SummaryService
	Accounts  *services.AccountService
	Receipts  *services.ReceiptService
	Provision auth.Provisioner
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config tunes the listener and request limits.
type Config struct {
	Addr               string
	RateLimitPerMinute int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	Now                func() time.Time
}

// kindRateLimited only ever appears on the wire; no service returns it.
const kindRateLimited core.Kind = "rate_limit_error"

type Server struct {
	http.Server
	svc      Services
	store    Pinger
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	now      func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(cfg Config, svc Services, store Pinger, authn auth.Authenticator, logger *log.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second // receipt extraction is slow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	limits := ratelimit.DefaultConfig()
	if cfg.RateLimitPerMinute > 0 {
		limits.RequestsPerMinute = cfg.RateLimitPerMinute
	}

	s := &Server{
		Server: http.Server{
			Addr:              cfg.Addr,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		svc:      svc,
		store:    store,
		logger:   logger.WithComponent(log.ComponentHTTP),
		limiter:  ratelimit.NewLimiter(limits),
		detector: security.NewDetector(logger),
		now:      cfg.Now,
	}
	s.Handler = s.routes(authn, logger)
	return s
}

func (s *Server) routes(authn auth.Authenticator, logger *log.Logger) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, req, core.NotFound("route", req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{
			Kind: core.KindValidation, Message: http.StatusText(http.StatusMethodNotAllowed),
		}})
	})

	r.Use(
		log.Middleware(logger),
		trace.NewMiddleware(logger, s.detector.ExtractClientIP).Middleware,
		security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware,
		s.detector.Middleware,
		s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit),
	)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware(authn, s.svc.Provision, logger, s.writeError))

	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions", s.handleCreateTransaction).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", s.handleUpdateTransaction).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/transactions/{id}", s.handleDeleteTransaction).Methods(http.MethodDelete)

	api.HandleFunc("/reports/categories", s.handleCategoryReport).Methods(http.MethodGet)
	api.HandleFunc("/balance", s.handleBalance).Methods(http.MethodGet)

	api.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/reconcile", s.handleReconcile).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/deactivate", s.handleDeactivateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}", s.handleDeleteAccount).Methods(http.MethodDelete)

	api.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories", s.handleCreateCategory).Methods(http.MethodPost)
	api.HandleFunc("/categories/{id}", s.handleDeleteCategory).Methods(http.MethodDelete)

	api.HandleFunc("/receipts/scan", s.handleScanReceipt).Methods(http.MethodPost)

	return r
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
		Kind:    kindRateLimited,
		Message: "Rate limit exceeded. Please try again later.",
	}})
}

// Shutdown stops accepting requests, waits for in-flight ones and stops
// background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err.Error())
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
