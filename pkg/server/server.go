// Package server is the HTTP surface of the trust-and-payments control
// plane. It exposes intent creation behind the fraud gate, the admin
// action and approval endpoints, the processor webhook, and the audit
// query surface.
package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/hossam-create/mnbara-trustplane/pkg/admin"
	"github.com/hossam-create/mnbara-trustplane/pkg/api"
	"github.com/hossam-create/mnbara-trustplane/pkg/audit"
	"github.com/hossam-create/mnbara-trustplane/pkg/auth"
	"github.com/hossam-create/mnbara-trustplane/pkg/escrow"
	"github.com/hossam-create/mnbara-trustplane/pkg/rbac"
	"github.com/hossam-create/mnbara-trustplane/pkg/users"
)

// SignatureVerifier checks a webhook body against its HMAC signature.
type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// Server holds the wired subsystems behind the HTTP handlers.
type Server struct {
	machine   *escrow.Machine
	intents   escrow.Store
	orch      *admin.Orchestrator
	directory users.Directory
	trail     audit.Logger
	matrix    rbac.Matrix
	verifier  SignatureVerifier
	logger    *slog.Logger

	// Webhook replay guard keyed by event id.
	seenMu sync.Mutex
	seen   map[string]struct{}
}

// Config carries the server's collaborators.
type Config struct {
	Machine   *escrow.Machine
	Intents   escrow.Store
	Orch      *admin.Orchestrator
	Directory users.Directory
	Trail     audit.Logger
	Matrix    rbac.Matrix
	Verifier  SignatureVerifier
	Logger    *slog.Logger
}

// New builds a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		machine:   cfg.Machine,
		intents:   cfg.Intents,
		orch:      cfg.Orch,
		directory: cfg.Directory,
		trail:     cfg.Trail,
		matrix:    cfg.Matrix,
		verifier:  cfg.Verifier,
		logger:    logger,
		seen:      make(map[string]struct{}),
	}
}

// Routes registers all endpoints on a fresh mux. Authentication and the
// outer middleware chain are layered on by Handler; Routes stays raw so
// tests can exercise handlers with a pre-set principal.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/intents", s.handleIntents)
	mux.HandleFunc("/api/v1/intents/", s.handleIntentByID)
	mux.HandleFunc("/api/v1/admin/actions", s.handleAdminActions)
	mux.HandleFunc("/api/v1/admin/approvals", s.handleApprovals)
	mux.HandleFunc("/api/v1/webhooks/gateway", s.handleWebhook)
	mux.HandleFunc("/api/v1/audit", s.handleAuditQuery)

	return mux
}

// MiddlewareConfig carries the pieces of the outer chain.
type MiddlewareConfig struct {
	Validator   *auth.JWTValidator
	Idempotency api.IdempotencyStorer
	Limiter     auth.LimiterStore
	LimitPolicy auth.LimitPolicy
	IPLimiter   *api.GlobalRateLimiter
	CORSOrigins []string
}

// Handler wraps the routes in the production middleware chain:
// request id, CORS, per-IP limiting, auth, per-actor limiting,
// idempotent replay.
func (s *Server) Handler(mw MiddlewareConfig) http.Handler {
	var h http.Handler = s.Routes()

	if mw.Idempotency != nil {
		h = api.IdempotencyMiddleware(mw.Idempotency)(h)
	}
	if mw.Limiter != nil {
		h = auth.RateLimitMiddleware(mw.Limiter, mw.LimitPolicy)(h)
	}
	h = auth.NewMiddleware(mw.Validator)(h)
	if mw.IPLimiter != nil {
		h = mw.IPLimiter.Middleware(h)
	}
	h = auth.CORSMiddleware(mw.CORSOrigins)(h)
	h = auth.RequestIDMiddleware(h)

	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// markSeen records a webhook event id; false means it was already seen.
func (s *Server) markSeen(eventID string) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if _, dup := s.seen[eventID]; dup {
		return false
	}
	s.seen[eventID] = struct{}{}
	return true
}
