package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/hossam-create/mnbara-trustplane/pkg/api"
	"github.com/hossam-create/mnbara-trustplane/pkg/audit"
	"github.com/hossam-create/mnbara-trustplane/pkg/escrow"
	"github.com/hossam-create/mnbara-trustplane/pkg/fraud"
	"github.com/hossam-create/mnbara-trustplane/pkg/users"
)

// createIntentRequest is the POST /api/v1/intents body.
type createIntentRequest struct {
	AmountMinor   int64             `json:"amount_minor"`
	Currency      string            `json:"currency"`
	CustomerID    string            `json:"customer_id"`
	OrderID       string            `json:"order_id"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	Signals struct {
		IP                string `json:"ip"`
		DeviceFingerprint string `json:"device_fingerprint"`
		UserAgent         string `json:"user_agent"`
		ClaimedName       string `json:"claimed_name"`
		RiskScore         int    `json:"risk_score"`
	} `json:"signals"`
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	sig := fraud.Signals{
		IP:                req.Signals.IP,
		DeviceFingerprint: req.Signals.DeviceFingerprint,
		UserAgent:         req.Signals.UserAgent,
		ClaimedName:       req.Signals.ClaimedName,
		RiskScore:         req.Signals.RiskScore,
	}
	// Transport-level signals come from the request itself when the
	// client did not echo them in the body.
	if sig.IP == "" {
		sig.IP = clientIP(r)
	}
	if sig.DeviceFingerprint == "" {
		sig.DeviceFingerprint = r.Header.Get("X-Device-Fingerprint")
	}
	if sig.UserAgent == "" {
		sig.UserAgent = r.UserAgent()
	}

	// The counterparty profile feeds the evaluator. An unknown customer
	// evaluates with the UNKNOWN sentinel status, which routes to
	// manual review.
	if profile, err := s.directory.Get(ctx, req.CustomerID); err == nil {
		sig.VerifiedName = profile.LegalName
		sig.CounterpartyStatus = profile.Status
		sig.CounterpartyBanReason = profile.BanReason
		sig.FlaggedByRiskFeed = profile.FlaggedByRiskFeed
	} else if errors.Is(err, users.ErrNotFound) {
		sig.CounterpartyStatus = fraud.StatusUnknown
	} else {
		api.WriteInternal(w, err)
		return
	}

	decision := fraud.Evaluate(sig)
	s.auditDecision(ctx, req, decision)

	switch decision.Allowance {
	case fraud.Block:
		api.WriteForbidden(w, "Payment blocked: "+strings.Join(decision.Reasons, "; "))
		return
	case fraud.ManualReview:
		api.WritePreconditionFailed(w, "Payment requires manual review: "+strings.Join(decision.Reasons, "; "))
		return
	}

	intent, err := s.machine.Create(ctx, escrow.CreateParams{
		AmountMinor:   req.AmountMinor,
		Currency:      req.Currency,
		CustomerID:    req.CustomerID,
		OrderID:       req.OrderID,
		PaymentMethod: req.PaymentMethod,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeFault(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(intent)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleIntentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/intents/")
	if id == "" || strings.Contains(id, "/") {
		api.WriteNotFound(w, "Unknown intent path")
		return
	}

	intent, err := s.intents.Get(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(intent)
}

// auditDecision writes the fraud gate outcome to the trail. Every
// decision lands there, including allows, so reviewers can reconstruct
// why an intent passed.
func (s *Server) auditDecision(ctx context.Context, req createIntentRequest, decision fraud.Decision) {
	if _, err := s.trail.Append(ctx, audit.Record{
		Actor:   req.CustomerID,
		Action:  "fraud.evaluate",
		Target:  req.OrderID,
		Success: decision.Allowance == fraud.Allow,
		Error:   strings.Join(decision.Reasons, "; "),
		Payload: decision,
	}); err != nil {
		s.logger.Error("audit append failed", "action", "fraud.evaluate", "error", err)
	}
}
