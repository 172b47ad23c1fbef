package server

import (
	"encoding/json"
	"net/http"

	"github.com/hossam-create/mnbara-trustplane/pkg/admin"
	"github.com/hossam-create/mnbara-trustplane/pkg/api"
	"github.com/hossam-create/mnbara-trustplane/pkg/auth"
)

func (s *Server) handleAdminActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var action admin.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	result, err := s.orch.Execute(r.Context(), principal.GetID(), principal.GetRoles(), action)
	if err != nil {
		writeFault(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// approveRequest is the POST /api/v1/admin/approvals body.
type approveRequest struct {
	Fingerprint string `json:"fingerprint"`
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pending, err := s.orch.PendingApprovals(r.Context())
		if err != nil {
			api.WriteInternal(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"approvals": pending})

	case http.MethodPost:
		principal, err := auth.GetPrincipal(r.Context())
		if err != nil {
			api.WriteUnauthorized(w, "")
			return
		}

		var req approveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteBadRequest(w, "Invalid request body")
			return
		}
		if req.Fingerprint == "" {
			api.WriteBadRequest(w, "fingerprint is required")
			return
		}

		rec, err := s.orch.Approve(r.Context(), principal.GetID(), principal.GetRoles(), req.Fingerprint)
		if err != nil {
			writeFault(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)

	default:
		api.WriteMethodNotAllowed(w)
	}
}
