package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hossam-create/mnbara-trustplane/pkg/api"
	"github.com/hossam-create/mnbara-trustplane/pkg/audit"
	"github.com/hossam-create/mnbara-trustplane/pkg/auth"
	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
	"github.com/hossam-create/mnbara-trustplane/pkg/rbac"
)

// handleAuditQuery serves GET /api/v1/audit. Reading the trail is itself
// a guarded module; only roles granted audit_trail may query. Passing
// verify=true runs chain verification over the selected range first.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	ctx := r.Context()

	principal, err := auth.GetPrincipal(ctx)
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	if err := s.matrix.AssertAccess(principal.GetID(), principal.GetRoles(), rbac.ModuleAuditTrail); err != nil {
		writeFault(w, err)
		return
	}

	q := r.URL.Query()
	filter := audit.QueryFilter{
		Action: q.Get("action"),
		Actor:  q.Get("actor"),
		Target: q.Get("target"),
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			api.WriteBadRequest(w, "success must be a boolean")
			return
		}
		filter.Success = &b
	}
	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.WriteBadRequest(w, "start_time must be RFC 3339")
			return
		}
		filter.StartTime = &t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.WriteBadRequest(w, "end_time must be RFC 3339")
			return
		}
		filter.EndTime = &t
	}
	if v := q.Get("start_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			api.WriteBadRequest(w, "start_seq must be an unsigned integer")
			return
		}
		filter.StartSeq = n
	}
	if v := q.Get("end_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			api.WriteBadRequest(w, "end_seq must be an unsigned integer")
			return
		}
		filter.EndSeq = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			api.WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			api.WriteBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	verified := false
	if v := q.Get("verify"); v != "" {
		ok, _ := strconv.ParseBool(v)
		if ok {
			if err := s.trail.VerifyChain(ctx, filter.StartSeq, filter.EndSeq); err != nil {
				var broken *fault.ChainBrokenError
				if errors.As(err, &broken) {
					api.WriteError(w, http.StatusInternalServerError, "Audit Chain Broken", broken.Error())
					return
				}
				api.WriteInternal(w, err)
				return
			}
			verified = true
		}
	}

	entries, err := s.trail.Query(ctx, filter)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"entries":  entries,
		"count":    len(entries),
		"verified": verified,
	})
}
