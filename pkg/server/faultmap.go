package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hossam-create/mnbara-trustplane/pkg/api"
	"github.com/hossam-create/mnbara-trustplane/pkg/approval"
	"github.com/hossam-create/mnbara-trustplane/pkg/escrow"
	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
	"github.com/hossam-create/mnbara-trustplane/pkg/users"
)

// writeFault maps domain errors to RFC 7807 responses. A parked action
// is not an error to the client; it answers 202 with the approval
// fingerprint so the second approver can be pointed at it.
func writeFault(w http.ResponseWriter, err error) {
	var pending *fault.PendingApprovalError
	if errors.As(err, &pending) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":      "pending_approval",
			"fingerprint": pending.Fingerprint,
			"reason":      pending.Reason,
		})
		return
	}

	var invalid *fault.InvalidTransitionError
	switch {
	case fault.IsValidation(err):
		api.WriteBadRequest(w, err.Error())
	case fault.IsAccessDenied(err):
		api.WriteForbidden(w, err.Error())
	case errors.As(err, &invalid):
		api.WriteConflict(w, err.Error())
	case fault.IsUpstream(err):
		api.WriteBadGateway(w, err.Error())
	case errors.Is(err, escrow.ErrNotFound), errors.Is(err, users.ErrNotFound), errors.Is(err, approval.ErrNotFound):
		api.WriteNotFound(w, err.Error())
	default:
		api.WriteInternal(w, err)
	}
}
