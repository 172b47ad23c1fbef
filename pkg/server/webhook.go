package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/hossam-create/mnbara-trustplane/pkg/api"
	"github.com/hossam-create/mnbara-trustplane/pkg/audit"
	"github.com/hossam-create/mnbara-trustplane/pkg/gateway"
)

// signatureHeader carries the processor's HMAC-SHA512 over the raw body.
const signatureHeader = "X-Gateway-Signature"

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		api.WriteBadRequest(w, "Unable to read request body")
		return
	}

	// Signature check happens on the raw bytes, before parsing. A missing
	// verifier fails closed.
	if s.verifier == nil || !s.verifier.VerifySignature(body, r.Header.Get(signatureHeader)) {
		api.WriteUnauthorized(w, "Invalid webhook signature")
		return
	}

	evt, err := gateway.ParseWebhook(body)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	// Replayed deliveries acknowledge without reprocessing.
	if !s.markSeen(evt.ID) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "duplicate"})
		return
	}

	switch evt.Type {
	case gateway.EventPaymentMethodAttached:
		_, err = s.machine.AttachMethod(ctx, evt.Data.IntentReference, "gateway_attached")
	case gateway.EventPaymentCaptured:
		_, err = s.machine.ConfirmCapture(ctx, evt.Data.IntentReference)
	case gateway.EventPaymentFailed:
		// Failures do not transition state; they are recorded for review.
		err = nil
	}

	if _, auditErr := s.trail.Append(ctx, audit.Record{
		Actor:   "gateway",
		Action:  "webhook." + evt.Type,
		Target:  evt.Data.IntentReference,
		Success: err == nil,
		Error:   errString(err),
		Payload: evt.Data,
	}); auditErr != nil {
		s.logger.Error("audit append failed", "action", "webhook", "error", auditErr)
	}

	if err != nil {
		writeFault(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "processed", "event_id": evt.ID})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
