// Package fault defines the typed error taxonomy shared by the control plane.
// Every error that crosses a package boundary is one of these types so the
// HTTP layer can map it to a status code and the audit trail can record its
// structured detail verbatim.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed or incomplete input. Always local,
// never retried, and never produces side effects.
type ValidationError struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// NewValidation creates a ValidationError for a specific field.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AccessDeniedError carries the full actor/role/module detail so the denial
// can be logged into the audit trail without reconstruction.
type AccessDeniedError struct {
	Actor  string   `json:"actor"`
	Roles  []string `json:"roles"`
	Module string   `json:"module"`
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: actor %q with roles [%s] may not act on module %q",
		e.Actor, strings.Join(e.Roles, ", "), e.Module)
}

// PendingApprovalError signals that dual control is not yet satisfied.
// It is recoverable by a second approver, not a failure of the first.
type PendingApprovalError struct {
	Fingerprint string `json:"fingerprint"`
	Actor       string `json:"actor"`
	Reason      string `json:"reason"`
}

func (e *PendingApprovalError) Error() string {
	return fmt.Sprintf("pending approval: %s (fingerprint %s)", e.Reason, e.Fingerprint)
}

// InvalidTransitionError is the state machine rejecting a requested move.
// Fatal to that call; not retried blindly.
type InvalidTransitionError struct {
	IntentID string `json:"intent_id"`
	From     string `json:"from"`
	Op       string `json:"op"`
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed from state %q (intent %s)", e.Op, e.From, e.IntentID)
}

// UpstreamError wraps a gateway or network failure. Local state is left
// untouched; safe to retry only via the idempotency-keyed path.
type UpstreamError struct {
	Op    string `json:"op"`
	Cause error  `json:"-"`
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream failure during %s: %v", e.Op, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// ChainBrokenError is an audit integrity violation. Callers must halt and
// alert; the chain is never auto-healed.
type ChainBrokenError struct {
	Sequence uint64 `json:"sequence"`
	Detail   string `json:"detail"`
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("audit chain broken at sequence %d: %s", e.Sequence, e.Detail)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAccessDenied reports whether err is an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var ad *AccessDeniedError
	return errors.As(err, &ad)
}

// IsPendingApproval reports whether err is a PendingApprovalError.
func IsPendingApproval(err error) bool {
	var pa *PendingApprovalError
	return errors.As(err, &pa)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
