// Package admin orchestrates privileged actions against the escrow and
// identity planes. Every action flows through the same pipeline: validate,
// authorize, dual-control gate, execute, audit.
package admin

import (
	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
	"github.com/hossam-create/mnbara-trustplane/pkg/rbac"
)

// ActionType enumerates the privileged operations an administrator can request.
type ActionType string

const (
	ActionHold          ActionType = "hold"
	ActionUnhold        ActionType = "unhold"
	ActionRelease       ActionType = "release"
	ActionPartialRefund ActionType = "partial_refund"
	ActionFullRefund    ActionType = "full_refund"
	ActionBanUser       ActionType = "ban_user"
)

// Action is a request for one privileged operation. Which fields matter
// depends on Type; Validate enforces the per-type requirements.
type Action struct {
	Type        ActionType `json:"type"`
	IntentID    string     `json:"intentId,omitempty"`
	UserID      string     `json:"userId,omitempty"`
	AmountMinor int64      `json:"amountMinor,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Validate checks the action's shape before any side effect happens.
func (a Action) Validate() error {
	switch a.Type {
	case ActionHold:
		if a.IntentID == "" {
			return fault.NewValidation("intentId", "is required for hold")
		}
		if a.Reason == "" {
			return fault.NewValidation("reason", "is required for hold")
		}
	case ActionUnhold:
		if a.IntentID == "" {
			return fault.NewValidation("intentId", "is required for unhold")
		}
	case ActionRelease:
		if a.IntentID == "" {
			return fault.NewValidation("intentId", "is required for release")
		}
	case ActionPartialRefund:
		if a.IntentID == "" {
			return fault.NewValidation("intentId", "is required for partial_refund")
		}
		if a.AmountMinor <= 0 {
			return fault.NewValidation("amountMinor", "must be positive for partial_refund")
		}
	case ActionFullRefund:
		if a.IntentID == "" {
			return fault.NewValidation("intentId", "is required for full_refund")
		}
		if a.Reason == "" {
			return fault.NewValidation("reason", "is required for full_refund")
		}
	case ActionBanUser:
		if a.UserID == "" {
			return fault.NewValidation("userId", "is required for ban_user")
		}
		if a.Reason == "" {
			return fault.NewValidation("reason", "is required for ban_user")
		}
	default:
		return fault.NewValidation("type", "unknown action type")
	}
	return nil
}

// Module maps the action to the access-control module that guards it.
func (a Action) Module() rbac.Module {
	switch a.Type {
	case ActionHold, ActionUnhold, ActionRelease:
		return rbac.ModuleEscrow
	case ActionPartialRefund, ActionFullRefund:
		return rbac.ModulePayments
	case ActionBanUser:
		return rbac.ModuleIdentity
	default:
		return rbac.ModuleEscrow
	}
}

// SecuritySensitive reports whether the action demands dual control
// regardless of the money it moves. Banning an account is irreversible
// from the customer's perspective and never threshold-exempt.
func (a Action) SecuritySensitive() bool {
	return a.Type == ActionBanUser
}

// Target is the audit-trail identifier the action operates on.
func (a Action) Target() string {
	if a.Type == ActionBanUser {
		return a.UserID
	}
	return a.IntentID
}
