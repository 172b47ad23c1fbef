package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hossam-create/mnbara-trustplane/pkg/approval"
	"github.com/hossam-create/mnbara-trustplane/pkg/audit"
	"github.com/hossam-create/mnbara-trustplane/pkg/escrow"
	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
	"github.com/hossam-create/mnbara-trustplane/pkg/rbac"
	"github.com/hossam-create/mnbara-trustplane/pkg/users"
)

// Orchestrator runs every privileged action through the same pipeline:
// shape validation, module authorization, dual-control gating, execution,
// audit. The audit step records denials and failures as faithfully as
// successes.
type Orchestrator struct {
	matrix    rbac.Matrix
	machine   *escrow.Machine
	intents   escrow.Store
	directory users.Directory
	approvals approval.Store
	policy    approval.Policy
	trail     audit.Logger
	logger    *slog.Logger
}

// NewOrchestrator wires the admin pipeline.
func NewOrchestrator(
	matrix rbac.Matrix,
	machine *escrow.Machine,
	intents escrow.Store,
	directory users.Directory,
	approvals approval.Store,
	policy approval.Policy,
	trail audit.Logger,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		matrix:    matrix,
		machine:   machine,
		intents:   intents,
		directory: directory,
		approvals: approvals,
		policy:    policy,
		trail:     trail,
		logger:    logger,
	}
}

// Result is what a completed action returns to the caller.
type Result struct {
	Action Action         `json:"action"`
	Intent *escrow.Intent `json:"intent,omitempty"`
	User   *users.Profile `json:"user,omitempty"`
}

// Execute runs one administrative action on behalf of actor. It returns
// PendingApprovalError when the action is parked for a second approver.
func (o *Orchestrator) Execute(ctx context.Context, actor string, roles []rbac.Role, action Action) (*Result, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}

	module := action.Module()
	if err := o.matrix.AssertAccess(actor, roles, module); err != nil {
		o.record(ctx, actor, action, false, err)
		return nil, err
	}

	if err := o.gateDualControl(ctx, actor, action, module); err != nil {
		return nil, err
	}

	result, err := o.invoke(ctx, actor, action)
	o.record(ctx, actor, action, err == nil, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Approve records a second administrator's consent to a parked action.
// The approver must be distinct from the requester and must themselves
// hold access to the action's module.
func (o *Orchestrator) Approve(ctx context.Context, approver string, roles []rbac.Role, fingerprint string) (*approval.Record, error) {
	rec, err := o.approvals.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return nil, fault.NewValidation("fingerprint", "no pending approval matches")
		}
		return nil, err
	}
	if rec.RequestedBy == approver {
		return nil, fault.NewValidation("approver", "requester cannot approve their own action")
	}
	if err := o.matrix.AssertAccess(approver, roles, rbac.Module(rec.Module)); err != nil {
		o.trailAppend(ctx, actorRecord(approver, "admin.approval_granted", rec.Fingerprint, false, err, rec))
		return nil, err
	}

	now := time.Now().UTC()
	rec.ApprovedBy = approver
	rec.ApprovedAt = &now
	if err := o.approvals.Put(ctx, rec); err != nil {
		return nil, err
	}
	o.trailAppend(ctx, actorRecord(approver, "admin.approval_granted", rec.Fingerprint, true, nil, rec))
	return rec, nil
}

// PendingApprovals lists actions still waiting for a second approver.
func (o *Orchestrator) PendingApprovals(ctx context.Context) ([]*approval.Record, error) {
	return o.approvals.List(ctx)
}

// gateDualControl parks qualifying actions until a distinct approver has
// signed off, then consumes the approval so it cannot authorize twice.
func (o *Orchestrator) gateDualControl(ctx context.Context, actor string, action Action, module rbac.Module) error {
	amount, err := o.monetaryAmount(ctx, action)
	if err != nil {
		return err
	}
	if !o.policy.Requires(amount) && !action.SecuritySensitive() {
		return nil
	}

	fp, err := approval.Fingerprint(action)
	if err != nil {
		return fmt.Errorf("fingerprint action: %w", err)
	}

	rec, err := o.approvals.Get(ctx, fp)
	if errors.Is(err, approval.ErrNotFound) {
		rec = &approval.Record{
			Fingerprint: fp,
			Module:      string(module),
			RequestedBy: actor,
			RequestedAt: time.Now().UTC(),
			Summary:     summarize(action, amount),
		}
		if err := o.approvals.Put(ctx, rec); err != nil {
			return err
		}
		o.trailAppend(ctx, actorRecord(actor, "admin.approval_requested", action.Target(), true, nil, rec))
		return &fault.PendingApprovalError{Fingerprint: fp, Actor: actor, Reason: "requires a second approver"}
	}
	if err != nil {
		return err
	}

	if !rec.Approved() || rec.ApprovedBy == actor {
		pending := &fault.PendingApprovalError{Fingerprint: fp, Actor: actor, Reason: "awaiting a distinct approver"}
		o.record(ctx, actor, action, false, pending)
		return pending
	}

	rec.Consumed = true
	if err := o.approvals.Put(ctx, rec); err != nil {
		return err
	}
	return nil
}

// monetaryAmount resolves how much money the action would move, for the
// dual-control threshold. Resolution happens against current state so a
// release of an already-partially-refunded intent is gauged at its
// remaining balance.
func (o *Orchestrator) monetaryAmount(ctx context.Context, action Action) (int64, error) {
	switch action.Type {
	case ActionPartialRefund:
		return action.AmountMinor, nil
	case ActionRelease, ActionFullRefund:
		intent, err := o.intents.Get(ctx, action.IntentID)
		if err != nil {
			return 0, err
		}
		return intent.RemainingMinor(), nil
	default:
		return 0, nil
	}
}

func (o *Orchestrator) invoke(ctx context.Context, actor string, action Action) (*Result, error) {
	res := &Result{Action: action}
	var err error
	switch action.Type {
	case ActionHold:
		res.Intent, err = o.machine.Hold(ctx, action.IntentID, action.Reason)
	case ActionUnhold:
		res.Intent, err = o.machine.Unhold(ctx, action.IntentID)
	case ActionRelease:
		res.Intent, err = o.machine.Release(ctx, action.IntentID, actor)
	case ActionPartialRefund:
		res.Intent, err = o.machine.PartialRefund(ctx, action.IntentID, actor, action.AmountMinor)
	case ActionFullRefund:
		res.Intent, err = o.machine.FullRefund(ctx, action.IntentID, actor, action.Reason)
	case ActionBanUser:
		res.User, err = o.directory.Ban(ctx, action.UserID, action.Reason)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) record(ctx context.Context, actor string, action Action, success bool, opErr error) {
	rec := audit.Record{
		Actor:   actor,
		Action:  "admin." + string(action.Type),
		Target:  action.Target(),
		Success: success,
		Payload: action,
	}
	if opErr != nil {
		rec.Error = opErr.Error()
	}
	o.trailAppend(ctx, rec)
}

func (o *Orchestrator) trailAppend(ctx context.Context, rec audit.Record) {
	if _, err := o.trail.Append(ctx, rec); err != nil {
		// The trail is the system of record; a failed append is loud.
		o.logger.Error("audit append failed",
			slog.String("action", rec.Action),
			slog.String("target", rec.Target),
			slog.String("error", err.Error()))
	}
}

func summarize(action Action, amount int64) string {
	if amount > 0 {
		return fmt.Sprintf("%s on %s (%d minor units)", action.Type, action.Target(), amount)
	}
	return fmt.Sprintf("%s on %s", action.Type, action.Target())
}

func actorRecord(actor, action, target string, success bool, opErr error, payload any) audit.Record {
	rec := audit.Record{Actor: actor, Action: action, Target: target, Success: success, Payload: payload}
	if opErr != nil {
		rec.Error = opErr.Error()
	}
	return rec
}
