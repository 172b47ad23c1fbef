package admin_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hossam-create/mnbara-trustplane/pkg/admin"
	"github.com/hossam-create/mnbara-trustplane/pkg/approval"
	"github.com/hossam-create/mnbara-trustplane/pkg/audit"
	"github.com/hossam-create/mnbara-trustplane/pkg/escrow"
	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
	"github.com/hossam-create/mnbara-trustplane/pkg/gateway"
	"github.com/hossam-create/mnbara-trustplane/pkg/rbac"
	"github.com/hossam-create/mnbara-trustplane/pkg/users"
)

type fixture struct {
	orch    *admin.Orchestrator
	machine *escrow.Machine
	store   *escrow.MemoryStore
	dir     *users.MemoryDirectory
	trail   *audit.MemoryLog
	gw      *gateway.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := escrow.NewMemoryStore()
	gw := gateway.NewFake()
	machine := escrow.NewMachine(store, gw)
	dir := users.NewMemoryDirectory()
	trail := audit.NewMemoryLog()
	orch := admin.NewOrchestrator(
		rbac.DefaultMatrix(),
		machine,
		store,
		dir,
		approval.NewMemoryStore(),
		approval.DefaultPolicy(),
		trail,
		slog.Default(),
	)
	return &fixture{orch: orch, machine: machine, store: store, dir: dir, trail: trail, gw: gw}
}

func (f *fixture) secured(t *testing.T, amountMinor int64) *escrow.Intent {
	t.Helper()
	ctx := context.Background()
	intent, err := f.machine.Create(ctx, escrow.CreateParams{
		AmountMinor:   amountMinor,
		Currency:      "EGP",
		CustomerID:    "cust_1",
		OrderID:       "order_1",
		PaymentMethod: "card_visa",
	})
	require.NoError(t, err)
	intent, err = f.machine.ConfirmCapture(ctx, intent.GatewayRef)
	require.NoError(t, err)
	return intent
}

func (f *fixture) lastEntry(t *testing.T) *audit.Entry {
	t.Helper()
	entries, err := f.trail.Query(context.Background(), audit.QueryFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}

func TestActionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roles := []rbac.Role{rbac.RoleFinanceController}

	cases := []admin.Action{
		{Type: admin.ActionHold, IntentID: "int_1"},                    // missing reason
		{Type: admin.ActionRelease},                                    // missing intent
		{Type: admin.ActionPartialRefund, IntentID: "int_1"},           // missing amount
		{Type: admin.ActionPartialRefund, IntentID: "i", AmountMinor: -5},
		{Type: admin.ActionFullRefund, IntentID: "int_1"},              // missing reason
		{Type: admin.ActionBanUser, Reason: "fraud"},                   // missing user
		{Type: "self_destruct", IntentID: "int_1"},
	}
	for _, a := range cases {
		_, err := f.orch.Execute(ctx, "admin_1", roles, a)
		assert.True(t, fault.IsValidation(err), "action %+v", a)
	}
}

func TestAccessDeniedIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Operations leads run escrow and payments; identity is out of reach.
	_, err := f.orch.Execute(ctx, "ops_1", []rbac.Role{rbac.RoleOperationsLead}, admin.Action{
		Type:   admin.ActionBanUser,
		UserID: "user_9",
		Reason: "chargeback ring",
	})
	require.True(t, fault.IsAccessDenied(err))

	entry := f.lastEntry(t)
	assert.Equal(t, "admin.ban_user", entry.Action)
	assert.Equal(t, "user_9", entry.Target)
	assert.Equal(t, "ops_1", entry.Actor)
	assert.False(t, entry.Success)
	assert.NotEmpty(t, entry.Error)
}

func TestReleaseBelowThresholdExecutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.secured(t, 10000)

	res, err := f.orch.Execute(ctx, "fin_1", []rbac.Role{rbac.RoleFinanceController}, admin.Action{
		Type:     admin.ActionRelease,
		IntentID: intent.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, res.Intent.Status)

	entry := f.lastEntry(t)
	assert.Equal(t, "admin.release", entry.Action)
	assert.True(t, entry.Success)
}

func TestBanUserRequiresDualControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dir.Put(&users.Profile{ID: "user_9", LegalName: "Ahmed Hassan", Status: users.StatusVerified})
	roles := []rbac.Role{rbac.RoleSecurityOfficer}
	action := admin.Action{
		Type:   admin.ActionBanUser,
		UserID: "user_9",
		Reason: "confirmed fraud",
	}

	// Bans move no money but are never threshold-exempt.
	_, err := f.orch.Execute(ctx, "sec_1", roles, action)
	var pending *fault.PendingApprovalError
	require.ErrorAs(t, err, &pending)

	profile, err := f.dir.Get(ctx, "user_9")
	require.NoError(t, err)
	assert.Equal(t, users.StatusVerified, profile.Status)

	_, err = f.orch.Approve(ctx, "sec_2", roles, pending.Fingerprint)
	require.NoError(t, err)

	res, err := f.orch.Execute(ctx, "sec_1", roles, action)
	require.NoError(t, err)
	assert.Equal(t, users.StatusBanned, res.User.Status)
	assert.Equal(t, "confirmed fraud", res.User.BanReason)
}

func TestDualControlParksLargeRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.secured(t, approval.DefaultThresholdMinor+100)
	roles := []rbac.Role{rbac.RoleFinanceController}
	action := admin.Action{Type: admin.ActionRelease, IntentID: intent.ID}

	_, err := f.orch.Execute(ctx, "fin_1", roles, action)
	var pending *fault.PendingApprovalError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, "fin_1", pending.Actor)
	assert.NotEmpty(t, pending.Fingerprint)

	// The park is itself on the trail, and no gateway call happened.
	entry := f.lastEntry(t)
	assert.Equal(t, "admin.approval_requested", entry.Action)
	assert.Equal(t, 0, f.gw.CallCount("capture:"))

	// Same requester retrying stays parked, and the retry itself lands
	// on the trail as an unsuccessful attempt.
	_, err = f.orch.Execute(ctx, "fin_1", roles, action)
	assert.True(t, fault.IsPendingApproval(err))
	entry = f.lastEntry(t)
	assert.Equal(t, "admin.release", entry.Action)
	assert.False(t, entry.Success)
	assert.Contains(t, entry.Error, "awaiting a distinct approver")

	// Requester cannot approve their own action.
	_, err = f.orch.Approve(ctx, "fin_1", roles, pending.Fingerprint)
	assert.True(t, fault.IsValidation(err))

	// A distinct finance controller signs off, then execution proceeds.
	_, err = f.orch.Approve(ctx, "fin_2", roles, pending.Fingerprint)
	require.NoError(t, err)

	res, err := f.orch.Execute(ctx, "fin_1", roles, action)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, res.Intent.Status)
	assert.Equal(t, 1, f.gw.CallCount("capture:"))
}

func TestApproverNeedsModuleAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.secured(t, approval.DefaultThresholdMinor+100)
	action := admin.Action{Type: admin.ActionRelease, IntentID: intent.ID}

	_, err := f.orch.Execute(ctx, "fin_1", []rbac.Role{rbac.RoleFinanceController}, action)
	var pending *fault.PendingApprovalError
	require.ErrorAs(t, err, &pending)

	// An SRE is distinct but holds no escrow access.
	_, err = f.orch.Approve(ctx, "sre_1", []rbac.Role{rbac.RoleSRE}, pending.Fingerprint)
	assert.True(t, fault.IsAccessDenied(err))
}

func TestSmallPartialRefundSkipsDualControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.secured(t, approval.DefaultThresholdMinor*2)

	// The refund amount, not the intent size, is what is gauged.
	res, err := f.orch.Execute(ctx, "fin_1", []rbac.Role{rbac.RoleFinanceController}, admin.Action{
		Type:        admin.ActionPartialRefund,
		IntentID:    intent.ID,
		AmountMinor: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusPartiallyRefunded, res.Intent.Status)
}

func TestInvalidTransitionIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.secured(t, 10000)
	roles := []rbac.Role{rbac.RoleFinanceController}

	_, err := f.orch.Execute(ctx, "fin_1", roles, admin.Action{Type: admin.ActionRelease, IntentID: intent.ID})
	require.NoError(t, err)

	// A refund against the released intent fails and the failure lands on
	// the trail verbatim.
	_, err = f.orch.Execute(ctx, "fin_1", roles, admin.Action{
		Type:     admin.ActionFullRefund,
		IntentID: intent.ID,
		Reason:   "too late",
	})
	require.True(t, fault.IsInvalidTransition(err))

	entry := f.lastEntry(t)
	assert.Equal(t, "admin.full_refund", entry.Action)
	assert.False(t, entry.Success)
}

func TestPendingApprovalsListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.secured(t, approval.DefaultThresholdMinor+100)

	_, err := f.orch.Execute(ctx, "fin_1", []rbac.Role{rbac.RoleFinanceController}, admin.Action{
		Type:     admin.ActionRelease,
		IntentID: intent.ID,
	})
	require.True(t, fault.IsPendingApproval(err))

	pending, err := f.orch.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "fin_1", pending[0].RequestedBy)
	assert.Equal(t, string(rbac.ModuleEscrow), pending[0].Module)
}
