// Package rbac maps control-plane roles to the modules they may act on.
// The matrix is total and explicit: a role/module pair absent from it is
// denied. Adding a new module requires an explicit opt-in per role.
package rbac

import (
	"sort"

	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
)

// Role is an administrative identity class.
type Role string

const (
	RoleOperationsLead    Role = "OPERATIONS_LEAD"
	RoleSecurityOfficer   Role = "SECURITY_OFFICER"
	RoleFinanceController Role = "FINANCE_CONTROLLER"
	RoleComplianceOfficer Role = "COMPLIANCE_OFFICER"
	RoleSRE               Role = "SRE"
	RoleSuperAdmin        Role = "SUPER_ADMIN"
)

// Module is an area of the control plane an action targets.
type Module string

const (
	ModuleEscrow         Module = "escrow"
	ModulePayments       Module = "payments"
	ModuleIdentity       Module = "identity"
	ModuleRisk           Module = "risk"
	ModulePlatformConfig Module = "platform_config"
	ModuleFeatureFlags   Module = "feature_flags"
	ModuleAuditTrail     Module = "audit_trail"
)

// Matrix is the explicit role→module grant table.
type Matrix map[Role]map[Module]struct{}

func grants(modules ...Module) map[Module]struct{} {
	m := make(map[Module]struct{}, len(modules))
	for _, mod := range modules {
		m[mod] = struct{}{}
	}
	return m
}

// DefaultMatrix returns the production grant table.
//
// SUPER_ADMIN is deliberately capped to configuration modules. It must
// never implicitly gain money-moving modules, so a single compromised
// identity is not dual-control-equivalent.
func DefaultMatrix() Matrix {
	return Matrix{
		RoleOperationsLead:    grants(ModuleEscrow, ModulePayments),
		RoleSecurityOfficer:   grants(ModuleIdentity, ModuleRisk, ModuleAuditTrail),
		RoleFinanceController: grants(ModuleEscrow, ModulePayments, ModuleAuditTrail),
		RoleComplianceOfficer: grants(ModuleRisk, ModuleAuditTrail),
		RoleSRE:               grants(ModulePlatformConfig, ModuleFeatureFlags),
		RoleSuperAdmin:        grants(ModulePlatformConfig, ModuleFeatureFlags),
	}
}

// HasAccess reports whether any role in the caller's role set maps to the
// module. Absence of an edge means deny.
func (m Matrix) HasAccess(roles []Role, module Module) bool {
	for _, role := range roles {
		if mods, ok := m[role]; ok {
			if _, ok := mods[module]; ok {
				return true
			}
		}
	}
	return false
}

// AssertAccess returns an AccessDeniedError carrying the full actor, role
// and module detail when no role grants the module. The error is logged
// verbatim into the audit trail.
func (m Matrix) AssertAccess(actor string, roles []Role, module Module) error {
	if m.HasAccess(roles, module) {
		return nil
	}
	roleStrs := make([]string, len(roles))
	for i, r := range roles {
		roleStrs[i] = string(r)
	}
	return &fault.AccessDeniedError{Actor: actor, Roles: roleStrs, Module: string(module)}
}

// PermittedModules returns the union of modules reachable by any held
// role, sorted for stable rendering. It exists to render only-visible-
// to-you navigation and is never an authorization decision by itself;
// decisions always go through HasAccess/AssertAccess at the point of
// action.
func (m Matrix) PermittedModules(roles []Role) []Module {
	set := make(map[Module]struct{})
	for _, role := range roles {
		for mod := range m[role] {
			set[mod] = struct{}{}
		}
	}
	out := make([]Module, 0, len(set))
	for mod := range set {
		out = append(out, mod)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
