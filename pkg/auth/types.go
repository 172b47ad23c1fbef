package auth

import (
	"github.com/hossam-create/mnbara-trustplane/pkg/rbac"
)

// Principal is any authenticated entity making a request against the
// control plane. Authorization never inspects the principal directly;
// decisions go through the rbac matrix with the principal's roles.
type Principal interface {
	GetID() string
	GetRoles() []rbac.Role
}

// BasePrincipal is the standard Principal carried in request contexts.
type BasePrincipal struct {
	ID    string
	Roles []rbac.Role
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetRoles() []rbac.Role {
	return b.Roles
}
