// Package auth carries the actor and tenant identity that every audited
// mutation is attributed to. The session layer that authenticates users
// lives outside this module; auth only defines the Principal contract
// and the context plumbing that binds one to a request.
package auth

// Principal is any entity performing an audited action: a user, a
// service account, or the system itself.
type Principal interface {
	GetID() string
	GetTenantID() string
	GetRoles() []string
}

// BasePrincipal is a plain value implementation of Principal.
type BasePrincipal struct {
	ID       string
	TenantID string
	Roles    []string
}

func (b *BasePrincipal) GetID() string       { return b.ID }
func (b *BasePrincipal) GetTenantID() string { return b.TenantID }
func (b *BasePrincipal) GetRoles() []string  { return b.Roles }

// PrimaryRole returns the first role carried by the principal, or ""
// when it has none. Audit events record a single optional actor role.
func PrimaryRole(p Principal) string {
	if p == nil {
		return ""
	}
	roles := p.GetRoles()
	if len(roles) == 0 {
		return ""
	}
	return roles[0]
}
