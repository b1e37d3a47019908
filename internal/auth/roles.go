package auth

import "fmt"

// Scope is the level a role is granted at.
type Scope string

const (
	ScopeOrganization Scope = "organization"
	ScopeProject      Scope = "project"
)

// Role names a membership role. Organization and project roles are disjoint.
type Role string

// Organization roles
const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Project roles
const (
	RoleProjectOwner  Role = "project_owner"
	RoleProjectAdmin  Role = "project_admin"
	RoleProjectMember Role = "project_member"
	RoleViewer        Role = "viewer"
)

var scopeRoles = map[Scope][]Role{
	ScopeOrganization: {RoleOwner, RoleAdmin, RoleMember},
	ScopeProject:      {RoleProjectOwner, RoleProjectAdmin, RoleProjectMember, RoleViewer},
}

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	scope := Scope(s)
	if _, ok := scopeRoles[scope]; !ok {
		return "", fmt.Errorf("unknown scope %q", s)
	}
	return scope, nil
}

// Roles returns the roles that exist in this scope.
func (s Scope) Roles() []Role {
	return append([]Role(nil), scopeRoles[s]...)
}

// Has reports whether role belongs to this scope.
func (s Scope) Has(role Role) bool {
	for _, r := range scopeRoles[s] {
		if r == role {
			return true
		}
	}
	return false
}

// ParseRole validates role against scope.
func ParseRole(scope Scope, role string) (Role, error) {
	r := Role(role)
	if !scope.Has(r) {
		return "", fmt.Errorf("role %q is not valid in scope %q", role, scope)
	}
	return r, nil
}

func (r Role) String() string { return string(r) }
