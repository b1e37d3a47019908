package auth

import (
	"context"
	"slices"
)

// Principal captures the authenticated caller propagated through the request context.
type Principal struct {
	// UserID references users.id.
	UserID string
	// Email is the address carried by the token.
	Email string
	// Role is the legacy global role stored on the user row ("user", "admin", ...).
	Role string
	// Scheme records which verifier accepted the token.
	Scheme Scheme
	// Trusted marks internal service accounts that may run without RLS tagging.
	Trusted bool
}

// Membership is a resolved (id, role) pair at one scope.
type Membership struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// RequestContext is the tenant context resolved for one request.
//
// Organization and Project are nil when unresolved. Permissions, Limits and
// Flags are never nil. RealUserID is the authenticated caller; ActingUserID
// differs from it only while impersonating.
type RequestContext struct {
	Organization *Membership    `json:"organization"`
	Project      *Membership    `json:"project"`
	Permissions  []string       `json:"permissions"`
	Limits       map[string]any `json:"limits"`
	Flags        map[string]any `json:"flags"`
	RealUserID   string         `json:"real_user_id"`
	ActingUserID string         `json:"acting_user_id"`
}

// Impersonating reports whether the acting user differs from the caller.
func (c *RequestContext) Impersonating() bool {
	return c != nil && c.ActingUserID != "" && c.ActingUserID != c.RealUserID
}

// Can reports whether the resolved permission set contains action.
func (c *RequestContext) Can(action string) bool {
	return c != nil && slices.Contains(c.Permissions, action)
}

// RoleAt returns the role held at scope, or "" when that scope is unresolved.
func (c *RequestContext) RoleAt(scope Scope) Role {
	if c == nil {
		return ""
	}
	switch scope {
	case ScopeOrganization:
		if c.Organization != nil {
			return c.Organization.Role
		}
	case ScopeProject:
		if c.Project != nil {
			return c.Project.Role
		}
	}
	return ""
}

type principalContextKey struct{}

// SetPrincipal stores the authenticated principal on the context.
func SetPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext retrieves the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

type requestContextKey struct{}

// SetRequestContext stores the resolved tenant context on the context.
func SetRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom retrieves the resolved tenant context.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}
