package middleware

import (
	"fmt"
	"log"
	"net/http"
	"slices"

	"github.com/orbitplan/orbitapi/internal/auth"
)

// RequirePermission admits the request when the role held at scope grants
// action. Routes that do not mount it are not checked.
func (g *Guards) RequirePermission(scope auth.Scope, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := auth.RequestContextFrom(r.Context())
			if !ok {
				g.reject(w, r, GuardPermission, http.StatusForbidden, CodeOrganizationRequired, msgOrganizationRequired)
				return
			}

			role := rc.RoleAt(scope)
			if role == "" {
				code, msg := CodeOrganizationRequired, msgOrganizationRequired
				if scope == auth.ScopeProject {
					code, msg = CodeProjectUnresolved, msgProjectUnresolved
				}
				g.reject(w, r, GuardPermission, http.StatusForbidden, code, msg)
				return
			}

			if !g.IAM.HasPermission(scope, role, action) {
				log.Printf("authorization denied: user %s role %s:%s lacks %s", rc.ActingUserID, scope, role, action)
				g.reject(w, r, GuardPermission, http.StatusForbidden, CodePermissionDenied, fmt.Sprintf("permission denied: %s", action))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles admits the request when the resolved project role, or the
// organization role when no project is resolved, is one of roles.
func (g *Guards) RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := auth.RequestContextFrom(r.Context())
			if !ok {
				g.reject(w, r, GuardRoles, http.StatusForbidden, CodeOrganizationRequired, msgOrganizationRequired)
				return
			}

			role := rc.RoleAt(auth.ScopeProject)
			if role == "" {
				role = rc.RoleAt(auth.ScopeOrganization)
			}
			if role == "" || !slices.Contains(roles, role) {
				g.reject(w, r, GuardRoles, http.StatusForbidden, CodeForbidden, "insufficient role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireFeature admits the request when expr, a go-bexpr expression such
// as `boards_enabled == true`, matches the organization's feature flags.
// It panics on an expression that does not compile.
func (g *Guards) RequireFeature(expr string) func(http.Handler) http.Handler {
	if err := auth.ValidateFeatureExpr(expr); err != nil {
		panic(fmt.Sprintf("middleware: invalid feature expression %q: %v", expr, err))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := auth.RequestContextFrom(r.Context())
			if !ok || !auth.EvaluateFeature(expr, rc.Flags) {
				g.reject(w, r, GuardFeature, http.StatusForbidden, CodeFeatureDisabled, "feature not enabled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
