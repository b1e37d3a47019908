// Package middleware implements the per-request guard chain.
//
// Stages run in a fixed order and each one is terminal on failure:
//
//	Authenticate -> ResolveContext -> RequireProject (optional) -> RLSSession -> RequirePermission / RequireRoles
//
// Context resolution reads with elevated privileges and must therefore be
// mounted before RLSSession opens the request transaction. Permission and
// role guards only read the resolved context and may sit on either side.
package middleware

import (
	"errors"
	"log"
	"net/http"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/services/iam"
	"github.com/orbitplan/orbitapi/internal/telemetry"
)

// Guard names reported on rejection metrics.
const (
	GuardAuthenticate = "authenticate"
	GuardOrganization = "organization"
	GuardProject      = "project"
	GuardPermission   = "permission"
	GuardRoles        = "roles"
	GuardFeature      = "feature"
	GuardLegacyRole   = "legacy_role"
	GuardSession      = "session"
)

// Guards builds the guard chain stages around one IAM service.
type Guards struct {
	IAM     iam.Service
	Metrics *telemetry.AuthzMetrics
}

// NewGuards returns guards backed by svc. metrics may be nil.
func NewGuards(svc iam.Service, metrics *telemetry.AuthzMetrics) *Guards {
	return &Guards{IAM: svc, Metrics: metrics}
}

// Authenticate verifies the request credential and stores the principal on
// the request context. Requests without a valid credential never reach the
// next stage.
//
// Every verification failure is reported to the client as the same generic
// message. The detail is logged server-side only.
func (g *Guards) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		principal, err := g.IAM.AuthenticateRequest(ctx, iam.NewAuthRequest(r))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrNoCredentials):
				g.reject(w, r, GuardAuthenticate, http.StatusUnauthorized, CodeUnauthenticated, "authorization required")
			case errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, iam.ErrUnknownPrincipal),
				errors.Is(err, iam.ErrIdentityConflict):
				log.Printf("authentication failed for %s %s: %v", r.Method, r.URL.Path, err)
				g.reject(w, r, GuardAuthenticate, http.StatusUnauthorized, CodeUnauthenticated, "invalid token")
			default:
				log.Printf("ERROR: authentication error for %s %s: %v", r.Method, r.URL.Path, err)
				g.reject(w, r, GuardAuthenticate, http.StatusInternalServerError, CodeInternal, "internal error")
			}
			return
		}

		ctx = auth.SetPrincipal(ctx, *principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireLegacyRole admits principals whose stored global role is one of
// roles. It needs only Authenticate upstream.
func (g *Guards) RequireLegacyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				g.reject(w, r, GuardLegacyRole, http.StatusUnauthorized, CodeUnauthenticated, "authorization required")
				return
			}
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			g.reject(w, r, GuardLegacyRole, http.StatusForbidden, CodeForbidden, "forbidden")
		})
	}
}
