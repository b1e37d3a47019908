package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/orbitplan/orbitapi/internal/services/iam"
)

// Transport carriers for the tenant selection. Headers win over cookies.
const (
	HeaderOrganizationID = "X-Org-Id"
	HeaderProjectID      = "X-Project-Id"
	HeaderImpersonate    = "X-Impersonate-User-Id"

	CookieActiveOrganization = "active_org_id"
	CookieActiveProject      = "active_project_id"

	// ProjectIDParam is the chi route parameter naming a project.
	ProjectIDParam = "projectId"
)

const (
	msgOrganizationRequired = "organization context required: select an organization"
	msgProjectUnresolved    = "project not found or not accessible"
)

// organizationHint returns the x-org-id header, else the active_org_id cookie.
func organizationHint(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderOrganizationID)); v != "" {
		return v
	}
	return cookieValue(r, CookieActiveOrganization)
}

// projectHint returns the x-project-id header, else the route parameter,
// else the active_project_id cookie.
func projectHint(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderProjectID)); v != "" {
		return v
	}
	if v := chi.URLParam(r, ProjectIDParam); v != "" {
		return v
	}
	return cookieValue(r, CookieActiveProject)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// ResolveContext builds the tenant context for the authenticated principal
// and stores it on the request context. With required set, a request whose
// organization cannot be resolved is rejected; otherwise it continues with a
// nil organization (onboarding routes).
//
// An x-impersonate-user-id header is honoured only for principals allowed
// to impersonate.
func (g *Guards) ResolveContext(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := auth.PrincipalFromContext(ctx)
			if !ok {
				g.reject(w, r, GuardOrganization, http.StatusUnauthorized, CodeUnauthenticated, "authorization required")
				return
			}

			req := iam.ContextRequest{
				UserID:         principal.UserID,
				OrganizationID: organizationHint(r),
			}

			if target := strings.TrimSpace(r.Header.Get(HeaderImpersonate)); target != "" && target != principal.UserID {
				if !g.IAM.CanImpersonate(&principal) {
					log.Printf("WARNING: user %s attempted to impersonate %s", principal.UserID, target)
					g.reject(w, r, GuardOrganization, http.StatusForbidden, CodeForbidden, "impersonation not allowed")
					return
				}
				if _, err := uuid.Parse(target); err != nil {
					g.reject(w, r, GuardOrganization, http.StatusForbidden, CodeForbidden, "impersonation target not found")
					return
				}
				req.ImpersonatedUserID = target
			}

			rc, err := g.IAM.BuildContext(ctx, req)
			if err != nil {
				if req.ImpersonatedUserID != "" && errors.Is(err, repository.ErrNotFound) {
					g.reject(w, r, GuardOrganization, http.StatusForbidden, CodeForbidden, "impersonation target not found")
					return
				}
				log.Printf("ERROR: context resolution failed for user %s: %v", principal.UserID, err)
				g.reject(w, r, GuardOrganization, http.StatusInternalServerError, CodeInternal, "internal error")
				return
			}
			if rc.Impersonating() {
				log.Printf("INFO: user %s acting as %s on %s %s", rc.RealUserID, rc.ActingUserID, r.Method, r.URL.Path)
			}

			if required && rc.Organization == nil {
				g.reject(w, r, GuardOrganization, http.StatusForbidden, CodeOrganizationRequired, msgOrganizationRequired)
				return
			}

			ctx = auth.SetRequestContext(ctx, rc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireProject resolves the project named by the request inside the
// active organization. Unknown, foreign, malformed and non-member project
// ids are rejected with the same response.
func (g *Guards) RequireProject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rc, ok := auth.RequestContextFrom(ctx)
		if !ok || rc.Organization == nil {
			g.reject(w, r, GuardProject, http.StatusForbidden, CodeOrganizationRequired, msgOrganizationRequired)
			return
		}

		projectID := projectHint(r)
		if _, err := uuid.Parse(projectID); err != nil {
			g.reject(w, r, GuardProject, http.StatusForbidden, CodeProjectUnresolved, msgProjectUnresolved)
			return
		}

		req := iam.ContextRequest{
			UserID:         rc.RealUserID,
			OrganizationID: rc.Organization.ID,
			ProjectID:      projectID,
		}
		if rc.Impersonating() {
			req.ImpersonatedUserID = rc.ActingUserID
		}

		resolved, err := g.IAM.BuildContext(ctx, req)
		if err != nil {
			log.Printf("ERROR: project resolution failed for user %s: %v", rc.ActingUserID, err)
			g.reject(w, r, GuardProject, http.StatusInternalServerError, CodeInternal, "internal error")
			return
		}
		// The organization must not have shifted between the two resolutions.
		if resolved.Organization == nil || resolved.Organization.ID != rc.Organization.ID || resolved.Project == nil {
			g.reject(w, r, GuardProject, http.StatusForbidden, CodeProjectUnresolved, msgProjectUnresolved)
			return
		}

		ctx = auth.SetRequestContext(ctx, resolved)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
