package server

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/uptrace/bun"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/config"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/middleware"
	"github.com/orbitplan/orbitapi/internal/services/iam"
	"github.com/orbitplan/orbitapi/internal/services/tenancy"
	"github.com/orbitplan/orbitapi/internal/telemetry"
)

// RouterOptions controls the construction of the orbitapi HTTP router.
type RouterOptions struct {
	IAMService    iam.Service
	Tenancy       *tenancy.Service
	DB            *bun.DB
	Tagger        bunx.Tagger
	Cfg           *config.Config
	AuthzMetrics  *telemetry.AuthzMetrics
	ServerMetrics *telemetry.ServerMetrics
	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
	ExtraRoutes   func(chi.Router)
}

// DefaultCORSOptions returns the shared development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			middleware.HeaderOrganizationID,
			middleware.HeaderProjectID,
			middleware.HeaderImpersonate,
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// requestMetrics records one sample per request against the matched route pattern.
func requestMetrics(m *telemetry.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordRequest(r.Context(), r.Method, route, strconv.Itoa(status), float64(time.Since(start).Microseconds())/1000)
		})
	}
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy and
// the guard chain in front of every tenant route.
//
// Context resolution reads through the privileged pool, so every group
// mounts ResolveContext (and RequireProject) before RLSSession opens the
// request transaction.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	if opts.ServerMetrics != nil {
		r.Use(requestMetrics(opts.ServerMetrics))
	}

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.Cfg != nil {
		r.Get("/auth/config", HandleAuthConfig(opts.Cfg))
	}

	if opts.IAMService == nil {
		log.Println("WARNING: Skipping /api and /admin routes - IAMService not available")
		return r
	}

	guards := middleware.NewGuards(opts.IAMService, opts.AuthzMetrics)

	// Admin: authenticated, legacy role gated, no request transaction so the
	// reload can read the rule table through the pool.
	r.Route("/admin", func(r chi.Router) {
		r.Use(guards.Authenticate)
		r.Use(guards.RequireLegacyRole("admin"))
		r.Post("/permissions/reload", HandleReloadPermissions(opts.IAMService))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(guards.Authenticate)
		r.Get("/auth/whoami", HandleWhoAmI())

		if opts.Tenancy == nil || opts.DB == nil {
			log.Println("WARNING: Skipping tenant routes - tenancy service or database not available")
			return
		}
		tagger := opts.Tagger
		if tagger == nil {
			tagger = bunx.NewTagger(opts.DB)
		}
		session := middleware.RLSSession(opts.DB, tagger, opts.AuthzMetrics)

		var cookies config.CookieConfig
		if opts.Cfg != nil {
			cookies = opts.Cfg.Cookies
		}
		h := NewTenancyHandlers(opts.Tenancy, opts.IAMService, cookies)

		// Organization optional: onboarding and selection.
		r.Group(func(r chi.Router) {
			r.Use(guards.ResolveContext(false))
			r.Use(session)
			r.Get("/context", HandleContext())
			r.Post("/organizations", h.CreateOrganization)
			r.Post("/organizations/switch", h.SwitchOrganization)
		})

		// Organization required.
		r.Group(func(r chi.Router) {
			r.Use(guards.ResolveContext(true))

			r.Group(func(r chi.Router) {
				r.Use(session)
				r.Post("/projects/switch", h.SwitchProject)

				r.With(guards.RequirePermission(auth.ScopeOrganization, auth.OrganizationRead)).
					Get("/organizations/members", h.ListOrganizationMembers)
				r.With(guards.RequirePermission(auth.ScopeOrganization, auth.MembersInvite)).
					Post("/organizations/members", h.AddOrganizationMember)
				r.With(guards.RequirePermission(auth.ScopeOrganization, auth.MembersUpdateRole)).
					Patch("/organizations/members/{"+UserIDParam+"}", h.UpdateOrganizationMember)
				r.With(guards.RequirePermission(auth.ScopeOrganization, auth.MembersRemove)).
					Delete("/organizations/members/{"+UserIDParam+"}", h.RemoveOrganizationMember)

				r.With(guards.RequirePermission(auth.ScopeOrganization, auth.ProjectsCreate)).
					Post("/projects", h.CreateProject)
			})

			r.Route("/projects/{"+middleware.ProjectIDParam+"}", func(r chi.Router) {
				r.Use(guards.RequireProject)
				r.Use(session)

				r.With(guards.RequirePermission(auth.ScopeProject, auth.ProjectRead)).
					Get("/", h.GetProject)
				r.With(guards.RequirePermission(auth.ScopeProject, auth.ProjectRead)).
					Get("/members", h.ListProjectMembers)
				r.With(guards.RequirePermission(auth.ScopeProject, auth.ProjectMembersInvite)).
					Post("/members", h.AddProjectMember)
				r.With(guards.RequirePermission(auth.ScopeProject, auth.ProjectMembersUpdateRole)).
					Patch("/members/{"+UserIDParam+"}", h.UpdateProjectMember)
				r.With(guards.RequirePermission(auth.ScopeProject, auth.ProjectMembersRemove)).
					Delete("/members/{"+UserIDParam+"}", h.RemoveProjectMember)

				r.With(
					guards.RequireRoles(auth.RoleProjectOwner, auth.RoleProjectAdmin, auth.RoleProjectMember),
					guards.RequireFeature("boards_enabled == true"),
				).Get("/board", h.Board)
			})
		})
	})

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r
}
