package server

import (
	"net/http"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/config"
	"github.com/orbitplan/orbitapi/internal/middleware"
)

// WhoAmIResponse describes the authenticated principal.
type WhoAmIResponse struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	Scheme  string `json:"scheme"`
	Trusted bool   `json:"trusted"`
}

// HandleWhoAmI handles GET /api/auth/whoami
func HandleWhoAmI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			middleware.WriteError(w, http.StatusUnauthorized, middleware.CodeUnauthenticated, "authorization required")
			return
		}
		writeJSON(w, http.StatusOK, WhoAmIResponse{
			UserID:  principal.UserID,
			Email:   principal.Email,
			Role:    principal.Role,
			Scheme:  string(principal.Scheme),
			Trusted: principal.Trusted,
		})
	}
}

// HandleContext handles GET /api/context and returns the resolved tenant
// context. Organization and project are null when unresolved.
func HandleContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, ok := auth.RequestContextFrom(r.Context())
		if !ok {
			middleware.WriteError(w, http.StatusForbidden, middleware.CodeOrganizationRequired, "context not resolved")
			return
		}
		writeJSON(w, http.StatusOK, rc)
	}
}

// AuthConfigResponse tells clients which token schemes the server accepts.
type AuthConfigResponse struct {
	Schemes  []string `json:"schemes"`
	Issuer   string   `json:"issuer,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
}

// HandleAuthConfig handles GET /auth/config
func HandleAuthConfig(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := AuthConfigResponse{Schemes: []string{string(auth.SchemeLocal)}}
		if remote := cfg.Auth.Remote; remote != nil {
			resp.Schemes = []string{string(auth.SchemeRemote), string(auth.SchemeLocal)}
			resp.Issuer = remote.Issuer()
			resp.ClientID = remote.ClientID
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
