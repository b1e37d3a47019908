package server

import (
	"net/http"
	"time"

	"github.com/orbitplan/orbitapi/internal/config"
	"github.com/orbitplan/orbitapi/internal/middleware"
)

const defaultSelectionMaxAge = 30 * 24 * time.Hour

// selectionCookie builds an active_org_id / active_project_id cookie.
// An empty value expires the cookie.
func selectionCookie(cfg config.CookieConfig, name, value string) *http.Cookie {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultSelectionMaxAge
	}
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		return c
	}
	c.MaxAge = int(maxAge.Seconds())
	c.Expires = time.Now().Add(maxAge)
	return c
}

func setActiveOrganization(w http.ResponseWriter, cfg config.CookieConfig, orgID string) {
	http.SetCookie(w, selectionCookie(cfg, middleware.CookieActiveOrganization, orgID))
	// A project selection never survives an organization switch.
	http.SetCookie(w, selectionCookie(cfg, middleware.CookieActiveProject, ""))
}

func setActiveProject(w http.ResponseWriter, cfg config.CookieConfig, projectID string) {
	http.SetCookie(w, selectionCookie(cfg, middleware.CookieActiveProject, projectID))
}
