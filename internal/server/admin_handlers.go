package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/middleware"
	"github.com/orbitplan/orbitapi/internal/services/iam"
)

// ReloadResponse reports the permission rule set after a reload.
type ReloadResponse struct {
	Status    string `json:"status"`
	Version   int    `json:"version"`
	Rules     int    `json:"rules"`
	Timestamp int64  `json:"timestamp"`
	Warning   string `json:"warning,omitempty"`
}

// HandleReloadPermissions handles POST /admin/permissions/reload
// Rebuilds the in-memory permission rules and announces the reload to the
// other replicas when a broadcaster is configured.
//
// Authorization: legacy role admin (enforced by the router)
func HandleReloadPermissions(iamService iamHandlerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		principal, _ := auth.PrincipalFromContext(ctx)

		resp := ReloadResponse{Status: "success"}
		err := iamService.ReloadPermissions(ctx, "admin")
		if errors.Is(err, iam.ErrReloadNotBroadcast) {
			// This replica reloaded; the others did not hear about it.
			log.Printf("WARNING: %v", err)
			resp.Status = "local_only"
			resp.Warning = "other replicas were not notified; reload them individually"
			err = nil
		}
		if err != nil {
			log.Printf("ERROR: Manual permission reload failed: %v", err)
			middleware.WriteError(w, http.StatusInternalServerError, middleware.CodeInternal, "permission reload failed")
			return
		}

		snapshot := iamService.PermissionSnapshot()
		rules := 0
		for _, actions := range snapshot.Rules {
			rules += len(actions)
		}

		resp.Version = snapshot.Version
		resp.Rules = rules
		resp.Timestamp = snapshot.LoadedAt.Unix()
		writeJSON(w, http.StatusOK, resp)

		log.Printf("INFO: Manual permission reload triggered by %s (version=%d, rules=%d)",
			principal.UserID, snapshot.Version, rules)
	}
}
