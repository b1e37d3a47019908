package middleware

import (
	"encoding/json"
	"log"
	"net/http"
)

// Error codes carried in the JSON body of guard rejections.
const (
	CodeUnauthenticated      = "unauthenticated"
	CodeOrganizationRequired = "organization_required"
	CodeProjectUnresolved    = "project_unresolved"
	CodePermissionDenied     = "permission_denied"
	CodeForbidden            = "forbidden"
	CodeFeatureDisabled      = "feature_disabled"
	CodeInternal             = "internal"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorBody{Error: message, Code: code}); err != nil {
		log.Printf("WARNING: failed to encode error response: %v", err)
	}
}

func (g *Guards) reject(w http.ResponseWriter, r *http.Request, guard string, status int, code, message string) {
	g.Metrics.RecordRejection(r.Context(), guard, status)
	WriteError(w, status, code, message)
}
