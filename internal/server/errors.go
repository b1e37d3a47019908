package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/orbitplan/orbitapi/internal/middleware"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/orbitplan/orbitapi/internal/services/iam"
	"github.com/orbitplan/orbitapi/internal/services/tenancy"
)

// Error codes used by handlers in addition to the guard codes.
const (
	codeInvalidInput  = "invalid_input"
	codeLastOwner     = "last_owner"
	codeLimitExceeded = "limit_exceeded"
	codeNotFound      = "not_found"
	codeConflict      = "conflict"
)

var (
	// ErrOrganizationUnavailable hides whether an organization exists from non-members.
	ErrOrganizationUnavailable = errors.New("organization not found or not accessible")

	// ErrProjectUnavailable hides whether a project exists from non-members.
	ErrProjectUnavailable = errors.New("project not found or not accessible")
)

// writeServiceError maps service and repository errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *iam.DeniedError
	switch {
	case errors.As(err, &denied):
		middleware.WriteError(w, http.StatusForbidden, middleware.CodePermissionDenied, denied.Error())
	case errors.Is(err, ErrOrganizationUnavailable):
		middleware.WriteError(w, http.StatusForbidden, middleware.CodeOrganizationRequired, err.Error())
	case errors.Is(err, ErrProjectUnavailable):
		middleware.WriteError(w, http.StatusForbidden, middleware.CodeProjectUnresolved, err.Error())
	case errors.Is(err, tenancy.ErrInsufficientRole):
		middleware.WriteError(w, http.StatusForbidden, middleware.CodePermissionDenied, err.Error())
	case errors.Is(err, tenancy.ErrLastOwner):
		middleware.WriteError(w, http.StatusConflict, codeLastOwner, err.Error())
	case errors.Is(err, tenancy.ErrLimitExceeded):
		middleware.WriteError(w, http.StatusConflict, codeLimitExceeded, err.Error())
	case errors.Is(err, tenancy.ErrInvalidRole), errors.Is(err, tenancy.ErrInvalidInput):
		middleware.WriteError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, tenancy.ErrNotMember):
		middleware.WriteError(w, http.StatusNotFound, codeNotFound, "member not found")
	case errors.Is(err, repository.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, repository.ErrConflict):
		middleware.WriteError(w, http.StatusConflict, codeConflict, "already exists")
	default:
		log.Printf("ERROR: %s %s: %v", r.Method, r.URL.Path, err)
		middleware.WriteError(w, http.StatusInternalServerError, middleware.CodeInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARNING: failed to encode response: %v", err)
	}
}

// decodeJSON reads a JSON request body into dst, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, codeInvalidInput, "invalid request body")
		return false
	}
	return true
}
