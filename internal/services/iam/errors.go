package iam

import (
	"errors"
	"fmt"

	"github.com/orbitplan/orbitapi/internal/auth"
)

var (
	// ErrUnknownPrincipal means a valid token names a user that does not exist.
	ErrUnknownPrincipal = errors.New("unknown principal")

	// ErrIdentityConflict means a remote identity's email is already linked
	// to a different subject.
	ErrIdentityConflict = errors.New("identity conflict")

	// ErrReloadNotBroadcast means this process reloaded its rules but the
	// announcement to other replicas failed; they keep serving the old rules
	// until reloaded by hand.
	ErrReloadNotBroadcast = errors.New("permission reload not broadcast")

	// ErrPermissionDenied is matched by every *DeniedError.
	ErrPermissionDenied = errors.New("permission denied")
)

// DeniedError is an authorization rejection naming the denied action.
type DeniedError struct {
	Scope  auth.Scope
	Action string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Action)
}

// Is makes errors.Is(err, ErrPermissionDenied) match.
func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}
