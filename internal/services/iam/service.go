package iam

import (
	"context"

	"github.com/orbitplan/orbitapi/internal/auth"
)

// Service provides identity and access operations.
//
// This service centralizes:
//   - Authentication (request path)
//   - Tenant context resolution (request path, elevated reads)
//   - Authorization against the in-memory rule projection
//   - Permission reloads (out-of-band)
//   - Local token issuance (CLI and development)
type Service interface {
	// AuthenticateRequest verifies the request's credential and resolves the
	// principal. See Authenticator for the error contract.
	AuthenticateRequest(ctx context.Context, req AuthRequest) (*auth.Principal, error)

	// BuildContext resolves organization, project, permissions, limits and
	// flags. It never partially succeeds.
	BuildContext(ctx context.Context, req ContextRequest) (*auth.RequestContext, error)

	// CanImpersonate reports whether principal may act as another user.
	CanImpersonate(principal *auth.Principal) bool

	// HasPermission answers from the rule set as of the last reload.
	HasPermission(scope auth.Scope, role auth.Role, action string) bool

	// AuthorizeOrganization and AuthorizeProject read the caller's role from
	// storage and return a *DeniedError naming action on rejection.
	AuthorizeOrganization(ctx context.Context, userID, orgID, action string) error
	AuthorizeProject(ctx context.Context, userID, projectID, action string) error

	// ReloadPermissions rebuilds the rule projection and, when a broadcaster
	// is configured, tells the other replicas to do the same. A failed
	// announcement after a successful local reload returns an error matching
	// ErrReloadNotBroadcast.
	ReloadPermissions(ctx context.Context, source string) error

	// PermissionSnapshot returns the current rule projection for debugging.
	PermissionSnapshot() *PermissionSnapshot

	// RunReloadListener blocks applying reloads announced by other replicas.
	// It returns immediately when no broadcaster is configured.
	RunReloadListener(ctx context.Context) error

	// IssueLocalToken signs a local-scheme token for an existing user.
	IssueLocalToken(ctx context.Context, userID string) (string, error)

	Close() error
}
