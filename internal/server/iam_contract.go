package server

import (
	"context"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/services/iam"
)

// iamHandlerService defines the exact IAM methods used by server handlers.
// The guard chain takes the full iam.Service; handlers only need these.
type iamHandlerService interface {
	AuthorizeProject(ctx context.Context, userID, projectID, action string) error
	ReloadPermissions(ctx context.Context, source string) error
	PermissionSnapshot() *iam.PermissionSnapshot
	HasPermission(scope auth.Scope, role auth.Role, action string) bool
}

// Compile-time assertion: iam.Service must implement iamHandlerService.
var _ iamHandlerService = (iam.Service)(nil)
