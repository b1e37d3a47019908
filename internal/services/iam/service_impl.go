package iam

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/orbitplan/orbitapi/internal/telemetry"
)

// IAMServiceDependencies groups the collaborators of the IAM service.
type IAMServiceDependencies struct {
	Users    repository.UserRepository
	Orgs     repository.OrganizationRepository
	Projects repository.ProjectRepository
	Rules    repository.PermissionRuleRepository

	// Verifier accepts request tokens (typically a HybridVerifier).
	Verifier auth.Verifier
	// Local issues local-scheme tokens. Optional.
	Local *auth.LocalVerifier

	TrustedServiceRole string
	ImpersonatorRoles  []string

	// ReloadRedisURL enables cross-replica reload broadcasts when set.
	ReloadRedisURL string
	ReloadChannel  string

	Metrics *telemetry.AuthzMetrics
}

type iamService struct {
	users         repository.UserRepository
	authenticator Authenticator
	builder       *ContextBuilder
	engine        *PermissionEngine
	local         *auth.LocalVerifier
	impersonators []string
	broadcaster   *ReloadBroadcaster
}

// NewIAMService wires the authenticator, context builder and permission
// engine. The initial rule load must succeed.
func NewIAMService(deps IAMServiceDependencies) (Service, error) {
	if deps.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}

	engine, err := NewPermissionEngine(deps.Rules, deps.Orgs, deps.Projects, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("initialize permission engine: %w", err)
	}

	resolver := NewPrincipalResolver(deps.Users, deps.TrustedServiceRole)
	svc := &iamService{
		users:         deps.Users,
		authenticator: NewTokenAuthenticator(deps.Verifier, resolver, deps.Metrics),
		builder:       NewContextBuilder(deps.Users, deps.Orgs, deps.Projects, engine),
		engine:        engine,
		local:         deps.Local,
		impersonators: deps.ImpersonatorRoles,
	}

	if deps.ReloadRedisURL != "" {
		svc.broadcaster, err = NewReloadBroadcaster(deps.ReloadRedisURL, deps.ReloadChannel, engine)
		if err != nil {
			return nil, err
		}
	}

	return svc, nil
}

func (s *iamService) AuthenticateRequest(ctx context.Context, req AuthRequest) (*auth.Principal, error) {
	return s.authenticator.Authenticate(ctx, req)
}

func (s *iamService) BuildContext(ctx context.Context, req ContextRequest) (*auth.RequestContext, error) {
	return s.builder.Build(ctx, req)
}

func (s *iamService) CanImpersonate(principal *auth.Principal) bool {
	return principal != nil && principal.Role != "" && slices.Contains(s.impersonators, principal.Role)
}

func (s *iamService) HasPermission(scope auth.Scope, role auth.Role, action string) bool {
	return s.engine.HasPermission(scope, role, action)
}

func (s *iamService) AuthorizeOrganization(ctx context.Context, userID, orgID, action string) error {
	return s.engine.AuthorizeOrganization(ctx, userID, orgID, action)
}

func (s *iamService) AuthorizeProject(ctx context.Context, userID, projectID, action string) error {
	return s.engine.AuthorizeProject(ctx, userID, projectID, action)
}

func (s *iamService) ReloadPermissions(ctx context.Context, source string) error {
	if err := s.engine.Reload(ctx, source); err != nil {
		return err
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Publish(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrReloadNotBroadcast, err)
		}
	}
	return nil
}

func (s *iamService) PermissionSnapshot() *PermissionSnapshot {
	return s.engine.Snapshot()
}

func (s *iamService) RunReloadListener(ctx context.Context) error {
	if s.broadcaster == nil {
		return nil
	}
	return s.broadcaster.Run(ctx)
}

func (s *iamService) IssueLocalToken(ctx context.Context, userID string) (string, error) {
	if s.local == nil {
		return "", errors.New("local token issuance is not configured")
	}
	user, err := s.users.GetByID(bunx.Elevated(ctx), userID)
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", userID, err)
	}
	return s.local.Issue(user.ID, user.Email, user.Role)
}

func (s *iamService) Close() error {
	if s.broadcaster != nil {
		return s.broadcaster.Close()
	}
	return nil
}
