package iam

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/orbitplan/orbitapi/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ContextRequest carries the hints for one context resolution. Every field
// except UserID is optional.
type ContextRequest struct {
	UserID             string
	OrganizationID     string
	ProjectID          string
	ImpersonatedUserID string
}

// ContextBuilder resolves the tenant context of a request.
type ContextBuilder struct {
	users    repository.UserRepository
	orgs     repository.OrganizationRepository
	projects repository.ProjectRepository
	engine   *PermissionEngine
}

// NewContextBuilder creates a builder.
func NewContextBuilder(
	users repository.UserRepository,
	orgs repository.OrganizationRepository,
	projects repository.ProjectRepository,
	engine *PermissionEngine,
) *ContextBuilder {
	return &ContextBuilder{users: users, orgs: orgs, projects: projects, engine: engine}
}

// Build resolves the acting user, organization, project, permissions,
// limits and flags.
//
// Organization resolution order: the explicit OrganizationID when the actor
// is a member of it, then the actor's last-active organization while still
// a member, then any membership at all (unordered). An explicit id the actor
// is not a member of resolves to no organization; it never falls through to
// another one. A project resolves only when it belongs to the resolved
// organization and the actor is a project member.
//
// Every read runs elevated. Build must therefore run before the request
// transaction is opened.
func (b *ContextBuilder) Build(ctx context.Context, req ContextRequest) (*auth.RequestContext, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.BuildContext",
		attribute.String(telemetry.AttrUserID, req.UserID),
	)
	defer span.End()
	ctx = bunx.Elevated(ctx)

	rc := &auth.RequestContext{
		Permissions:  []string{},
		Limits:       map[string]any{},
		Flags:        map[string]any{},
		RealUserID:   req.UserID,
		ActingUserID: req.UserID,
	}

	actor, err := b.users.GetByID(ctx, req.UserID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load user %s: %w", req.UserID, err)
	}
	if req.ImpersonatedUserID != "" && req.ImpersonatedUserID != req.UserID {
		actor, err = b.users.GetByID(ctx, req.ImpersonatedUserID)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("load impersonated user %s: %w", req.ImpersonatedUserID, err)
		}
		rc.ActingUserID = actor.ID
		span.SetAttributes(attribute.String(telemetry.AttrActingUserID, actor.ID))
	}

	orgMember, err := b.resolveOrganization(ctx, actor, req.OrganizationID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if orgMember == nil {
		return rc, nil
	}
	rc.Organization = &auth.Membership{ID: orgMember.OrganizationID, Role: auth.Role(orgMember.Role)}
	span.SetAttributes(
		attribute.String(telemetry.AttrOrgID, rc.Organization.ID),
		attribute.String(telemetry.AttrOrgRole, orgMember.Role),
	)

	if req.ProjectID != "" {
		projectMember, err := b.resolveProject(ctx, actor.ID, rc.Organization.ID, req.ProjectID)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		if projectMember != nil {
			rc.Project = &auth.Membership{ID: projectMember.ProjectID, Role: auth.Role(projectMember.Role)}
			span.SetAttributes(
				attribute.String(telemetry.AttrProjectID, rc.Project.ID),
				attribute.String(telemetry.AttrProjectRole, projectMember.Role),
			)
		}
	}

	rc.Permissions = b.permissions(rc)

	limits, err := b.orgs.GetLimits(ctx, rc.Organization.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load organization limits: %w", err)
	}
	flags, err := b.orgs.GetFlags(ctx, rc.Organization.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load organization flags: %w", err)
	}
	if limits != nil {
		rc.Limits = limits
	}
	if flags != nil {
		rc.Flags = flags
	}

	return rc, nil
}

func (b *ContextBuilder) resolveOrganization(ctx context.Context, actor *models.User, explicit string) (*models.OrganizationMember, error) {
	if explicit != "" {
		if !validID(explicit) {
			return nil, nil
		}
		return b.membership(ctx, explicit, actor.ID)
	}

	if actor.LastActiveOrgID != nil && *actor.LastActiveOrgID != "" {
		member, err := b.membership(ctx, *actor.LastActiveOrgID, actor.ID)
		if err != nil || member != nil {
			return member, err
		}
	}

	member, err := b.orgs.AnyMembership(ctx, actor.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup any membership: %w", err)
	}
	return member, nil
}

// membership returns nil, nil when userID is not a member of orgID.
func (b *ContextBuilder) membership(ctx context.Context, orgID, userID string) (*models.OrganizationMember, error) {
	member, err := b.orgs.GetMember(ctx, orgID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup organization membership: %w", err)
	}
	return member, nil
}

func (b *ContextBuilder) resolveProject(ctx context.Context, userID, orgID, projectID string) (*models.ProjectMember, error) {
	if !validID(projectID) {
		return nil, nil
	}
	if _, err := b.projects.GetInOrganization(ctx, orgID, projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup project: %w", err)
	}
	member, err := b.projects.GetMember(ctx, projectID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup project membership: %w", err)
	}
	return member, nil
}

func (b *ContextBuilder) permissions(rc *auth.RequestContext) []string {
	perms := b.engine.Actions(auth.ScopeOrganization, rc.Organization.Role)
	if rc.Project != nil {
		perms = append(perms, b.engine.Actions(auth.ScopeProject, rc.Project.Role)...)
	}
	slices.Sort(perms)
	return slices.Compact(perms)
}

// validID keeps malformed ids away from uuid-typed columns, where PostgreSQL
// would fail the query instead of matching nothing.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
