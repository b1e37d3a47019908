// Package tenancy mutates organizations, projects and their memberships
// while keeping the owner invariants: every organization keeps at least one
// owner and every project keeps at least one project_owner.
//
// Callers authorize first (guard chain or iam.Service); this package
// enforces structural rules plus the owner ceiling: only owners hand out,
// change or take away the owner role in their scope.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/orbitplan/orbitapi/internal/telemetry"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
)

// Service orchestrates membership mutations inside transactions.
type Service struct {
	db       *bun.DB
	users    repository.UserRepository
	orgs     repository.OrganizationRepository
	projects repository.ProjectRepository
}

// NewService constructs a new Service instance.
func NewService(db *bun.DB, users repository.UserRepository, orgs repository.OrganizationRepository, projects repository.ProjectRepository) *Service {
	return &Service{db: db, users: users, orgs: orgs, projects: projects}
}

// CreateOrganization creates an organization owned by creatorID and makes it
// the creator's last-active organization.
func (s *Service) CreateOrganization(ctx context.Context, creatorID, name, color string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerTenancy, "tenancy.CreateOrganization",
		attribute.String(telemetry.AttrUserID, creatorID),
	)
	defer span.End()

	org := &models.Organization{Name: name, Color: color, CreatedBy: creatorID}
	err := bunx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		if err := s.orgs.Create(ctx, org); err != nil {
			return fmt.Errorf("create organization: %w", err)
		}
		if err := s.orgs.AddMember(ctx, &models.OrganizationMember{
			OrganizationID: org.ID,
			UserID:         creatorID,
			Role:           string(auth.RoleOwner),
		}); err != nil {
			return fmt.Errorf("add owner: %w", err)
		}
		if err := s.users.SetLastActiveOrganization(ctx, creatorID, &org.ID); err != nil {
			return fmt.Errorf("set last active organization: %w", err)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return org, nil
}

// SwitchOrganization persists orgID as userID's last-active organization.
func (s *Service) SwitchOrganization(ctx context.Context, userID, orgID string) error {
	if _, err := uuid.Parse(orgID); err != nil {
		return ErrNotMember
	}
	if _, err := s.orgs.GetMember(ctx, orgID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotMember
		}
		return fmt.Errorf("lookup membership: %w", err)
	}
	if err := s.users.SetLastActiveOrganization(ctx, userID, &orgID); err != nil {
		return fmt.Errorf("set last active organization: %w", err)
	}
	return nil
}

// ListOrganizationMembers returns the members of orgID.
func (s *Service) ListOrganizationMembers(ctx context.Context, orgID string) ([]models.OrganizationMember, error) {
	return s.orgs.ListMembers(ctx, orgID)
}

// AddOrganizationMember adds userID to orgID on behalf of actorID, honouring
// max_members. Only owners may add owners.
func (s *Service) AddOrganizationMember(ctx context.Context, actorID, orgID, userID, role string) (*models.OrganizationMember, error) {
	r, err := auth.ParseRole(auth.ScopeOrganization, role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}

	member := &models.OrganizationMember{OrganizationID: orgID, UserID: userID, Role: string(r)}
	err = bunx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		if r == auth.RoleOwner {
			if err := s.requireOrganizationOwner(ctx, orgID, actorID); err != nil {
				return err
			}
		}
		if _, err := s.users.GetByID(ctx, userID); err != nil {
			return fmt.Errorf("lookup user: %w", err)
		}
		limits, err := s.lockedLimits(ctx, orgID)
		if err != nil {
			return err
		}
		if limits.MaxMembers > 0 {
			members, err := s.orgs.ListMembers(ctx, orgID)
			if err != nil {
				return fmt.Errorf("list members: %w", err)
			}
			if len(members) >= limits.MaxMembers {
				return fmt.Errorf("%w: organization allows at most %d members", ErrLimitExceeded, limits.MaxMembers)
			}
		}
		if err := s.orgs.AddMember(ctx, member); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// UpdateOrganizationMemberRole changes userID's role in orgID on behalf of
// actorID. Promoting to or demoting from owner requires actorID to be an
// owner, and demoting the last owner is rejected.
func (s *Service) UpdateOrganizationMemberRole(ctx context.Context, actorID, orgID, userID, role string) error {
	r, err := auth.ParseRole(auth.ScopeOrganization, role)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}

	return bunx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		current, err := s.orgs.GetMember(ctx, orgID, userID)
		if err != nil {
			return s.memberError(err)
		}
		if r == auth.RoleOwner || auth.Role(current.Role) == auth.RoleOwner {
			if err := s.requireOrganizationOwner(ctx, orgID, actorID); err != nil {
				return err
			}
		}
		if auth.Role(current.Role) == auth.RoleOwner && r != auth.RoleOwner {
			if err := s.ensureAnotherOrganizationOwner(ctx, orgID, userID); err != nil {
				return err
			}
		}
		return s.orgs.UpdateMemberRole(ctx, orgID, userID, string(r))
	})
}

// RemoveOrganizationMember removes userID from orgID on behalf of actorID.
// Only owners may remove owners, and removing the last owner is rejected.
func (s *Service) RemoveOrganizationMember(ctx context.Context, actorID, orgID, userID string) error {
	return bunx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		current, err := s.orgs.GetMember(ctx, orgID, userID)
		if err != nil {
			return s.memberError(err)
		}
		if auth.Role(current.Role) == auth.RoleOwner {
			if err := s.requireOrganizationOwner(ctx, orgID, actorID); err != nil {
				return err
			}
			if err := s.ensureAnotherOrganizationOwner(ctx, orgID, userID); err != nil {
				return err
			}
		}
		return s.orgs.RemoveMember(ctx, orgID, userID)
	})
}

func (s *Service) requireOrganizationOwner(ctx context.Context, orgID, actorID string) error {
	actor, err := s.orgs.GetMember(ctx, orgID, actorID)
	if errors.Is(err, repository.ErrNotFound) {
		return errOrganizationOwnerRequired
	}
	if err != nil {
		return fmt.Errorf("lookup acting member: %w", err)
	}
	if auth.Role(actor.Role) != auth.RoleOwner {
		return errOrganizationOwnerRequired
	}
	return nil
}

// ensureAnotherOrganizationOwner locks the owner rows and fails unless an
// owner other than userID remains.
func (s *Service) ensureAnotherOrganizationOwner(ctx context.Context, orgID, userID string) error {
	owners, err := s.orgs.LockMembersWithRole(ctx, orgID, string(auth.RoleOwner))
	if err != nil {
		return fmt.Errorf("lock owners: %w", err)
	}
	for _, o := range owners {
		if o.UserID != userID {
			return nil
		}
	}
	return errLastOrganizationOwner
}

// CreateProject creates a project in orgID with creatorID as its sole
// project_owner. The creator must belong to orgID and max_projects must
// not be exhausted.
func (s *Service) CreateProject(ctx context.Context, orgID, creatorID, name, description string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerTenancy, "tenancy.CreateProject",
		attribute.String(telemetry.AttrOrgID, orgID),
		attribute.String(telemetry.AttrUserID, creatorID),
	)
	defer span.End()

	project := &models.Project{OrganizationID: orgID, Name: name, Description: description, CreatedBy: creatorID}
	err := bunx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		if _, err := s.orgs.GetMember(ctx, orgID, creatorID); err != nil {
			return s.memberError(err)
		}

		limits, err := s.lockedLimits(ctx, orgID)
		if err != nil {
			return err
		}
		if limits.MaxProjects > 0 {
			n, err := s.projects.CountByOrganization(ctx, orgID)
			if err != nil {
				return fmt.Errorf("count projects: %w", err)
			}
			if n >= limits.MaxProjects {
				return fmt.Errorf("%w: organization allows at most %d projects", ErrLimitExceeded, limits.MaxProjects)
			}
		}

		if err := s.projects.Create(ctx, project); err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		if err := s.projects.AddMember(ctx, &models.ProjectMember{
			ProjectID: project.ID,
			UserID:    creatorID,
			Role:      string(auth.RoleProjectOwner),
		}); err != nil {
			return fmt.Errorf("add project owner: %w", err)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return project, nil
}

// GetProject returns projectID when it belongs to orgID.
func (s *Service) GetProject(ctx context.Context, orgID, projectID string) (*models.Project, error) {
	return s.projects.GetInOrganization(ctx, orgID, projectID)
}

// ListProjectMembers returns the members of projectID.
func (s *Service) ListProjectMembers(ctx context.Context, projectID string) ([]models.ProjectMember, error) {
	return s.projects.ListMembers(ctx, projectID)
}

// AddProjectMember adds userID to projectID on behalf of actorID. The user
// must already belong to the project's organization, and only a
// project_owner may add another project_owner.
func (s *Service) AddProjectMember(ctx context.Context, actorID, projectID, userID, role string) (*models.ProjectMember, error) {
	r, err := auth.ParseRole(auth.ScopeProject, role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}

	member := &models.ProjectMember{ProjectID: projectID, UserID: userID, Role: string(r)}
	err = bunx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		project, err := s.projects.GetByID(ctx, projectID)
		if err != nil {
			return fmt.Errorf("lookup project: %w", err)
		}
		if r == auth.RoleProjectOwner {
			if err := s.requireProjectOwner(ctx, projectID, actorID); err != nil {
				return err
			}
		}
		if _, err := s.orgs.GetMember(ctx, project.OrganizationID, userID); err != nil {
			return s.memberError(err)
		}
		if err := s.projects.AddMember(ctx, member); err != nil {
			return fmt.Errorf("add project member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// UpdateProjectMemberRole changes userID's role in projectID on behalf of
// actorID. Changes touching project_owner require actorID to hold it, and
// demoting the last project_owner is rejected.
func (s *Service) UpdateProjectMemberRole(ctx context.Context, actorID, projectID, userID, role string) error {
	r, err := auth.ParseRole(auth.ScopeProject, role)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}

	return bunx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		current, err := s.projects.GetMember(ctx, projectID, userID)
		if err != nil {
			return s.memberError(err)
		}
		if r == auth.RoleProjectOwner || auth.Role(current.Role) == auth.RoleProjectOwner {
			if err := s.requireProjectOwner(ctx, projectID, actorID); err != nil {
				return err
			}
		}
		if auth.Role(current.Role) == auth.RoleProjectOwner && r != auth.RoleProjectOwner {
			if err := s.ensureAnotherProjectOwner(ctx, projectID, userID); err != nil {
				return err
			}
		}
		return s.projects.UpdateMemberRole(ctx, projectID, userID, string(r))
	})
}

// RemoveProjectMember removes userID from projectID on behalf of actorID.
// Only a project_owner may remove one, and removing the last is rejected.
func (s *Service) RemoveProjectMember(ctx context.Context, actorID, projectID, userID string) error {
	return bunx.RunInTx(ctx, s.db, func(ctx context.Context) error {
		current, err := s.projects.GetMember(ctx, projectID, userID)
		if err != nil {
			return s.memberError(err)
		}
		if auth.Role(current.Role) == auth.RoleProjectOwner {
			if err := s.requireProjectOwner(ctx, projectID, actorID); err != nil {
				return err
			}
			if err := s.ensureAnotherProjectOwner(ctx, projectID, userID); err != nil {
				return err
			}
		}
		return s.projects.RemoveMember(ctx, projectID, userID)
	})
}

func (s *Service) requireProjectOwner(ctx context.Context, projectID, actorID string) error {
	actor, err := s.projects.GetMember(ctx, projectID, actorID)
	if errors.Is(err, repository.ErrNotFound) {
		return errProjectOwnerRequired
	}
	if err != nil {
		return fmt.Errorf("lookup acting member: %w", err)
	}
	if auth.Role(actor.Role) != auth.RoleProjectOwner {
		return errProjectOwnerRequired
	}
	return nil
}

func (s *Service) ensureAnotherProjectOwner(ctx context.Context, projectID, userID string) error {
	owners, err := s.projects.LockMembersWithRole(ctx, projectID, string(auth.RoleProjectOwner))
	if err != nil {
		return fmt.Errorf("lock project owners: %w", err)
	}
	for _, o := range owners {
		if o.UserID != userID {
			return nil
		}
	}
	return errLastProjectOwner
}

// lockedLimits holds the organization row until the transaction ends, so a
// count taken afterwards cannot race another insert against the same quota.
func (s *Service) lockedLimits(ctx context.Context, orgID string) (Limits, error) {
	doc, err := s.orgs.LockLimits(ctx, orgID)
	if err != nil {
		return Limits{}, fmt.Errorf("load limits: %w", err)
	}
	return DecodeLimits(doc)
}

func (s *Service) memberError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotMember
	}
	return fmt.Errorf("lookup membership: %w", err)
}
