package repository

import (
	"context"
	"errors"

	"github.com/orbitplan/orbitapi/internal/db/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// UserRepository exposes persistence operations for principals.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// Ensure returns the user linked to subject, linking an existing
	// email-only user or provisioning a new one as needed. It returns
	// ErrConflict when email already belongs to a different subject.
	Ensure(ctx context.Context, subject, email, username string) (*models.User, error)

	SetLastActiveOrganization(ctx context.Context, userID string, orgID *string) error
}

// OrganizationRepository exposes persistence operations for tenants and
// their memberships, limits and feature flags.
type OrganizationRepository interface {
	Create(ctx context.Context, org *models.Organization) error
	GetByID(ctx context.Context, id string) (*models.Organization, error)

	GetMember(ctx context.Context, orgID, userID string) (*models.OrganizationMember, error)
	// AnyMembership returns one membership of userID with no ordering guarantee.
	AnyMembership(ctx context.Context, userID string) (*models.OrganizationMember, error)
	ListMembers(ctx context.Context, orgID string) ([]models.OrganizationMember, error)
	AddMember(ctx context.Context, member *models.OrganizationMember) error
	UpdateMemberRole(ctx context.Context, orgID, userID, role string) error
	RemoveMember(ctx context.Context, orgID, userID string) error
	// LockMembersWithRole returns the members holding role, locking the rows
	// for the rest of the transaction where the dialect supports it.
	LockMembersWithRole(ctx context.Context, orgID, role string) ([]models.OrganizationMember, error)

	GetLimits(ctx context.Context, orgID string) (models.JSONMap, error)
	// LockLimits returns the quota document after locking the organization
	// row, so concurrent quota checks for orgID queue behind each other.
	LockLimits(ctx context.Context, orgID string) (models.JSONMap, error)
	SetLimits(ctx context.Context, orgID string, limits models.JSONMap) error
	GetFlags(ctx context.Context, orgID string) (models.JSONMap, error)
	SetFlags(ctx context.Context, orgID string, flags models.JSONMap) error
}

// ProjectRepository exposes persistence operations for projects and
// project memberships.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	// GetInOrganization returns ErrNotFound when the project exists in another organization.
	GetInOrganization(ctx context.Context, orgID, projectID string) (*models.Project, error)
	CountByOrganization(ctx context.Context, orgID string) (int, error)

	GetMember(ctx context.Context, projectID, userID string) (*models.ProjectMember, error)
	ListMembers(ctx context.Context, projectID string) ([]models.ProjectMember, error)
	AddMember(ctx context.Context, member *models.ProjectMember) error
	UpdateMemberRole(ctx context.Context, projectID, userID, role string) error
	RemoveMember(ctx context.Context, projectID, userID string) error
	LockMembersWithRole(ctx context.Context, projectID, role string) ([]models.ProjectMember, error)
}

// PermissionRuleRepository exposes the (scope, role, action) rule table.
type PermissionRuleRepository interface {
	List(ctx context.Context) ([]models.PermissionRule, error)
	// Add reports false when the rule already existed.
	Add(ctx context.Context, scope, role, action string) (bool, error)
	// Remove reports false when no such rule existed.
	Remove(ctx context.Context, scope, role, action string) (bool, error)
	// ReplaceAll swaps the whole rule set atomically.
	ReplaceAll(ctx context.Context, rules []models.PermissionRule) error
}
