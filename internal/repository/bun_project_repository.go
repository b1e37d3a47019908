package repository

import (
	"context"

	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// BunProjectRepository implements ProjectRepository using Bun ORM
type BunProjectRepository struct {
	db *bun.DB
}

// NewBunProjectRepository creates a new Bun-based project repository
func NewBunProjectRepository(db *bun.DB) *BunProjectRepository {
	return &BunProjectRepository{db: db}
}

// Create inserts a new project
func (r *BunProjectRepository) Create(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = bunx.NewUUIDv7()
	}
	_, err := bunx.Conn(ctx, r.db).NewInsert().Model(project).Exec(ctx)
	return mapError("create project", err)
}

// GetByID retrieves a project by ID
func (r *BunProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	project := new(models.Project)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(project).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, mapError("get project", err)
	}
	return project, nil
}

// GetInOrganization retrieves a project only if it belongs to orgID
func (r *BunProjectRepository) GetInOrganization(ctx context.Context, orgID, projectID string) (*models.Project, error) {
	project := new(models.Project)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(project).
		Where("id = ?", projectID).
		Where("organization_id = ?", orgID).
		Scan(ctx)
	if err != nil {
		return nil, mapError("get project in organization", err)
	}
	return project, nil
}

// CountByOrganization counts the projects of orgID
func (r *BunProjectRepository) CountByOrganization(ctx context.Context, orgID string) (int, error) {
	n, err := bunx.Conn(ctx, r.db).NewSelect().
		Model((*models.Project)(nil)).
		Where("organization_id = ?", orgID).
		Count(ctx)
	if err != nil {
		return 0, mapError("count projects", err)
	}
	return n, nil
}

// GetMember returns the membership of userID in projectID
func (r *BunProjectRepository) GetMember(ctx context.Context, projectID, userID string) (*models.ProjectMember, error) {
	member := new(models.ProjectMember)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(member).
		Where("project_id = ?", projectID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, mapError("get project member", err)
	}
	return member, nil
}

// ListMembers returns all members of projectID
func (r *BunProjectRepository) ListMembers(ctx context.Context, projectID string) ([]models.ProjectMember, error) {
	var members []models.ProjectMember
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(&members).
		Where("project_id = ?", projectID).
		Order("joined_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError("list project members", err)
	}
	return members, nil
}

// AddMember inserts a project membership; duplicates yield ErrConflict
func (r *BunProjectRepository) AddMember(ctx context.Context, member *models.ProjectMember) error {
	if member.ID == "" {
		member.ID = bunx.NewUUIDv7()
	}
	_, err := bunx.Conn(ctx, r.db).NewInsert().Model(member).Exec(ctx)
	return mapError("add project member", err)
}

// UpdateMemberRole changes the role of an existing project membership
func (r *BunProjectRepository) UpdateMemberRole(ctx context.Context, projectID, userID, role string) error {
	res, err := bunx.Conn(ctx, r.db).NewUpdate().
		Model((*models.ProjectMember)(nil)).
		Set("role = ?", role).
		Where("project_id = ?", projectID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return mapError("update project member role", err)
	}
	return requireAffected(res, "update project member role")
}

// RemoveMember deletes a project membership
func (r *BunProjectRepository) RemoveMember(ctx context.Context, projectID, userID string) error {
	res, err := bunx.Conn(ctx, r.db).NewDelete().
		Model((*models.ProjectMember)(nil)).
		Where("project_id = ?", projectID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return mapError("remove project member", err)
	}
	return requireAffected(res, "remove project member")
}

// LockMembersWithRole selects project members holding role, FOR UPDATE on PostgreSQL
func (r *BunProjectRepository) LockMembersWithRole(ctx context.Context, projectID, role string) ([]models.ProjectMember, error) {
	conn := bunx.Conn(ctx, r.db)
	var members []models.ProjectMember
	q := conn.NewSelect().
		Model(&members).
		Where("project_id = ?", projectID).
		Where("role = ?", role)
	if conn.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, mapError("lock project members", err)
	}
	return members, nil
}
