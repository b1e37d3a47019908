package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// BunOrganizationRepository implements OrganizationRepository using Bun ORM
type BunOrganizationRepository struct {
	db *bun.DB
}

// NewBunOrganizationRepository creates a new Bun-based organization repository
func NewBunOrganizationRepository(db *bun.DB) *BunOrganizationRepository {
	return &BunOrganizationRepository{db: db}
}

// Create inserts a new organization
func (r *BunOrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = bunx.NewUUIDv7()
	}
	_, err := bunx.Conn(ctx, r.db).NewInsert().Model(org).Exec(ctx)
	return mapError("create organization", err)
}

// GetByID retrieves an organization by ID
func (r *BunOrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	org := new(models.Organization)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(org).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, mapError("get organization", err)
	}
	return org, nil
}

// GetMember returns the membership of userID in orgID
func (r *BunOrganizationRepository) GetMember(ctx context.Context, orgID, userID string) (*models.OrganizationMember, error) {
	member := new(models.OrganizationMember)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(member).
		Where("organization_id = ?", orgID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, mapError("get organization member", err)
	}
	return member, nil
}

// AnyMembership returns an arbitrary membership of userID
func (r *BunOrganizationRepository) AnyMembership(ctx context.Context, userID string) (*models.OrganizationMember, error) {
	member := new(models.OrganizationMember)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(member).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapError("get any organization membership", err)
	}
	return member, nil
}

// ListMembers returns all members of orgID
func (r *BunOrganizationRepository) ListMembers(ctx context.Context, orgID string) ([]models.OrganizationMember, error) {
	var members []models.OrganizationMember
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(&members).
		Where("organization_id = ?", orgID).
		Order("joined_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError("list organization members", err)
	}
	return members, nil
}

// AddMember inserts a membership; duplicates yield ErrConflict
func (r *BunOrganizationRepository) AddMember(ctx context.Context, member *models.OrganizationMember) error {
	if member.ID == "" {
		member.ID = bunx.NewUUIDv7()
	}
	_, err := bunx.Conn(ctx, r.db).NewInsert().Model(member).Exec(ctx)
	return mapError("add organization member", err)
}

// UpdateMemberRole changes the role of an existing membership
func (r *BunOrganizationRepository) UpdateMemberRole(ctx context.Context, orgID, userID, role string) error {
	res, err := bunx.Conn(ctx, r.db).NewUpdate().
		Model((*models.OrganizationMember)(nil)).
		Set("role = ?", role).
		Where("organization_id = ?", orgID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return mapError("update organization member role", err)
	}
	return requireAffected(res, "update organization member role")
}

// RemoveMember deletes a membership
func (r *BunOrganizationRepository) RemoveMember(ctx context.Context, orgID, userID string) error {
	res, err := bunx.Conn(ctx, r.db).NewDelete().
		Model((*models.OrganizationMember)(nil)).
		Where("organization_id = ?", orgID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return mapError("remove organization member", err)
	}
	return requireAffected(res, "remove organization member")
}

// LockMembersWithRole selects members holding role, FOR UPDATE on PostgreSQL.
// SQLite serializes writers on the database file, so no row lock is needed.
func (r *BunOrganizationRepository) LockMembersWithRole(ctx context.Context, orgID, role string) ([]models.OrganizationMember, error) {
	conn := bunx.Conn(ctx, r.db)
	var members []models.OrganizationMember
	q := conn.NewSelect().
		Model(&members).
		Where("organization_id = ?", orgID).
		Where("role = ?", role)
	if conn.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, mapError("lock organization members", err)
	}
	return members, nil
}

// GetLimits returns the quota document, empty when none is stored
func (r *BunOrganizationRepository) GetLimits(ctx context.Context, orgID string) (models.JSONMap, error) {
	row := new(models.OrganizationLimits)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(row).
		Where("organization_id = ?", orgID).
		Scan(ctx)
	if err != nil {
		if err = mapError("get organization limits", err); isNotFound(err) {
			return models.JSONMap{}, nil
		}
		return nil, err
	}
	return nonNil(row.Limits), nil
}

// LockLimits locks the organization row FOR UPDATE on PostgreSQL and then
// reads the quota document. The organization row is locked rather than the
// limits row because the latter may not exist.
func (r *BunOrganizationRepository) LockLimits(ctx context.Context, orgID string) (models.JSONMap, error) {
	conn := bunx.Conn(ctx, r.db)
	q := conn.NewSelect().
		Model((*models.Organization)(nil)).
		Column("id").
		Where("id = ?", orgID)
	if conn.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	var id string
	if err := q.Scan(ctx, &id); err != nil {
		return nil, mapError("lock organization", err)
	}
	return r.GetLimits(ctx, orgID)
}

// SetLimits upserts the quota document
func (r *BunOrganizationRepository) SetLimits(ctx context.Context, orgID string, limits models.JSONMap) error {
	row := &models.OrganizationLimits{OrganizationID: orgID, Limits: nonNil(limits), UpdatedAt: time.Now()}
	_, err := bunx.Conn(ctx, r.db).NewInsert().
		Model(row).
		On("CONFLICT (organization_id) DO UPDATE").
		Set("limits = EXCLUDED.limits").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return mapError("set organization limits", err)
}

// GetFlags returns the feature flag document, empty when none is stored
func (r *BunOrganizationRepository) GetFlags(ctx context.Context, orgID string) (models.JSONMap, error) {
	row := new(models.OrganizationFeatureFlags)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(row).
		Where("organization_id = ?", orgID).
		Scan(ctx)
	if err != nil {
		if err = mapError("get organization feature flags", err); isNotFound(err) {
			return models.JSONMap{}, nil
		}
		return nil, err
	}
	return nonNil(row.Flags), nil
}

// SetFlags upserts the feature flag document
func (r *BunOrganizationRepository) SetFlags(ctx context.Context, orgID string, flags models.JSONMap) error {
	row := &models.OrganizationFeatureFlags{OrganizationID: orgID, Flags: nonNil(flags), UpdatedAt: time.Now()}
	_, err := bunx.Conn(ctx, r.db).NewInsert().
		Model(row).
		On("CONFLICT (organization_id) DO UPDATE").
		Set("flags = EXCLUDED.flags").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return mapError("set organization feature flags", err)
}

func nonNil(m models.JSONMap) models.JSONMap {
	if m == nil {
		return models.JSONMap{}
	}
	return m
}

func requireAffected(res interface{ RowsAffected() (int64, error) }, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
