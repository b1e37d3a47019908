package migrations

import (
	"context"
	"fmt"

	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260301000001, down_20260301000001)
}

// up_20260301000001 creates the identity, tenancy and permission tables
func up_20260301000001(ctx context.Context, db *bun.DB) error {
	// 1. users
	fmt.Print(" [up] creating users table...")
	if _, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	fmt.Println(" OK")

	// 2. organizations
	fmt.Print(" [up] creating organizations table...")
	if _, err := db.NewCreateTable().
		Model((*models.Organization)(nil)).
		IfNotExists().
		ForeignKey(`(created_by) REFERENCES users(id)`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create organizations table: %w", err)
	}
	fmt.Println(" OK")

	// 3. organization_members
	fmt.Print(" [up] creating organization_members table...")
	if _, err := db.NewCreateTable().
		Model((*models.OrganizationMember)(nil)).
		IfNotExists().
		ForeignKey(`(organization_id) REFERENCES organizations(id) ON DELETE CASCADE`).
		ForeignKey(`(user_id) REFERENCES users(id) ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create organization_members table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_organization_members_user ON organization_members(user_id)`); err != nil {
		return fmt.Errorf("failed to create organization_members user index: %w", err)
	}
	fmt.Println(" OK")

	// 4. projects
	fmt.Print(" [up] creating projects table...")
	if _, err := db.NewCreateTable().
		Model((*models.Project)(nil)).
		IfNotExists().
		ForeignKey(`(organization_id) REFERENCES organizations(id) ON DELETE CASCADE`).
		ForeignKey(`(created_by) REFERENCES users(id)`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create projects table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_projects_organization ON projects(organization_id)`); err != nil {
		return fmt.Errorf("failed to create projects organization index: %w", err)
	}
	fmt.Println(" OK")

	// 5. project_members
	fmt.Print(" [up] creating project_members table...")
	if _, err := db.NewCreateTable().
		Model((*models.ProjectMember)(nil)).
		IfNotExists().
		ForeignKey(`(project_id) REFERENCES projects(id) ON DELETE CASCADE`).
		ForeignKey(`(user_id) REFERENCES users(id) ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create project_members table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_project_members_user ON project_members(user_id)`); err != nil {
		return fmt.Errorf("failed to create project_members user index: %w", err)
	}
	fmt.Println(" OK")

	// 6. permission_rules
	fmt.Print(" [up] creating permission_rules table...")
	if _, err := db.NewCreateTable().
		Model((*models.PermissionRule)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create permission_rules table: %w", err)
	}
	fmt.Println(" OK")

	// 7. limits and feature flags
	fmt.Print(" [up] creating organization_limits and organization_feature_flags tables...")
	if _, err := db.NewCreateTable().
		Model((*models.OrganizationLimits)(nil)).
		IfNotExists().
		ForeignKey(`(organization_id) REFERENCES organizations(id) ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create organization_limits table: %w", err)
	}
	if _, err := db.NewCreateTable().
		Model((*models.OrganizationFeatureFlags)(nil)).
		IfNotExists().
		ForeignKey(`(organization_id) REFERENCES organizations(id) ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create organization_feature_flags table: %w", err)
	}
	fmt.Println(" OK")

	// last_active_org_id is added after organizations exists
	if alterConstraints(db) {
		if _, err := db.ExecContext(ctx, `
			ALTER TABLE users
			ADD CONSTRAINT fk_users_last_active_org
			FOREIGN KEY (last_active_org_id) REFERENCES organizations(id) ON DELETE SET NULL
		`); err != nil {
			return fmt.Errorf("failed to add users last_active_org_id FK: %w", err)
		}
	}

	return nil
}

// down_20260301000001 drops the tables in reverse dependency order
func down_20260301000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping tenancy tables...")
	if alterConstraints(db) {
		if _, err := db.ExecContext(ctx, `ALTER TABLE users DROP CONSTRAINT IF EXISTS fk_users_last_active_org`); err != nil {
			return fmt.Errorf("failed to drop users last_active_org_id FK: %w", err)
		}
	}
	tables := []any{
		(*models.OrganizationFeatureFlags)(nil),
		(*models.OrganizationLimits)(nil),
		(*models.PermissionRule)(nil),
		(*models.ProjectMember)(nil),
		(*models.Project)(nil),
		(*models.OrganizationMember)(nil),
		(*models.Organization)(nil),
		(*models.User)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	fmt.Println(" OK")
	return nil
}
