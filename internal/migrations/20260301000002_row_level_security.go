package migrations

import (
	"context"
	"fmt"

	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260301000002, down_20260301000002)
}

// rlsTables are the tenant tables guarded by row policies.
var rlsTables = []string{
	"users",
	"organizations",
	"organization_members",
	"projects",
	"project_members",
	"organization_limits",
	"organization_feature_flags",
}

// up_20260301000002 installs the restricted request role, the identity helper
// functions and the row policies. SQLite has no row-level security; there
// the guard chain is the only isolation layer.
func up_20260301000002(ctx context.Context, db *bun.DB) error {
	if !rowSecurity(db) {
		fmt.Println(" [up] row-level security skipped (sqlite)")
		return nil
	}

	fmt.Print(" [up] creating restricted request role...")
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%[1]s') THEN
				CREATE ROLE %[1]s NOLOGIN;
			END IF;
		END
		$$`, bunx.RestrictedRole)); err != nil {
		return fmt.Errorf("failed to create role %s: %w", bunx.RestrictedRole, err)
	}
	for _, stmt := range []string{
		fmt.Sprintf(`GRANT %s TO CURRENT_USER`, bunx.RestrictedRole),
		fmt.Sprintf(`GRANT USAGE ON SCHEMA public TO %s`, bunx.RestrictedRole),
		fmt.Sprintf(`GRANT SELECT ON permission_rules TO %s`, bunx.RestrictedRole),
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to grant request role: %w", err)
		}
	}
	for _, table := range rlsTables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(
			`GRANT SELECT, INSERT, UPDATE, DELETE ON %s TO %s`, table, bunx.RestrictedRole)); err != nil {
			return fmt.Errorf("failed to grant on %s: %w", table, err)
		}
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating session identity functions...")
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION app_current_user_id() RETURNS uuid
		LANGUAGE sql STABLE AS $$
			SELECT nullif(current_setting('%s', true), '')::uuid
		$$;

		CREATE OR REPLACE FUNCTION app_current_org_id() RETURNS uuid
		LANGUAGE sql STABLE AS $$
			SELECT nullif(current_setting('%s', true), '')::uuid
		$$;

		CREATE OR REPLACE FUNCTION app_is_org_member(org uuid) RETURNS boolean
		LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
			SELECT EXISTS (
				SELECT 1 FROM organization_members
				WHERE organization_id = org AND user_id = app_current_user_id()
			)
		$$;

		CREATE OR REPLACE FUNCTION app_project_org(project uuid) RETURNS uuid
		LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
			SELECT organization_id FROM projects WHERE id = project
		$$;
	`, bunx.SettingCurrentUserID, bunx.SettingCurrentOrgID)); err != nil {
		return fmt.Errorf("failed to create identity functions: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] enabling row-level security...")
	for _, table := range rlsTables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, table)); err != nil {
			return fmt.Errorf("failed to enable RLS on %s: %w", table, err)
		}
	}

	policies := []string{
		// Any tagged principal may look users up; only the user may change their own row.
		`CREATE POLICY users_select ON users FOR SELECT
			USING (app_current_user_id() IS NOT NULL)`,
		`CREATE POLICY users_write ON users FOR UPDATE
			USING (id = app_current_user_id()) WITH CHECK (id = app_current_user_id())`,

		`CREATE POLICY organizations_member ON organizations FOR ALL
			USING (app_is_org_member(id) OR created_by = app_current_user_id())
			WITH CHECK (app_is_org_member(id) OR created_by = app_current_user_id())`,

		`CREATE POLICY organization_members_member ON organization_members FOR ALL
			USING (app_is_org_member(organization_id) OR user_id = app_current_user_id())
			WITH CHECK (app_is_org_member(organization_id) OR (
				user_id = app_current_user_id() AND organization_id IN (
					SELECT id FROM organizations WHERE created_by = app_current_user_id()
				)
			))`,

		// Projects are visible only inside the active organization.
		`CREATE POLICY projects_active_org ON projects FOR ALL
			USING (organization_id = app_current_org_id() AND app_is_org_member(organization_id))
			WITH CHECK (organization_id = app_current_org_id() AND app_is_org_member(organization_id))`,

		`CREATE POLICY project_members_active_org ON project_members FOR ALL
			USING (app_project_org(project_id) = app_current_org_id() AND app_is_org_member(app_current_org_id()))
			WITH CHECK (app_project_org(project_id) = app_current_org_id() AND app_is_org_member(app_current_org_id()))`,

		`CREATE POLICY organization_limits_member ON organization_limits FOR SELECT
			USING (app_is_org_member(organization_id))`,
		`CREATE POLICY organization_feature_flags_member ON organization_feature_flags FOR SELECT
			USING (app_is_org_member(organization_id))`,
	}
	for _, stmt := range policies {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create policy: %w", err)
		}
	}
	fmt.Println(" OK")

	return nil
}

// down_20260301000002 removes policies and helper functions
func down_20260301000002(ctx context.Context, db *bun.DB) error {
	if !rowSecurity(db) {
		return nil
	}

	fmt.Print(" [down] disabling row-level security...")
	policies := map[string][]string{
		"users":                      {"users_select", "users_write"},
		"organizations":              {"organizations_member"},
		"organization_members":       {"organization_members_member"},
		"projects":                   {"projects_active_org"},
		"project_members":            {"project_members_active_org"},
		"organization_limits":        {"organization_limits_member"},
		"organization_feature_flags": {"organization_feature_flags_member"},
	}
	for table, names := range policies {
		for _, name := range names {
			if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP POLICY IF EXISTS %s ON %s`, name, table)); err != nil {
				return fmt.Errorf("failed to drop policy %s: %w", name, err)
			}
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s DISABLE ROW LEVEL SECURITY`, table)); err != nil {
			return fmt.Errorf("failed to disable RLS on %s: %w", table, err)
		}
	}
	if _, err := db.ExecContext(ctx, `
		DROP FUNCTION IF EXISTS app_project_org(uuid);
		DROP FUNCTION IF EXISTS app_is_org_member(uuid);
		DROP FUNCTION IF EXISTS app_current_org_id();
		DROP FUNCTION IF EXISTS app_current_user_id();
	`); err != nil {
		return fmt.Errorf("failed to drop identity functions: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
