package migrations

import (
	"context"
	"fmt"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260301000003, down_20260301000003)
}

// up_20260301000003 seeds the default permission rules
func up_20260301000003(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] seeding default permission rules...")

	for _, rule := range auth.DefaultRules() {
		row := &models.PermissionRule{
			ID:     bunx.NewUUIDv7(),
			Scope:  string(rule.Scope),
			Role:   string(rule.Role),
			Action: rule.Action,
		}
		_, err := db.NewInsert().
			Model(row).
			On("CONFLICT (scope, role, action) DO NOTHING"). // Idempotent
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed rule %s/%s/%s: %w", rule.Scope, rule.Role, rule.Action, err)
		}
	}

	fmt.Println(" OK")
	return nil
}

// down_20260301000003 removes the default permission rules
func down_20260301000003(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] removing default permission rules...")

	for _, rule := range auth.DefaultRules() {
		_, err := db.NewDelete().
			Model((*models.PermissionRule)(nil)).
			Where("scope = ? AND role = ? AND action = ?", rule.Scope, rule.Role, rule.Action).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to remove rule %s/%s/%s: %w", rule.Scope, rule.Role, rule.Action, err)
		}
	}

	fmt.Println(" OK")
	return nil
}
