package repository

import (
	"context"

	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/uptrace/bun"
)

// BunPermissionRuleRepository implements PermissionRuleRepository using Bun ORM
type BunPermissionRuleRepository struct {
	db *bun.DB
}

// NewBunPermissionRuleRepository creates a new Bun-based rule repository
func NewBunPermissionRuleRepository(db *bun.DB) *BunPermissionRuleRepository {
	return &BunPermissionRuleRepository{db: db}
}

// List returns every rule ordered by scope, role, action
func (r *BunPermissionRuleRepository) List(ctx context.Context) ([]models.PermissionRule, error) {
	var rules []models.PermissionRule
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(&rules).
		Order("scope ASC", "role ASC", "action ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError("list permission rules", err)
	}
	return rules, nil
}

// Add inserts a rule unless it already exists
func (r *BunPermissionRuleRepository) Add(ctx context.Context, scope, role, action string) (bool, error) {
	rule := &models.PermissionRule{ID: bunx.NewUUIDv7(), Scope: scope, Role: role, Action: action}
	res, err := bunx.Conn(ctx, r.db).NewInsert().
		Model(rule).
		On("CONFLICT (scope, role, action) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, mapError("add permission rule", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Remove deletes a rule
func (r *BunPermissionRuleRepository) Remove(ctx context.Context, scope, role, action string) (bool, error) {
	res, err := bunx.Conn(ctx, r.db).NewDelete().
		Model((*models.PermissionRule)(nil)).
		Where("scope = ?", scope).
		Where("role = ?", role).
		Where("action = ?", action).
		Exec(ctx)
	if err != nil {
		return false, mapError("remove permission rule", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReplaceAll deletes every rule and inserts rules in one transaction
func (r *BunPermissionRuleRepository) ReplaceAll(ctx context.Context, rules []models.PermissionRule) error {
	return bunx.RunInTx(ctx, r.db, func(ctx context.Context) error {
		conn := bunx.Conn(ctx, r.db)
		if _, err := conn.NewDelete().
			Model((*models.PermissionRule)(nil)).
			Where("1 = 1").
			Exec(ctx); err != nil {
			return mapError("clear permission rules", err)
		}
		if len(rules) == 0 {
			return nil
		}
		for i := range rules {
			if rules[i].ID == "" {
				rules[i].ID = bunx.NewUUIDv7()
			}
		}
		if _, err := conn.NewInsert().
			Model(&rules).
			On("CONFLICT (scope, role, action) DO NOTHING").
			Exec(ctx); err != nil {
			return mapError("insert permission rules", err)
		}
		return nil
	})
}
