package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/orbitplan/orbitapi/internal/auth/ruleadapter"
)

//go:embed model.conf
var casbinModelContent string

// InitEnforcer creates a Casbin enforcer over the permission_rules table and
// loads the current rules.
func InitEnforcer(store ruleadapter.RuleStore) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, ruleadapter.NewAdapter(store))
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	// Rules change through the repository, never through the enforcer.
	enforcer.EnableAutoSave(false)

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}

	return enforcer, nil
}
