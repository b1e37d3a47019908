// Package ruleadapter exposes the permission_rules table to Casbin.
//
// Each row (scope, role, action) maps to one "p" policy line. Grouping
// ("g") policies are not used.
package ruleadapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/orbitplan/orbitapi/internal/db/models"
)

// RuleStore is the storage the adapter reads and writes.
type RuleStore interface {
	List(ctx context.Context) ([]models.PermissionRule, error)
	Add(ctx context.Context, scope, role, action string) (bool, error)
	Remove(ctx context.Context, scope, role, action string) (bool, error)
	ReplaceAll(ctx context.Context, rules []models.PermissionRule) error
}

const policyType = "p"

// Adapter implements persist.Adapter over a RuleStore.
type Adapter struct {
	store RuleStore
}

var _ persist.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter backed by store.
func NewAdapter(store RuleStore) *Adapter {
	return &Adapter{store: store}
}

// LoadPolicy loads every rule into m.
func (a *Adapter) LoadPolicy(m model.Model) error {
	rules, err := a.store.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load permission rules: %w", err)
	}
	for _, r := range rules {
		if r.Scope == "" || r.Role == "" || r.Action == "" {
			continue // skip incomplete rule
		}
		if err := m.AddPolicy(policyType, policyType, []string{r.Scope, r.Role, r.Action}); err != nil {
			return fmt.Errorf("failed to add rule %s/%s/%s: %w", r.Scope, r.Role, r.Action, err)
		}
	}
	return nil
}

// SavePolicy replaces the stored rules with the policies held in m.
func (a *Adapter) SavePolicy(m model.Model) error {
	var rules []models.PermissionRule
	if ast, ok := m[policyType][policyType]; ok {
		for _, line := range ast.Policy {
			if r, ok := toRule(line); ok {
				rules = append(rules, r)
			}
		}
	}
	if err := a.store.ReplaceAll(context.Background(), rules); err != nil {
		return fmt.Errorf("failed to save permission rules: %w", err)
	}
	return nil
}

// AddPolicy adds one rule.
func (a *Adapter) AddPolicy(_ string, ptype string, rule []string) error {
	r, ok := toRule(rule)
	if ptype != policyType || !ok {
		return fmt.Errorf("unsupported policy %s %v", ptype, rule)
	}
	_, err := a.store.Add(context.Background(), r.Scope, r.Role, r.Action)
	return err
}

// RemovePolicy removes one rule.
func (a *Adapter) RemovePolicy(_ string, ptype string, rule []string) error {
	r, ok := toRule(rule)
	if ptype != policyType || !ok {
		return fmt.Errorf("unsupported policy %s %v", ptype, rule)
	}
	_, err := a.store.Remove(context.Background(), r.Scope, r.Role, r.Action)
	return err
}

// RemoveFilteredPolicy is not supported; rules are removed one at a time.
func (a *Adapter) RemoveFilteredPolicy(string, string, int, ...string) error {
	return errors.New("filtered removal is not supported")
}

func toRule(line []string) (models.PermissionRule, bool) {
	if len(line) < 3 || line[0] == "" || line[1] == "" || line[2] == "" {
		return models.PermissionRule{}, false
	}
	return models.PermissionRule{Scope: line[0], Role: line[1], Action: line[2]}, true
}
