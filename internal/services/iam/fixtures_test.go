package iam

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/dbtest"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/stretchr/testify/require"
)

// fixture is a migrated SQLite database with the default permission rules.
type fixture struct {
	users    *repository.BunUserRepository
	orgs     *repository.BunOrganizationRepository
	projects *repository.BunProjectRepository
	rules    *repository.BunPermissionRuleRepository
	engine   *PermissionEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	f := &fixture{
		users:    repository.NewBunUserRepository(db),
		orgs:     repository.NewBunOrganizationRepository(db),
		projects: repository.NewBunProjectRepository(db),
		rules:    repository.NewBunPermissionRuleRepository(db),
	}
	engine, err := NewPermissionEngine(f.rules, f.orgs, f.projects, nil)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) user(t *testing.T, email, role string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Username: auth.UsernameFromEmail(email), Role: role}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func (f *fixture) org(t *testing.T, name string, members map[*models.User]auth.Role) *models.Organization {
	t.Helper()
	ctx := context.Background()
	var creator string
	for u := range members {
		creator = u.ID
		break
	}
	org := &models.Organization{Name: name, CreatedBy: creator}
	require.NoError(t, f.orgs.Create(ctx, org))
	for u, role := range members {
		require.NoError(t, f.orgs.AddMember(ctx, &models.OrganizationMember{
			OrganizationID: org.ID, UserID: u.ID, Role: string(role),
		}))
	}
	return org
}

func (f *fixture) project(t *testing.T, org *models.Organization, members map[*models.User]auth.Role) *models.Project {
	t.Helper()
	ctx := context.Background()
	p := &models.Project{OrganizationID: org.ID, Name: "Roadmap", CreatedBy: org.CreatedBy}
	require.NoError(t, f.projects.Create(ctx, p))
	for u, role := range members {
		require.NoError(t, f.projects.AddMember(ctx, &models.ProjectMember{
			ProjectID: p.ID, UserID: u.ID, Role: string(role),
		}))
	}
	return p
}

// mockRuleStore is an in-memory ruleadapter.RuleStore.
type mockRuleStore struct {
	mu      sync.Mutex
	rules   []models.PermissionRule
	listErr error
}

func (m *mockRuleStore) List(ctx context.Context) ([]models.PermissionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]models.PermissionRule(nil), m.rules...), nil
}

func (m *mockRuleStore) Add(ctx context.Context, scope, role, action string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.Scope == scope && r.Role == role && r.Action == action {
			return false, nil
		}
	}
	m.rules = append(m.rules, models.PermissionRule{Scope: scope, Role: role, Action: action})
	return true, nil
}

func (m *mockRuleStore) Remove(ctx context.Context, scope, role, action string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rules {
		if r.Scope == scope && r.Role == role && r.Action == action {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRuleStore) ReplaceAll(ctx context.Context, rules []models.PermissionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]models.PermissionRule(nil), rules...)
	return nil
}

// stubVerifier returns a fixed identity or error.
type stubVerifier struct {
	identity *auth.Identity
	err      error
	calls    int
}

func (s *stubVerifier) Verify(ctx context.Context, raw string) (*auth.Identity, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}

var errBoom = errors.New("boom")
