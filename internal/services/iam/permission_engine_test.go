package iam

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionEngine_DefaultRules(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		scope  auth.Scope
		role   auth.Role
		action string
		want   bool
	}{
		{auth.ScopeOrganization, auth.RoleOwner, auth.ProjectsCreate, true},
		{auth.ScopeOrganization, auth.RoleAdmin, auth.ProjectsCreate, true},
		{auth.ScopeOrganization, auth.RoleMember, auth.ProjectsCreate, false},
		{auth.ScopeOrganization, auth.RoleMember, auth.OrganizationRead, true},
		{auth.ScopeOrganization, auth.RoleAdmin, auth.OrganizationDelete, false},
		{auth.ScopeProject, auth.RoleViewer, auth.ProjectRead, true},
		{auth.ScopeProject, auth.RoleViewer, auth.TasksWrite, false},
		{auth.ScopeProject, auth.RoleProjectMember, auth.TasksWrite, true},
		// scopes do not leak into each other
		{auth.ScopeProject, auth.RoleOwner, auth.OrganizationRead, false},
		{auth.ScopeOrganization, "", auth.OrganizationRead, false},
	}
	for _, tt := range tests {
		got := f.engine.HasPermission(tt.scope, tt.role, tt.action)
		assert.Equal(t, tt.want, got, "%s/%s/%s", tt.scope, tt.role, tt.action)
	}

	actions := f.engine.Actions(auth.ScopeOrganization, auth.RoleMember)
	assert.Equal(t, []string{auth.OrganizationRead}, actions)
	assert.Empty(t, f.engine.Actions(auth.ScopeOrganization, "nobody"))
}

func TestPermissionEngine_StaleUntilReload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before := f.engine.Snapshot()

	added, err := f.rules.Add(ctx, string(auth.ScopeOrganization), string(auth.RoleMember), auth.ProjectsCreate)
	require.NoError(t, err)
	require.True(t, added)

	assert.False(t, f.engine.HasPermission(auth.ScopeOrganization, auth.RoleMember, auth.ProjectsCreate),
		"rule added after load must stay invisible")
	assert.NotContains(t, f.engine.Actions(auth.ScopeOrganization, auth.RoleMember), auth.ProjectsCreate)

	require.NoError(t, f.engine.Reload(ctx, "test"))

	assert.True(t, f.engine.HasPermission(auth.ScopeOrganization, auth.RoleMember, auth.ProjectsCreate))
	assert.Contains(t, f.engine.Actions(auth.ScopeOrganization, auth.RoleMember), auth.ProjectsCreate)
	assert.Equal(t, before.Version+1, f.engine.Snapshot().Version)

	removed, err := f.rules.Remove(ctx, string(auth.ScopeOrganization), string(auth.RoleMember), auth.OrganizationRead)
	require.NoError(t, err)
	require.True(t, removed)
	assert.True(t, f.engine.HasPermission(auth.ScopeOrganization, auth.RoleMember, auth.OrganizationRead))

	require.NoError(t, f.engine.Reload(ctx, "test"))
	assert.False(t, f.engine.HasPermission(auth.ScopeOrganization, auth.RoleMember, auth.OrganizationRead))
}

func TestPermissionEngine_InitialLoadFailure(t *testing.T) {
	store := &mockRuleStore{listErr: errBoom}
	_, err := NewPermissionEngine(store, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}

func TestPermissionEngine_FailedReloadKeepsRules(t *testing.T) {
	store := &mockRuleStore{rules: []models.PermissionRule{
		{Scope: "project", Role: "viewer", Action: auth.ProjectRead},
	}}
	engine, err := NewPermissionEngine(store, nil, nil, nil)
	require.NoError(t, err)

	store.mu.Lock()
	store.listErr = errBoom
	store.mu.Unlock()

	require.Error(t, engine.Reload(context.Background(), "test"))
	assert.Equal(t, []string{auth.ProjectRead}, engine.Actions(auth.ScopeProject, auth.RoleViewer))
}

func TestPermissionEngine_ConcurrentReadsDuringReload(t *testing.T) {
	store := &mockRuleStore{rules: []models.PermissionRule{
		{Scope: "organization", Role: "member", Action: auth.OrganizationRead},
	}}
	engine, err := NewPermissionEngine(store, nil, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.True(t, engine.HasPermission(auth.ScopeOrganization, auth.RoleMember, auth.OrganizationRead))
				_ = engine.Actions(auth.ScopeOrganization, auth.RoleMember)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, engine.Reload(context.Background(), "test"))
	}
	wg.Wait()
	assert.Equal(t, 21, engine.Snapshot().Version)
}

func TestPermissionEngine_Authorize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "owner@example.com", "user")
	member := f.user(t, "member@example.com", "user")
	outsider := f.user(t, "outsider@example.com", "user")
	org := f.org(t, "Acme", map[*models.User]auth.Role{owner: auth.RoleOwner, member: auth.RoleMember})
	project := f.project(t, org, map[*models.User]auth.Role{owner: auth.RoleProjectOwner, member: auth.RoleViewer})

	require.NoError(t, f.engine.AuthorizeOrganization(ctx, owner.ID, org.ID, auth.ProjectsCreate))

	err := f.engine.AuthorizeOrganization(ctx, member.ID, org.ID, auth.ProjectsCreate)
	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, auth.ProjectsCreate, denied.Action)
	assert.Equal(t, auth.ScopeOrganization, denied.Scope)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, "permission denied: projects.create", err.Error())

	err = f.engine.AuthorizeOrganization(ctx, outsider.ID, org.ID, auth.OrganizationRead)
	assert.ErrorIs(t, err, ErrPermissionDenied, "non-members are denied, never errored")

	require.NoError(t, f.engine.AuthorizeProject(ctx, member.ID, project.ID, auth.ProjectRead))
	err = f.engine.AuthorizeProject(ctx, member.ID, project.ID, auth.GoalsWrite)
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, auth.ScopeProject, denied.Scope)
}
