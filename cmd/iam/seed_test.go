package iam

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitplan/orbitapi/internal/auth"
)

func TestParseRuleFile(t *testing.T) {
	doc := `
rules:
  - scope: organization
    role: owner
    actions: [organization.read, projects.create]
  - scope: project
    role: viewer
    actions: [project.read, project.read]
`
	rules, err := ParseRuleFile(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, []auth.Rule{
		{Scope: auth.ScopeOrganization, Role: auth.RoleOwner, Action: auth.OrganizationRead},
		{Scope: auth.ScopeOrganization, Role: auth.RoleOwner, Action: auth.ProjectsCreate},
		{Scope: auth.ScopeProject, Role: auth.RoleViewer, Action: auth.ProjectRead},
	}, rules)
}

func TestParseRuleFileRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "empty"},
		{"unknown scope", "rules:\n  - {scope: team, role: owner, actions: [a]}\n", "rules[0]"},
		{"role outside scope", "rules:\n  - {scope: organization, role: viewer, actions: [a]}\n", "rules[0]"},
		{"no actions", "rules:\n  - {scope: project, role: viewer}\n", "at least one action"},
		{"blank action", "rules:\n  - {scope: project, role: viewer, actions: [\"\"]}\n", "empty action"},
		{"unknown field", "rules:\n  - {scope: project, role: viewer, action: a}\n", "decode rule file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleFile(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
