package auth

// Action constants for permission checks.
// Actions are opaque strings; the permission_rules table decides which roles
// hold them. The constants below are the ones routes and seed data refer to.

// Organization-scoped actions
const (
	// OrganizationRead allows reading organization metadata
	OrganizationRead = "organization.read"

	// OrganizationUpdate allows renaming or recoloring an organization
	OrganizationUpdate = "organization.update"

	// OrganizationDelete allows deleting an organization
	OrganizationDelete = "organization.delete"

	MembersInvite     = "members.invite"
	MembersRemove     = "members.remove"
	MembersUpdateRole = "members.update_role"

	// ProjectsCreate allows creating projects inside the organization
	ProjectsCreate = "projects.create"

	// ProjectsDelete allows deleting any project of the organization
	ProjectsDelete = "projects.delete"

	// LimitsUpdate allows editing organization quotas
	LimitsUpdate = "limits.update"
)

// Project-scoped actions
const (
	ProjectRead   = "project.read"
	ProjectUpdate = "project.update"
	ProjectDelete = "project.delete"

	ProjectMembersInvite     = "project.members.invite"
	ProjectMembersRemove     = "project.members.remove"
	ProjectMembersUpdateRole = "project.members.update_role"

	GoalsWrite    = "goals.write"
	TasksWrite    = "tasks.write"
	MapcardsWrite = "mapcards.write"
)

// Rule is one (scope, role, action) grant.
type Rule struct {
	Scope  Scope  `yaml:"scope" json:"scope"`
	Role   Role   `yaml:"role" json:"role"`
	Action string `yaml:"action" json:"action"`
}

// DefaultRules returns the grants seeded into a fresh database.
func DefaultRules() []Rule {
	projectAdmin := []string{
		ProjectRead, ProjectUpdate,
		ProjectMembersInvite, ProjectMembersRemove, ProjectMembersUpdateRole,
		GoalsWrite, TasksWrite, MapcardsWrite,
	}

	grants := []struct {
		scope   Scope
		role    Role
		actions []string
	}{
		{ScopeOrganization, RoleOwner, []string{
			OrganizationRead, OrganizationUpdate, OrganizationDelete,
			MembersInvite, MembersRemove, MembersUpdateRole,
			ProjectsCreate, ProjectsDelete, LimitsUpdate,
		}},
		{ScopeOrganization, RoleAdmin, []string{
			OrganizationRead, OrganizationUpdate,
			MembersInvite, MembersRemove, MembersUpdateRole,
			ProjectsCreate,
		}},
		{ScopeOrganization, RoleMember, []string{OrganizationRead}},
		{ScopeProject, RoleProjectOwner, append([]string{ProjectDelete}, projectAdmin...)},
		{ScopeProject, RoleProjectAdmin, projectAdmin},
		{ScopeProject, RoleProjectMember, []string{ProjectRead, GoalsWrite, TasksWrite, MapcardsWrite}},
		{ScopeProject, RoleViewer, []string{ProjectRead}},
	}

	var rules []Rule
	for _, g := range grants {
		for _, action := range g.actions {
			rules = append(rules, Rule{Scope: g.scope, Role: g.role, Action: action})
		}
	}
	return rules
}
