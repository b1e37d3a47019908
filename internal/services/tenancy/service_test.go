package tenancy

import (
	"context"
	"testing"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/dbtest"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	svc      *Service
	users    *repository.BunUserRepository
	orgs     *repository.BunOrganizationRepository
	projects *repository.BunProjectRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.New(t)
	h := &harness{
		users:    repository.NewBunUserRepository(db),
		orgs:     repository.NewBunOrganizationRepository(db),
		projects: repository.NewBunProjectRepository(db),
	}
	h.svc = NewService(db, h.users, h.orgs, h.projects)
	return h
}

func (h *harness) user(t *testing.T, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Username: auth.UsernameFromEmail(email), Role: "user"}
	require.NoError(t, h.users.Create(context.Background(), u))
	return u
}

func TestCreateOrganization(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")

	org, err := h.svc.CreateOrganization(ctx, ann.ID, "  Acme  ", "#ff0000")
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)
	assert.Equal(t, ann.ID, org.CreatedBy)

	members, err := h.orgs.ListMembers(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, ann.ID, members[0].UserID)
	assert.Equal(t, string(auth.RoleOwner), members[0].Role)

	stored, err := h.users.GetByID(ctx, ann.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastActiveOrgID)
	assert.Equal(t, org.ID, *stored.LastActiveOrgID)

	_, err = h.svc.CreateOrganization(ctx, ann.ID, "   ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOrganizationOwnerInvariant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")
	bob := h.user(t, "bob@example.com")
	org, err := h.svc.CreateOrganization(ctx, ann.ID, "Acme", "")
	require.NoError(t, err)

	_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, bob.ID, "member")
	require.NoError(t, err)

	t.Run("sole owner cannot be demoted", func(t *testing.T) {
		err := h.svc.UpdateOrganizationMemberRole(ctx, ann.ID, org.ID, ann.ID, "admin")
		assert.ErrorIs(t, err, ErrLastOwner)
		assert.Contains(t, err.Error(), "an organization must keep at least one owner")
	})

	t.Run("sole owner cannot be removed", func(t *testing.T) {
		err := h.svc.RemoveOrganizationMember(ctx, ann.ID, org.ID, ann.ID)
		assert.ErrorIs(t, err, ErrLastOwner)

		member, err := h.orgs.GetMember(ctx, org.ID, ann.ID)
		require.NoError(t, err)
		assert.Equal(t, string(auth.RoleOwner), member.Role, "rejected mutation must not be applied")
	})

	t.Run("owner can step down once another owner exists", func(t *testing.T) {
		require.NoError(t, h.svc.UpdateOrganizationMemberRole(ctx, ann.ID, org.ID, bob.ID, "owner"))
		require.NoError(t, h.svc.UpdateOrganizationMemberRole(ctx, ann.ID, org.ID, ann.ID, "member"))

		err := h.svc.RemoveOrganizationMember(ctx, bob.ID, org.ID, bob.ID)
		assert.ErrorIs(t, err, ErrLastOwner, "bob is now the only owner")

		require.NoError(t, h.svc.RemoveOrganizationMember(ctx, bob.ID, org.ID, ann.ID))
	})

	t.Run("invalid role and unknown member", func(t *testing.T) {
		err := h.svc.UpdateOrganizationMemberRole(ctx, bob.ID, org.ID, bob.ID, "project_owner")
		assert.ErrorIs(t, err, ErrInvalidRole)

		err = h.svc.RemoveOrganizationMember(ctx, bob.ID, org.ID, ann.ID)
		assert.ErrorIs(t, err, ErrNotMember)
	})
}

func TestOwnerRoleCeiling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")
	bob := h.user(t, "bob@example.com")
	carol := h.user(t, "carol@example.com")
	org, err := h.svc.CreateOrganization(ctx, ann.ID, "Acme", "")
	require.NoError(t, err)
	_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, bob.ID, "admin")
	require.NoError(t, err)

	t.Run("admin cannot grant owner", func(t *testing.T) {
		err := h.svc.UpdateOrganizationMemberRole(ctx, bob.ID, org.ID, bob.ID, "owner")
		assert.ErrorIs(t, err, ErrInsufficientRole)

		_, err = h.svc.AddOrganizationMember(ctx, bob.ID, org.ID, carol.ID, "owner")
		assert.ErrorIs(t, err, ErrInsufficientRole)

		member, err := h.orgs.GetMember(ctx, org.ID, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, string(auth.RoleAdmin), member.Role)
	})

	t.Run("admin cannot demote or remove an owner", func(t *testing.T) {
		assert.ErrorIs(t, h.svc.UpdateOrganizationMemberRole(ctx, bob.ID, org.ID, ann.ID, "member"), ErrInsufficientRole)
		assert.ErrorIs(t, h.svc.RemoveOrganizationMember(ctx, bob.ID, org.ID, ann.ID), ErrInsufficientRole)
	})

	t.Run("admin manages non-owner roles", func(t *testing.T) {
		_, err := h.svc.AddOrganizationMember(ctx, bob.ID, org.ID, carol.ID, "member")
		require.NoError(t, err)
		require.NoError(t, h.svc.UpdateOrganizationMemberRole(ctx, bob.ID, org.ID, carol.ID, "admin"))
		require.NoError(t, h.svc.RemoveOrganizationMember(ctx, bob.ID, org.ID, carol.ID))
	})

	t.Run("project_admin cannot grant project_owner", func(t *testing.T) {
		project, err := h.svc.CreateProject(ctx, org.ID, ann.ID, "Roadmap", "")
		require.NoError(t, err)
		_, err = h.svc.AddProjectMember(ctx, ann.ID, project.ID, bob.ID, "project_admin")
		require.NoError(t, err)

		err = h.svc.UpdateProjectMemberRole(ctx, bob.ID, project.ID, bob.ID, "project_owner")
		assert.ErrorIs(t, err, ErrInsufficientRole)
		assert.ErrorIs(t, h.svc.RemoveProjectMember(ctx, bob.ID, project.ID, ann.ID), ErrInsufficientRole)

		// an organization owner without a project role is not a project_owner
		_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, carol.ID, "owner")
		require.NoError(t, err)
		_, err = h.svc.AddProjectMember(ctx, carol.ID, project.ID, carol.ID, "project_owner")
		assert.ErrorIs(t, err, ErrInsufficientRole)

		require.NoError(t, h.svc.UpdateProjectMemberRole(ctx, ann.ID, project.ID, bob.ID, "project_owner"))
	})
}

func TestAddOrganizationMember_Limits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")
	bob := h.user(t, "bob@example.com")
	carol := h.user(t, "carol@example.com")
	org, err := h.svc.CreateOrganization(ctx, ann.ID, "Acme", "")
	require.NoError(t, err)
	require.NoError(t, h.orgs.SetLimits(ctx, org.ID, models.JSONMap{"max_members": "2"}))

	_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, bob.ID, "admin")
	require.NoError(t, err)

	_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, carol.ID, "member")
	assert.ErrorIs(t, err, ErrLimitExceeded)

	_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, bob.ID, "admin")
	assert.ErrorIs(t, err, ErrLimitExceeded, "limit is checked before the duplicate")
}

func TestAddOrganizationMember_Duplicate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")
	bob := h.user(t, "bob@example.com")
	org, err := h.svc.CreateOrganization(ctx, ann.ID, "Acme", "")
	require.NoError(t, err)

	_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, bob.ID, "member")
	require.NoError(t, err)
	_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, bob.ID, "member")
	assert.ErrorIs(t, err, repository.ErrConflict)
}

// An owner creates a project, becomes its only project_owner, and cannot
// remove themselves.
func TestCreateProject_CreatorIsSoleOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")
	org, err := h.svc.CreateOrganization(ctx, ann.ID, "Acme", "")
	require.NoError(t, err)

	project, err := h.svc.CreateProject(ctx, org.ID, ann.ID, "Roadmap", "Q3 plan")
	require.NoError(t, err)
	assert.Equal(t, org.ID, project.OrganizationID)

	members, err := h.svc.ListProjectMembers(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, ann.ID, members[0].UserID)
	assert.Equal(t, string(auth.RoleProjectOwner), members[0].Role)

	err = h.svc.RemoveProjectMember(ctx, ann.ID, project.ID, ann.ID)
	require.ErrorIs(t, err, ErrLastOwner)
	assert.Equal(t, "last owner: a project must keep at least one project_owner", err.Error())

	members, err = h.svc.ListProjectMembers(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestCreateProject_Rules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")
	outsider := h.user(t, "eve@example.com")
	org, err := h.svc.CreateOrganization(ctx, ann.ID, "Acme", "")
	require.NoError(t, err)

	_, err = h.svc.CreateProject(ctx, org.ID, outsider.ID, "Nope", "")
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = h.svc.CreateProject(ctx, org.ID, ann.ID, "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, h.orgs.SetLimits(ctx, org.ID, models.JSONMap{"max_projects": float64(1)}))
	_, err = h.svc.CreateProject(ctx, org.ID, ann.ID, "First", "")
	require.NoError(t, err)
	_, err = h.svc.CreateProject(ctx, org.ID, ann.ID, "Second", "")
	assert.ErrorIs(t, err, ErrLimitExceeded)

	n, err := h.projects.CountByOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProjectMembers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")
	bob := h.user(t, "bob@example.com")
	eve := h.user(t, "eve@example.com")
	org, err := h.svc.CreateOrganization(ctx, ann.ID, "Acme", "")
	require.NoError(t, err)
	_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, bob.ID, "member")
	require.NoError(t, err)
	project, err := h.svc.CreateProject(ctx, org.ID, ann.ID, "Roadmap", "")
	require.NoError(t, err)

	_, err = h.svc.AddProjectMember(ctx, ann.ID, project.ID, eve.ID, "viewer")
	assert.ErrorIs(t, err, ErrNotMember, "project members must belong to the organization")

	_, err = h.svc.AddProjectMember(ctx, ann.ID, project.ID, bob.ID, "owner")
	assert.ErrorIs(t, err, ErrInvalidRole, "organization roles are not project roles")

	_, err = h.svc.AddProjectMember(ctx, ann.ID, project.ID, bob.ID, "project_member")
	require.NoError(t, err)

	err = h.svc.UpdateProjectMemberRole(ctx, ann.ID, project.ID, ann.ID, "viewer")
	assert.ErrorIs(t, err, ErrLastOwner)

	require.NoError(t, h.svc.UpdateProjectMemberRole(ctx, ann.ID, project.ID, bob.ID, "project_owner"))
	require.NoError(t, h.svc.RemoveProjectMember(ctx, ann.ID, project.ID, ann.ID))

	err = h.svc.RemoveProjectMember(ctx, bob.ID, project.ID, bob.ID)
	assert.ErrorIs(t, err, ErrLastOwner)
}

func TestOwnerInvariantIsPerProject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")
	bob := h.user(t, "bob@example.com")
	org, err := h.svc.CreateOrganization(ctx, ann.ID, "Acme", "")
	require.NoError(t, err)
	_, err = h.svc.AddOrganizationMember(ctx, ann.ID, org.ID, bob.ID, "admin")
	require.NoError(t, err)

	first, err := h.svc.CreateProject(ctx, org.ID, ann.ID, "First", "")
	require.NoError(t, err)
	second, err := h.svc.CreateProject(ctx, org.ID, bob.ID, "Second", "")
	require.NoError(t, err)
	_, err = h.svc.AddProjectMember(ctx, bob.ID, second.ID, ann.ID, "project_owner")
	require.NoError(t, err)

	// ann owns both projects, but is the only owner of the first one
	assert.ErrorIs(t, h.svc.RemoveProjectMember(ctx, ann.ID, first.ID, ann.ID), ErrLastOwner)
	assert.NoError(t, h.svc.RemoveProjectMember(ctx, ann.ID, second.ID, ann.ID))
}

func TestSwitchOrganization(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ann := h.user(t, "ann@example.com")
	bob := h.user(t, "bob@example.com")
	orgA, err := h.svc.CreateOrganization(ctx, ann.ID, "A", "")
	require.NoError(t, err)
	orgB, err := h.svc.CreateOrganization(ctx, bob.ID, "B", "")
	require.NoError(t, err)
	orgC, err := h.svc.CreateOrganization(ctx, ann.ID, "C", "")
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.SwitchOrganization(ctx, ann.ID, orgB.ID), ErrNotMember)
	assert.ErrorIs(t, h.svc.SwitchOrganization(ctx, ann.ID, "garbage"), ErrNotMember)

	require.NoError(t, h.svc.SwitchOrganization(ctx, ann.ID, orgA.ID))
	stored, err := h.users.GetByID(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, orgA.ID, *stored.LastActiveOrgID)
	assert.NotEqual(t, orgC.ID, *stored.LastActiveOrgID)
}

func TestDecodeLimits(t *testing.T) {
	limits, err := DecodeLimits(map[string]any{"max_projects": float64(5), "max_members": "10", "other": true})
	require.NoError(t, err)
	assert.Equal(t, Limits{MaxProjects: 5, MaxMembers: 10}, limits)

	limits, err = DecodeLimits(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, Limits{}, limits)

	_, err = DecodeLimits(map[string]any{"max_projects": "lots"})
	assert.Error(t, err)
}
