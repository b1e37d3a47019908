package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/dbtest"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func seedUser(t *testing.T, db *bun.DB, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Username: email, Role: "user"}
	require.NoError(t, NewBunUserRepository(db).Create(context.Background(), u))
	return u
}

func seedOrg(t *testing.T, db *bun.DB, owner *models.User) *models.Organization {
	t.Helper()
	ctx := context.Background()
	repo := NewBunOrganizationRepository(db)
	org := &models.Organization{Name: "Acme", CreatedBy: owner.ID}
	require.NoError(t, repo.Create(ctx, org))
	require.NoError(t, repo.AddMember(ctx, &models.OrganizationMember{
		OrganizationID: org.ID, UserID: owner.ID, Role: "owner",
	}))
	return org
}

func TestBunUserRepository_Ensure(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions unknown subject", func(t *testing.T) {
		db := dbtest.New(t)
		repo := NewBunUserRepository(db)

		u, err := repo.Ensure(ctx, "sub-1", "ann@example.com", "ann")
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		require.NotNil(t, u.ExternalSubject)
		assert.Equal(t, "sub-1", *u.ExternalSubject)
		assert.Equal(t, "ann", u.Username)

		again, err := repo.Ensure(ctx, "sub-1", "ann@example.com", "ann")
		require.NoError(t, err)
		assert.Equal(t, u.ID, again.ID, "same subject resolves to the same user")
	})

	t.Run("links legacy email-only user", func(t *testing.T) {
		db := dbtest.New(t)
		repo := NewBunUserRepository(db)
		legacy := seedUser(t, db, "bob@example.com")

		u, err := repo.Ensure(ctx, "sub-bob", "bob@example.com", "bob")
		require.NoError(t, err)
		assert.Equal(t, legacy.ID, u.ID)

		stored, err := repo.GetByID(ctx, legacy.ID)
		require.NoError(t, err)
		require.True(t, stored.HasSubject())
		assert.Equal(t, "sub-bob", *stored.ExternalSubject)
	})

	t.Run("rejects email owned by another subject", func(t *testing.T) {
		db := dbtest.New(t)
		repo := NewBunUserRepository(db)
		_, err := repo.Ensure(ctx, "sub-a", "cy@example.com", "cy")
		require.NoError(t, err)

		_, err = repo.Ensure(ctx, "sub-b", "cy@example.com", "cy")
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("concurrent first logins converge", func(t *testing.T) {
		db := dbtest.New(t)
		repo := NewBunUserRepository(db)

		var wg sync.WaitGroup
		ids := make([]string, 8)
		errs := make([]error, 8)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				u, err := repo.Ensure(ctx, "sub-race", "race@example.com", "race")
				if err == nil {
					ids[i] = u.ID
				}
				errs[i] = err
			}(i)
		}
		wg.Wait()

		for i := range ids {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		count, err := db.NewSelect().Model((*models.User)(nil)).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestBunUserRepository_GetByID_NotFound(t *testing.T) {
	db := dbtest.New(t)
	_, err := NewBunUserRepository(db).GetByID(context.Background(), bunx.NewUUIDv7())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBunOrganizationRepository_Members(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := NewBunOrganizationRepository(db)

	owner := seedUser(t, db, "owner@example.com")
	org := seedOrg(t, db, owner)

	m, err := repo.GetMember(ctx, org.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner", m.Role)

	err = repo.AddMember(ctx, &models.OrganizationMember{OrganizationID: org.ID, UserID: owner.ID, Role: "member"})
	require.ErrorIs(t, err, ErrConflict, "a user is a member at most once")

	membership, err := repo.AnyMembership(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, org.ID, membership.OrganizationID)

	owners, err := repo.LockMembersWithRole(ctx, org.ID, "owner")
	require.NoError(t, err)
	assert.Len(t, owners, 1)

	require.ErrorIs(t, repo.RemoveMember(ctx, org.ID, bunx.NewUUIDv7()), ErrNotFound)
	require.NoError(t, repo.UpdateMemberRole(ctx, org.ID, owner.ID, "admin"))
	require.NoError(t, repo.RemoveMember(ctx, org.ID, owner.ID))

	_, err = repo.AnyMembership(ctx, owner.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBunOrganizationRepository_LimitsAndFlags(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := NewBunOrganizationRepository(db)
	org := seedOrg(t, db, seedUser(t, db, "o@example.com"))

	limits, err := repo.GetLimits(ctx, org.ID)
	require.NoError(t, err)
	assert.Empty(t, limits, "absent document defaults to empty")

	require.NoError(t, repo.SetLimits(ctx, org.ID, models.JSONMap{"max_projects": 3}))
	require.NoError(t, repo.SetLimits(ctx, org.ID, models.JSONMap{"max_projects": 5}))
	limits, err = repo.GetLimits(ctx, org.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, limits["max_projects"])

	require.NoError(t, repo.SetFlags(ctx, org.ID, models.JSONMap{"boards_enabled": true}))
	flags, err := repo.GetFlags(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, true, flags["boards_enabled"])
}

func TestBunOrganizationRepository_LockLimits(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := NewBunOrganizationRepository(db)
	org := seedOrg(t, db, seedUser(t, db, "o@example.com"))

	err := bunx.RunInTx(ctx, db, func(ctx context.Context) error {
		limits, err := repo.LockLimits(ctx, org.ID)
		require.NoError(t, err)
		assert.Empty(t, limits, "organization row is locked even without a limits row")

		require.NoError(t, repo.SetLimits(ctx, org.ID, models.JSONMap{"max_members": 4}))
		limits, err = repo.LockLimits(ctx, org.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 4, limits["max_members"])
		return nil
	})
	require.NoError(t, err)

	_, err = repo.LockLimits(ctx, bunx.NewUUIDv7())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBunProjectRepository_GetInOrganization(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	projects := NewBunProjectRepository(db)

	u := seedUser(t, db, "p@example.com")
	orgA := seedOrg(t, db, u)
	orgB := seedOrg(t, db, u)

	p := &models.Project{OrganizationID: orgA.ID, Name: "Roadmap", CreatedBy: u.ID}
	require.NoError(t, projects.Create(ctx, p))

	got, err := projects.GetInOrganization(ctx, orgA.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = projects.GetInOrganization(ctx, orgB.ID, p.ID)
	require.ErrorIs(t, err, ErrNotFound, "cross-tenant lookups never resolve")

	n, err := projects.CountByOrganization(ctx, orgA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBunPermissionRuleRepository(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := NewBunPermissionRuleRepository(db)

	seeded, err := repo.List(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, seeded)

	added, err := repo.Add(ctx, "organization", "member", "projects.create")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.Add(ctx, "organization", "member", "projects.create")
	require.NoError(t, err)
	assert.False(t, added, "duplicate rules are ignored")

	removed, err := repo.Remove(ctx, "organization", "member", "projects.create")
	require.NoError(t, err)
	assert.True(t, removed)

	require.NoError(t, repo.ReplaceAll(ctx, []models.PermissionRule{
		{Scope: "project", Role: "viewer", Action: "project.read"},
	}))
	rules, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "project.read", rules[0].Action)
}
