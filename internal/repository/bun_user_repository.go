package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/uptrace/bun"
)

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db *bun.DB
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db *bun.DB) *BunUserRepository {
	return &BunUserRepository{db: db}
}

// Create inserts a new user into the database
func (r *BunUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = bunx.NewUUIDv7()
	}
	_, err := bunx.Conn(ctx, r.db).NewInsert().
		Model(user).
		Exec(ctx)
	return mapError("create user", err)
}

// GetByID retrieves a user by their ID
func (r *BunUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := new(models.User)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, mapError("get user by ID", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by their email
func (r *BunUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user := new(models.User)
	err := bunx.Conn(ctx, r.db).NewSelect().
		Model(user).
		Where("email = ?", email).
		Scan(ctx)
	if err != nil {
		return nil, mapError("get user by email", err)
	}
	return user, nil
}

// Ensure resolves a remote identity to a user row.
//
// The lookup is OR-matched on subject and email. An email-only user is
// linked with a conditional update so two racing requests cannot link two
// different subjects. New users are provisioned with an upsert keyed on
// external_subject, so concurrent first logins converge on one row.
func (r *BunUserRepository) Ensure(ctx context.Context, subject, email, username string) (*models.User, error) {
	conn := bunx.Conn(ctx, r.db)

	var candidates []models.User
	err := conn.NewSelect().
		Model(&candidates).
		Where("external_subject = ?", subject).
		WhereOr("email = ?", email).
		Scan(ctx)
	if err != nil {
		return nil, mapError("lookup user by subject or email", err)
	}

	var byEmail *models.User
	for i := range candidates {
		u := &candidates[i]
		if u.ExternalSubject != nil && *u.ExternalSubject == subject {
			return u, nil
		}
		if u.Email == email {
			byEmail = u
		}
	}

	if byEmail != nil {
		if byEmail.HasSubject() {
			return nil, fmt.Errorf("email %s is linked to another subject: %w", email, ErrConflict)
		}
		return r.link(ctx, conn, byEmail, subject)
	}

	user := &models.User{
		ID:              bunx.NewUUIDv7(),
		ExternalSubject: &subject,
		Email:           email,
		Username:        username,
		Role:            "user",
	}
	_, err = conn.NewInsert().
		Model(user).
		On("CONFLICT (external_subject) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, mapError("provision user", err)
	}
	return user, nil
}

func (r *BunUserRepository) link(ctx context.Context, conn bun.IDB, user *models.User, subject string) (*models.User, error) {
	res, err := conn.NewUpdate().
		Model((*models.User)(nil)).
		Set("external_subject = ?", subject).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", user.ID).
		Where("external_subject IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, mapError("link user subject", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race: someone linked this row first.
		linked, err := r.GetByID(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if linked.ExternalSubject == nil || *linked.ExternalSubject != subject {
			return nil, fmt.Errorf("email %s is linked to another subject: %w", user.Email, ErrConflict)
		}
		return linked, nil
	}
	user.ExternalSubject = &subject
	return user, nil
}

// SetLastActiveOrganization records the organization the user last switched to
func (r *BunUserRepository) SetLastActiveOrganization(ctx context.Context, userID string, orgID *string) error {
	res, err := bunx.Conn(ctx, r.db).NewUpdate().
		Model((*models.User)(nil)).
		Set("last_active_org_id = ?", orgID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return mapError("set last active organization", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set last active organization: %w", ErrNotFound)
	}
	return nil
}
