package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User represents a human or service principal.
//
// ExternalSubject stores the remote identity provider's "sub" claim and is
// nil for users that only ever authenticated with locally issued tokens.
// Role is the legacy global role ("user", "admin", "service", ...) and is
// unrelated to organization or project membership.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID              string    `bun:"id,pk,type:uuid"`
	ExternalSubject *string   `bun:"external_subject,unique"`
	Email           string    `bun:"email,notnull,unique"`
	Username        string    `bun:"username"`
	Role            string    `bun:"role,notnull,default:'user'"`
	LastActiveOrgID *string   `bun:"last_active_org_id,type:uuid"`
	CreatedAt       time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// HasSubject reports whether the user is linked to a remote identity.
func (u *User) HasSubject() bool {
	return u != nil && u.ExternalSubject != nil && *u.ExternalSubject != ""
}

// PermissionRule grants one action to a role within a scope.
// The table is the single source of truth for the permission engine.
type PermissionRule struct {
	bun.BaseModel `bun:"table:permission_rules,alias:pr"`

	ID        string    `bun:"id,pk,type:uuid"`
	Scope     string    `bun:"scope,notnull,unique:uq_permission_rule"`
	Role      string    `bun:"role,notnull,unique:uq_permission_rule"`
	Action    string    `bun:"action,notnull,unique:uq_permission_rule"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
