package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Organization is a tenant. Every project belongs to exactly one.
type Organization struct {
	bun.BaseModel `bun:"table:organizations,alias:o"`

	ID        string    `bun:"id,pk,type:uuid"`
	Name      string    `bun:"name,notnull"`
	Color     string    `bun:"color"`
	CreatedBy string    `bun:"created_by,notnull,type:uuid"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// OrganizationMember binds a user to an organization with a role.
type OrganizationMember struct {
	bun.BaseModel `bun:"table:organization_members,alias:om"`

	ID             string    `bun:"id,pk,type:uuid"`
	OrganizationID string    `bun:"organization_id,notnull,type:uuid,unique:uq_org_member"`
	UserID         string    `bun:"user_id,notnull,type:uuid,unique:uq_org_member"`
	Role           string    `bun:"role,notnull"`
	JoinedAt       time.Time `bun:"joined_at,notnull,default:current_timestamp"`
}

// Project is a container scoped to one organization.
type Project struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID             string    `bun:"id,pk,type:uuid"`
	OrganizationID string    `bun:"organization_id,notnull,type:uuid"`
	Name           string    `bun:"name,notnull"`
	Description    string    `bun:"description"`
	CreatedBy      string    `bun:"created_by,notnull,type:uuid"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ProjectMember binds a user to a project with a project role.
type ProjectMember struct {
	bun.BaseModel `bun:"table:project_members,alias:pm"`

	ID        string    `bun:"id,pk,type:uuid"`
	ProjectID string    `bun:"project_id,notnull,type:uuid,unique:uq_project_member"`
	UserID    string    `bun:"user_id,notnull,type:uuid,unique:uq_project_member"`
	Role      string    `bun:"role,notnull"`
	JoinedAt  time.Time `bun:"joined_at,notnull,default:current_timestamp"`
}

// OrganizationLimits holds the quota document of one organization.
type OrganizationLimits struct {
	bun.BaseModel `bun:"table:organization_limits,alias:ol"`

	OrganizationID string    `bun:"organization_id,pk,type:uuid"`
	Limits         JSONMap   `bun:"limits,type:jsonb,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// OrganizationFeatureFlags holds the feature switches of one organization.
type OrganizationFeatureFlags struct {
	bun.BaseModel `bun:"table:organization_feature_flags,alias:off"`

	OrganizationID string    `bun:"organization_id,pk,type:uuid"`
	Flags          JSONMap   `bun:"flags,type:jsonb,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
