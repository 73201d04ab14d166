package authz

import (
	"time"
)

// ResourceKind represents a category of protected entity
type ResourceKind string

const (
	KindOrganization   ResourceKind = "organization"
	KindWorkspace      ResourceKind = "workspace"
	KindObjectInstance ResourceKind = "object_instance"
	KindObjectType     ResourceKind = "object_type"
)

// Action represents an action that can be performed on a resource kind
type Action string

const (
	ActionRead          Action = "read"
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionManageMembers Action = "manage_members"
	ActionManageTeams   Action = "manage_teams"
	ActionManageRoles   Action = "manage_roles"
)

// PrincipalKind distinguishes users from teams in role assignments
type PrincipalKind string

const (
	PrincipalUser PrincipalKind = "user"
	PrincipalTeam PrincipalKind = "team"
)

// Principal is an entity that can hold roles: a user or a team
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	ID   int64         `json:"id"`
}

// Role is a named, reusable bundle of permissions. OrganizationID is nil for
// system-wide roles available to every organization; non-nil scopes the role
// to one organization. Names are unique within their scope.
type Role struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	CreatedBy      *int64     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// IsSystem reports whether the role is system-wide (not owned by any org)
func (r *Role) IsSystem() bool {
	return r.OrganizationID == nil
}

// Permission is a single (resource kind, action) grant attached to a role.
// ApplyOrgWide marks the grant as reaching every workspace of the org;
// ApplyWorkspaceWide marks it as reaching every instance within a workspace.
// ObjectTypeID narrows an object_instance grant to one object type and must
// be set exactly when ResourceKind is object-scoped.
type Permission struct {
	ID                 int64        `json:"id"`
	RoleID             int64        `json:"role_id"`
	ResourceKind       ResourceKind `json:"resource_kind"`
	Action             Action       `json:"action"`
	ApplyOrgWide       bool         `json:"apply_org_wide"`
	ApplyWorkspaceWide bool         `json:"apply_workspace_wide"`
	ObjectTypeID       *int64       `json:"object_type_id,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// Assignment records that a principal holds a role at a given scope.
// WorkspaceID nil means the grant is at organization scope and reaches into
// every workspace of that org; a non-nil WorkspaceID confines the grant to
// that single workspace.
type Assignment struct {
	ID             int64         `json:"id"`
	PrincipalKind  PrincipalKind `json:"principal_kind"`
	PrincipalID    int64         `json:"principal_id"`
	OrganizationID int64         `json:"organization_id"`
	WorkspaceID    *int64        `json:"workspace_id,omitempty"`
	RoleID         int64         `json:"role_id"`
	AssignedBy     *int64        `json:"assigned_by,omitempty"`
	AssignedAt     time.Time     `json:"assigned_at"`
}

// Team is a named group of users within one organization
type Team struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	CreatedBy      *int64     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// TeamMember is the membership edge between a team and a user
type TeamMember struct {
	ID      int64     `json:"id"`
	TeamID  int64     `json:"team_id"`
	UserID  int64     `json:"user_id"`
	AddedBy *int64    `json:"added_by,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// CheckRequest is a single authorization question: can the user perform
// Action on ResourceKind within OrganizationID, optionally scoped to a
// workspace and an object type.
type CheckRequest struct {
	UserID         int64        `json:"user_id"`
	ResourceKind   ResourceKind `json:"resource_kind"`
	Action         Action       `json:"action"`
	OrganizationID int64        `json:"organization_id"`
	WorkspaceID    *int64       `json:"workspace_id,omitempty"`
	ObjectTypeID   *int64       `json:"object_type_id,omitempty"`
}

// CheckResult is the answer to a CheckRequest
type CheckResult struct {
	Allowed   bool      `json:"allowed"`
	CheckedAt time.Time `json:"checked_at"`
}

// GrantOptions carries the optional breadth and narrowing flags for a
// permission grant
type GrantOptions struct {
	ApplyOrgWide       bool   `json:"apply_org_wide"`
	ApplyWorkspaceWide bool   `json:"apply_workspace_wide"`
	ObjectTypeID       *int64 `json:"object_type_id,omitempty"`
}

// objectScoped reports whether the kind requires object-type narrowing
func (k ResourceKind) objectScoped() bool {
	return k == KindObjectInstance
}

// maxNameLength bounds role and team names; matches the VARCHAR(255) columns
const maxNameLength = 255
