package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeRoleCreate       EventType = "authz.role_create"
	EventTypeRoleUpdate       EventType = "authz.role_update"
	EventTypeRoleDelete       EventType = "authz.role_delete"
	EventTypePermissionGrant  EventType = "authz.permission_grant"
	EventTypePermissionRevoke EventType = "authz.permission_revoke"
	EventTypeRoleAssign       EventType = "authz.role_assign"
	EventTypeRoleUnassign     EventType = "authz.role_unassign"
	EventTypeAccessDenied     EventType = "authz.access_denied"

	// Directory events
	EventTypeTeamCreate       EventType = "directory.team_create"
	EventTypeTeamUpdate       EventType = "directory.team_update"
	EventTypeTeamDelete       EventType = "directory.team_delete"
	EventTypeTeamMemberAdd    EventType = "directory.team_member_add"
	EventTypeTeamMemberRemove EventType = "directory.team_member_remove"

	// Tenancy events
	EventTypeOrgCreate        EventType = "org.create"
	EventTypeOrgUpdate        EventType = "org.update"
	EventTypeOrgDelete        EventType = "org.delete"
	EventTypeWorkspaceCreate  EventType = "org.workspace_create"
	EventTypeWorkspaceUpdate  EventType = "org.workspace_update"
	EventTypeWorkspaceDelete  EventType = "org.workspace_delete"
	EventTypeMemberAdd        EventType = "org.member_add"
	EventTypeMemberRemove     EventType = "org.member_remove"
	EventTypeObjectTypeCreate EventType = "org.object_type_create"
	EventTypeObjectTypeDelete EventType = "org.object_type_delete"

	// Invitation lifecycle events
	EventTypeInviteCreate EventType = "invite.create"
	EventTypeInviteAccept EventType = "invite.accept"
	EventTypeInviteRevoke EventType = "invite.revoke"
	EventTypeInviteExpire EventType = "invite.expire"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeRole         ResourceType = "role"
	ResourceTypePermission   ResourceType = "permission"
	ResourceTypeAssignment   ResourceType = "assignment"
	ResourceTypeTeam         ResourceType = "team"
	ResourceTypeTeamMember   ResourceType = "team_member"
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeWorkspace    ResourceType = "workspace"
	ResourceTypeObjectType   ResourceType = "object_type"
	ResourceTypeMember       ResourceType = "member"
	ResourceTypeInvitation   ResourceType = "invitation"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID         *int64 `json:"user_id,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	// Resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for querying audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID         *int64
	OrganizationID *int64

	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}
