package authz

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/httputil"
	"github.com/platinummonkey/backoffice/pkg/middleware"
)

// Handlers provides the HTTP surface for roles, permissions, assignments,
// teams, and permission checks. Every mutation invalidates the affected
// organization's cached decisions and writes an audit event.
type Handlers struct {
	store       *Store
	engine      *Engine
	cache       *DecisionCache
	auditLogger audit.Logger
}

// NewHandlers creates authorization handlers. cache and auditLogger may be
// nil.
func NewHandlers(store *Store, engine *Engine, cache *DecisionCache, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{
		store:       store,
		engine:      engine,
		cache:       cache,
		auditLogger: auditLogger,
	}
}

// RegisterRoutes registers all authorization routes. The router is expected
// to already carry identity middleware. When pm is non-nil, admin mutations
// require manage_roles or manage_teams within the route's organization;
// reads and /authz/check stay open to any authenticated caller.
func (h *Handlers) RegisterRoutes(router *mux.Router, pm *PermissionMiddleware) {
	manageRoles := routeGuard(pm, KindOrganization, ActionManageRoles)
	manageTeams := routeGuard(pm, KindOrganization, ActionManageTeams)

	// Role management
	router.Handle("/orgs/{org_id}/roles", manageRoles(http.HandlerFunc(h.CreateRole))).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/roles/{id}", h.GetRole).Methods("GET")
	router.Handle("/orgs/{org_id}/roles/{id}", manageRoles(http.HandlerFunc(h.UpdateRole))).Methods("PUT")
	router.Handle("/orgs/{org_id}/roles/{id}", manageRoles(http.HandlerFunc(h.DeleteRole))).Methods("DELETE")

	// Permission management
	router.Handle("/orgs/{org_id}/roles/{id}/permissions", manageRoles(http.HandlerFunc(h.GrantPermission))).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/roles/{id}/permissions", h.ListPermissions).Methods("GET")
	router.Handle("/orgs/{org_id}/permissions/{id}", manageRoles(http.HandlerFunc(h.RevokePermission))).Methods("DELETE")

	// Role assignments
	router.Handle("/orgs/{org_id}/assignments", manageRoles(http.HandlerFunc(h.Assign))).Methods("POST")
	router.Handle("/orgs/{org_id}/assignments/{id}", manageRoles(http.HandlerFunc(h.Unassign))).Methods("DELETE")
	router.HandleFunc("/orgs/{org_id}/principals/{kind}/{id}/assignments", h.ListAssignments).Methods("GET")

	// Team management
	router.Handle("/orgs/{org_id}/teams", manageTeams(http.HandlerFunc(h.CreateTeam))).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/teams", h.ListTeams).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/teams/{id}", h.GetTeam).Methods("GET")
	router.Handle("/orgs/{org_id}/teams/{id}", manageTeams(http.HandlerFunc(h.UpdateTeam))).Methods("PUT")
	router.Handle("/orgs/{org_id}/teams/{id}", manageTeams(http.HandlerFunc(h.DeleteTeam))).Methods("DELETE")
	router.Handle("/orgs/{org_id}/teams/{id}/members", manageTeams(http.HandlerFunc(h.AddTeamMember))).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/teams/{id}/members", h.ListTeamMembers).Methods("GET")
	router.Handle("/orgs/{org_id}/teams/{id}/members/{user_id}", manageTeams(http.HandlerFunc(h.RemoveTeamMember))).Methods("DELETE")

	// Permission checking
	router.HandleFunc("/authz/check", h.Check).Methods("POST")
}

// routeGuard returns the permission guard for (kind, action), or a
// pass-through when no middleware is installed.
func routeGuard(pm *PermissionMiddleware, kind ResourceKind, action Action) func(http.Handler) http.Handler {
	if pm == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return pm.RequirePermission(kind, action)
}

// CreateRole creates an org-scoped role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &Role{
		Name:           req.Name,
		Description:    req.Description,
		OrganizationID: &orgID,
		CreatedBy:      callerID(r),
	}

	if err := h.store.CreateRole(ctx, role); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.invalidateOrg(ctx, orgID)
	h.logAudit(r, audit.EventTypeRoleCreate, audit.ResourceTypeRole, role.ID, orgID)

	httputil.WriteCreated(w, role)
}

// ListRoles lists the roles visible to an organization
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	roles, err := h.store.ListRoles(r.Context(), orgID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// GetRole retrieves a specific role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

// UpdateRole updates a role's name and description
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(ctx, roleID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role.Name = req.Name
	role.Description = req.Description

	if err := h.store.UpdateRole(ctx, role); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.invalidateOrg(ctx, orgID)
	h.logAudit(r, audit.EventTypeRoleUpdate, audit.ResourceTypeRole, role.ID, orgID)

	httputil.WriteSuccess(w, role)
}

// DeleteRole soft-deletes a role and its permission rows
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteRole(ctx, roleID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.invalidateOrg(ctx, orgID)
	h.logAudit(r, audit.EventTypeRoleDelete, audit.ResourceTypeRole, roleID, orgID)

	httputil.WriteNoContent(w)
}

// GrantPermission attaches a permission to a role
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		ResourceKind       ResourceKind `json:"resource_kind"`
		Action             Action       `json:"action"`
		ApplyOrgWide       bool         `json:"apply_org_wide"`
		ApplyWorkspaceWide bool         `json:"apply_workspace_wide"`
		ObjectTypeID       *int64       `json:"object_type_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm, err := h.store.Grant(ctx, roleID, req.ResourceKind, req.Action, GrantOptions{
		ApplyOrgWide:       req.ApplyOrgWide,
		ApplyWorkspaceWide: req.ApplyWorkspaceWide,
		ObjectTypeID:       req.ObjectTypeID,
	})
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.invalidateOrg(ctx, orgID)
	h.logAudit(r, audit.EventTypePermissionGrant, audit.ResourceTypePermission, perm.ID, orgID)

	httputil.WriteCreated(w, perm)
}

// ListPermissions lists a role's live permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.store.ListPermissions(r.Context(), roleID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, perms)
}

// RevokePermission removes a permission from its role
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	permID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Revoke(ctx, permID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.invalidateOrg(ctx, orgID)
	h.logAudit(r, audit.EventTypePermissionRevoke, audit.ResourceTypePermission, permID, orgID)

	httputil.WriteNoContent(w)
}

// Assign grants a role to a principal
func (h *Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	var req struct {
		PrincipalKind PrincipalKind `json:"principal_kind"`
		PrincipalID   int64         `json:"principal_id"`
		WorkspaceID   *int64        `json:"workspace_id"`
		RoleID        int64         `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	principal := Principal{Kind: req.PrincipalKind, ID: req.PrincipalID}
	assignment, err := h.store.Assign(ctx, principal, orgID, req.WorkspaceID, req.RoleID, callerID(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.invalidateOrg(ctx, orgID)
	h.logAudit(r, audit.EventTypeRoleAssign, audit.ResourceTypeAssignment, assignment.ID, orgID)

	httputil.WriteCreated(w, assignment)
}

// Unassign revokes an assignment
func (h *Handlers) Unassign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	assignmentID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Unassign(ctx, assignmentID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.invalidateOrg(ctx, orgID)
	h.logAudit(r, audit.EventTypeRoleUnassign, audit.ResourceTypeAssignment, assignmentID, orgID)

	httputil.WriteNoContent(w)
}

// ListAssignments lists a principal's assignments within an organization
func (h *Handlers) ListAssignments(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	principalID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	kind := PrincipalKind(mux.Vars(r)["kind"])
	if kind != PrincipalUser && kind != PrincipalTeam {
		httputil.WriteBadRequest(w, "principal kind must be user or team")
		return
	}

	assignments, err := h.store.ListForPrincipal(r.Context(), Principal{Kind: kind, ID: principalID}, orgID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, assignments)
}

// CreateTeam creates a team
func (h *Handlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	team := &Team{
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
		CreatedBy:      callerID(r),
	}

	if err := h.store.CreateTeam(ctx, team); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeTeamCreate, audit.ResourceTypeTeam, team.ID, orgID)

	httputil.WriteCreated(w, team)
}

// ListTeams lists an organization's teams
func (h *Handlers) ListTeams(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	teams, err := h.store.ListTeams(r.Context(), orgID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, teams)
}

// GetTeam retrieves a specific team
func (h *Handlers) GetTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	team, err := h.store.GetTeam(r.Context(), teamID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, team)
}

// UpdateTeam updates a team
func (h *Handlers) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	team, err := h.store.GetTeam(ctx, teamID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	team.Name = req.Name
	team.Description = req.Description

	if err := h.store.UpdateTeam(ctx, team); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeTeamUpdate, audit.ResourceTypeTeam, team.ID, orgID)

	httputil.WriteSuccess(w, team)
}

// DeleteTeam soft-deletes a team
func (h *Handlers) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteTeam(ctx, teamID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	// Team deletion changes principal resolution, so decisions for the
	// whole org go stale.
	h.invalidateOrg(ctx, orgID)
	h.logAudit(r, audit.EventTypeTeamDelete, audit.ResourceTypeTeam, teamID, orgID)

	httputil.WriteNoContent(w)
}

// AddTeamMember adds a user to a team
func (h *Handlers) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member := &TeamMember{
		TeamID:  teamID,
		UserID:  req.UserID,
		AddedBy: callerID(r),
	}

	if err := h.store.AddTeamMember(ctx, member); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.invalidateUser(ctx, req.UserID)
	h.logAudit(r, audit.EventTypeTeamMemberAdd, audit.ResourceTypeTeamMember, member.ID, orgID)

	httputil.WriteCreated(w, member)
}

// ListTeamMembers lists a team's members
func (h *Handlers) ListTeamMembers(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	members, err := h.store.ListTeamMembers(r.Context(), teamID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, members)
}

// RemoveTeamMember removes a user from a team
func (h *Handlers) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	teamID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.store.RemoveTeamMember(ctx, teamID, userID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.invalidateUser(ctx, userID)
	h.logAudit(r, audit.EventTypeTeamMemberRemove, audit.ResourceTypeTeamMember, teamID, orgID)

	httputil.WriteNoContent(w)
}

// Check answers an authorization question for any user. Intended for service
// callers verifying on behalf of their own requests.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.engine.Check(r.Context(), req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// callerID returns the authenticated caller's user id, nil when anonymous
func callerID(r *http.Request) *int64 {
	if id := middleware.GetIdentity(r); id != nil {
		return &id.UserID
	}
	return nil
}

func (h *Handlers) invalidateOrg(ctx context.Context, orgID int64) {
	if h.cache != nil {
		h.cache.InvalidateOrg(ctx, orgID)
	}
}

func (h *Handlers) invalidateUser(ctx context.Context, userID int64) {
	if h.cache != nil {
		h.cache.InvalidateUser(ctx, userID)
	}
}

func (h *Handlers) logAudit(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID, orgID int64) {
	event := &audit.Event{
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		Status:         audit.EventStatusSuccess,
		UserID:         callerID(r),
		OrganizationID: &orgID,
		ResourceType:   resourceType,
		ResourceID:     strconv.FormatInt(resourceID, 10),
		RequestID:      middleware.GetRequestID(r.Context()),
	}
	h.auditLogger.Log(r.Context(), event)
}
