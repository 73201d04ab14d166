package orgs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/httputil"
	"github.com/platinummonkey/backoffice/pkg/middleware"
)

// Handlers provides the HTTP surface for organizations, workspaces, object
// types, membership, and the invitation lifecycle.
type Handlers struct {
	store       *Store
	notifier    Notifier
	auditLogger audit.Logger

	// InvitationTTL overrides the default invitation lifetime when positive
	InvitationTTL time.Duration

	// OnInvitationCreated and OnInvitationAccepted, when set, observe
	// invitation throughput. Wired to metrics at startup.
	OnInvitationCreated  func()
	OnInvitationAccepted func()
}

// NewHandlers creates tenancy handlers. notifier and auditLogger may be nil.
func NewHandlers(store *Store, notifier Notifier, auditLogger audit.Logger) *Handlers {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{store: store, notifier: notifier, auditLogger: auditLogger}
}

// RegisterRoutes registers all tenancy routes. requireManageMembers, when
// non-nil, guards the roster and invitation admin surface; acceptance stays
// open because the invitee holds no permissions yet.
func (h *Handlers) RegisterRoutes(router *mux.Router, requireManageMembers func(http.Handler) http.Handler) {
	guard := requireManageMembers
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	// Organizations
	router.HandleFunc("/orgs", h.CreateOrganization).Methods("POST")
	router.HandleFunc("/orgs", h.ListOrganizations).Methods("GET")
	router.HandleFunc("/orgs/{org_id}", h.GetOrganization).Methods("GET")
	router.HandleFunc("/orgs/{org_id}", h.UpdateOrganization).Methods("PUT")
	router.HandleFunc("/orgs/{org_id}", h.DeleteOrganization).Methods("DELETE")

	// Workspaces
	router.HandleFunc("/orgs/{org_id}/workspaces", h.CreateWorkspace).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/workspaces", h.ListWorkspaces).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/workspaces/{id}", h.GetWorkspace).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/workspaces/{id}", h.UpdateWorkspace).Methods("PUT")
	router.HandleFunc("/orgs/{org_id}/workspaces/{id}", h.DeleteWorkspace).Methods("DELETE")

	// Object types
	router.HandleFunc("/orgs/{org_id}/workspaces/{workspace_id}/object-types", h.CreateObjectType).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/workspaces/{workspace_id}/object-types", h.ListObjectTypes).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/workspaces/{workspace_id}/object-types/{id}", h.DeleteObjectType).Methods("DELETE")

	// Membership
	router.Handle("/orgs/{org_id}/members", guard(http.HandlerFunc(h.AddMember))).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/members", h.ListMembers).Methods("GET")
	router.Handle("/orgs/{org_id}/members/{user_id}", guard(http.HandlerFunc(h.RemoveMember))).Methods("DELETE")

	// Invitations carry acceptance tokens, so even listing is admin-only.
	router.Handle("/orgs/{org_id}/invitations", guard(http.HandlerFunc(h.CreateInvitation))).Methods("POST")
	router.Handle("/orgs/{org_id}/invitations", guard(http.HandlerFunc(h.ListInvitations))).Methods("GET")
	router.Handle("/orgs/{org_id}/invitations/{id}", guard(http.HandlerFunc(h.RevokeInvitation))).Methods("DELETE")
	router.HandleFunc("/invitations/accept", h.AcceptInvitation).Methods("POST")
}

// CreateOrganization creates an organization owned by the caller
func (h *Handlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org := &Organization{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   callerID(r),
	}

	if err := h.store.CreateOrganization(r.Context(), org); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeOrgCreate, audit.ResourceTypeOrganization, org.ID, org.ID)
	httputil.WriteCreated(w, org)
}

// ListOrganizations lists the caller's organizations
func (h *Handlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r)
	if id == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	orgs, err := h.store.ListOrganizationsForUser(r.Context(), id.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, orgs)
}

// GetOrganization retrieves an organization
func (h *Handlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	org, err := h.store.GetOrganization(r.Context(), orgID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, org)
}

// UpdateOrganization updates an organization's name and description
func (h *Handlers) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	org, err := h.store.GetOrganization(r.Context(), orgID)
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

	org.Name = req.Name
	org.Description = req.Description

	if err := h.store.UpdateOrganization(r.Context(), org); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeOrgUpdate, audit.ResourceTypeOrganization, org.ID, orgID)
	httputil.WriteSuccess(w, org)
}

// DeleteOrganization soft-deletes an organization
func (h *Handlers) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	if err := h.store.DeleteOrganization(r.Context(), orgID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeOrgDelete, audit.ResourceTypeOrganization, orgID, orgID)
	httputil.WriteNoContent(w)
}

// CreateWorkspace creates a workspace
func (h *Handlers) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
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

	ws := &Workspace{
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
		CreatedBy:      callerID(r),
	}

	if err := h.store.CreateWorkspace(r.Context(), ws); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeWorkspaceCreate, audit.ResourceTypeWorkspace, ws.ID, orgID)
	httputil.WriteCreated(w, ws)
}

// ListWorkspaces lists an organization's workspaces
func (h *Handlers) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	workspaces, err := h.store.ListWorkspaces(r.Context(), orgID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, workspaces)
}

// GetWorkspace retrieves a workspace
func (h *Handlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	wsID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	ws, err := h.store.GetWorkspace(r.Context(), wsID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, ws)
}

// UpdateWorkspace updates a workspace
func (h *Handlers) UpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	wsID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	ws, err := h.store.GetWorkspace(r.Context(), wsID)
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

	ws.Name = req.Name
	ws.Description = req.Description

	if err := h.store.UpdateWorkspace(r.Context(), ws); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeWorkspaceUpdate, audit.ResourceTypeWorkspace, ws.ID, orgID)
	httputil.WriteSuccess(w, ws)
}

// DeleteWorkspace soft-deletes a workspace
func (h *Handlers) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	wsID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteWorkspace(r.Context(), wsID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeWorkspaceDelete, audit.ResourceTypeWorkspace, wsID, orgID)
	httputil.WriteNoContent(w)
}

// CreateObjectType registers an object type within a workspace
func (h *Handlers) CreateObjectType(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	wsID, ok := httputil.ParsePathInt64OrError(w, r, "workspace_id")
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

	ot := &ObjectType{
		WorkspaceID: wsID,
		Name:        req.Name,
		Description: req.Description,
	}

	if err := h.store.CreateObjectType(r.Context(), ot); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeObjectTypeCreate, audit.ResourceTypeObjectType, ot.ID, orgID)
	httputil.WriteCreated(w, ot)
}

// ListObjectTypes lists a workspace's object types
func (h *Handlers) ListObjectTypes(w http.ResponseWriter, r *http.Request) {
	wsID, ok := httputil.ParsePathInt64OrError(w, r, "workspace_id")
	if !ok {
		return
	}

	types, err := h.store.ListObjectTypes(r.Context(), wsID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, types)
}

// DeleteObjectType removes an object type
func (h *Handlers) DeleteObjectType(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	typeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteObjectType(r.Context(), typeID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeObjectTypeDelete, audit.ResourceTypeObjectType, typeID, orgID)
	httputil.WriteNoContent(w)
}

// AddMember seats a user on the roster directly, without an invitation
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.store.AddMember(r.Context(), orgID, req.UserID, callerID(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeMemberAdd, audit.ResourceTypeMember, member.ID, orgID)
	httputil.WriteCreated(w, member)
}

// ListMembers lists an organization's roster
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	members, err := h.store.ListMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, members)
}

// RemoveMember takes a user off the roster
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.store.RemoveMember(r.Context(), orgID, userID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeMemberRemove, audit.ResourceTypeMember, userID, orgID)
	httputil.WriteNoContent(w)
}

// invitationResponse wraps an invitation with the notification outcome. The
// row exists even when delivery failed; the admin needs to know both.
type invitationResponse struct {
	Invitation        *Invitation `json:"invitation"`
	NotificationError string      `json:"notification_error,omitempty"`
}

// CreateInvitation creates an invitation and sends the notification. A
// delivery failure is reported alongside the created row, never hidden.
func (h *Handlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	var req struct {
		Email  string `json:"email"`
		RoleID *int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	inv := &Invitation{
		OrganizationID: orgID,
		Email:          req.Email,
		RoleID:         req.RoleID,
		InvitedBy:      callerID(r),
	}
	if h.InvitationTTL > 0 {
		inv.ExpiresAt = time.Now().UTC().Add(h.InvitationTTL)
	}

	if err := h.store.CreateInvitation(r.Context(), inv); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	resp := invitationResponse{Invitation: inv}
	if err := h.notifier.SendInvitation(r.Context(), inv); err != nil {
		resp.NotificationError = err.Error()
	}
	if h.OnInvitationCreated != nil {
		h.OnInvitationCreated()
	}

	h.logAudit(r, audit.EventTypeInviteCreate, audit.ResourceTypeInvitation, inv.ID, orgID)
	httputil.WriteCreated(w, resp)
}

// ListInvitations lists an organization's pending invitations
func (h *Handlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	invitations, err := h.store.ListPendingInvitations(r.Context(), orgID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, invitations)
}

// RevokeInvitation revokes a pending invitation
func (h *Handlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	invitationID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.RevokeInvitation(r.Context(), invitationID); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	h.logAudit(r, audit.EventTypeInviteRevoke, audit.ResourceTypeInvitation, invitationID, orgID)
	httputil.WriteNoContent(w)
}

// AcceptInvitation accepts an invitation on behalf of the caller
func (h *Handlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r)
	if id == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" {
		httputil.WriteValidationError(w, "token is required")
		return
	}

	inv, err := h.store.AcceptInvitation(r.Context(), req.Token, id.UserID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if h.OnInvitationAccepted != nil {
		h.OnInvitationAccepted()
	}

	h.logAudit(r, audit.EventTypeInviteAccept, audit.ResourceTypeInvitation, inv.ID, inv.OrganizationID)
	httputil.WriteSuccess(w, inv)
}

// callerID returns the authenticated caller's user id, nil when anonymous
func callerID(r *http.Request) *int64 {
	if id := middleware.GetIdentity(r); id != nil {
		return &id.UserID
	}
	return nil
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
