package authz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/backoffice/pkg/middleware"
)

type handlerFixture struct {
	*engineFixture
	router *mux.Router
}

func setupHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := setupEngineFixture(t)

	// No permission middleware: these tests exercise handler semantics, the
	// guarded wiring is covered separately.
	router := mux.NewRouter()
	NewHandlers(f.store, f.engine, nil, nil).RegisterRoutes(router, nil)

	return &handlerFixture{engineFixture: f, router: router}
}

// do issues a request as userA, the fixture's default caller
func (f *handlerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(middleware.WithIdentity(req.Context(), &middleware.Identity{UserID: f.userA}))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHandlers_RoleLifecycle(t *testing.T) {
	f := setupHandlerFixture(t)
	base := fmt.Sprintf("/orgs/%d/roles", f.orgID)

	rec := f.do(t, "POST", base, map[string]string{"name": "deployer", "description": "can deploy"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create role: got %d: %s", rec.Code, rec.Body.String())
	}
	var role Role
	decodeBody(t, rec, &role)
	if role.Name != "deployer" || role.OrganizationID == nil || *role.OrganizationID != f.orgID {
		t.Errorf("unexpected created role: %+v", role)
	}
	if role.CreatedBy == nil || *role.CreatedBy != f.userA {
		t.Errorf("expected created_by to record the caller, got %v", role.CreatedBy)
	}

	// Duplicate name conflicts.
	if rec := f.do(t, "POST", base, map[string]string{"name": "deployer"}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate role: got %d, want 409", rec.Code)
	}

	// Update, fetch, list.
	rolePath := fmt.Sprintf("%s/%d", base, role.ID)
	if rec := f.do(t, "PUT", rolePath, map[string]string{"name": "releaser", "description": ""}); rec.Code != http.StatusOK {
		t.Errorf("update role: got %d: %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, "GET", rolePath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get role: got %d", rec.Code)
	}
	decodeBody(t, rec, &role)
	if role.Name != "releaser" {
		t.Errorf("expected renamed role, got %q", role.Name)
	}

	rec = f.do(t, "GET", base, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list roles: got %d", rec.Code)
	}
	var roles []Role
	decodeBody(t, rec, &roles)
	// The seeded system roles are visible alongside the new org role.
	if len(roles) != 4 {
		t.Errorf("expected 3 system roles plus 1 org role, got %d", len(roles))
	}

	// Delete, then the role is gone.
	if rec := f.do(t, "DELETE", rolePath, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete role: got %d", rec.Code)
	}
	if rec := f.do(t, "GET", rolePath, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted role: got %d, want 404", rec.Code)
	}
}

func TestHandlers_PermissionGrantAndRevoke(t *testing.T) {
	f := setupHandlerFixture(t)
	role := createTestRole(t, f.store, "deployer", &f.orgID)

	grantPath := fmt.Sprintf("/orgs/%d/roles/%d/permissions", f.orgID, role.ID)
	rec := f.do(t, "POST", grantPath, map[string]interface{}{
		"resource_kind":        "workspace",
		"action":               "update",
		"apply_workspace_wide": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant: got %d: %s", rec.Code, rec.Body.String())
	}
	var perm Permission
	decodeBody(t, rec, &perm)
	if !perm.ApplyWorkspaceWide {
		t.Error("expected workspace-wide flag to persist")
	}

	// Object-scoped grant without a type is a 400.
	rec = f.do(t, "POST", grantPath, map[string]interface{}{
		"resource_kind": "object_instance",
		"action":        "read",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("untyped object grant: got %d, want 400", rec.Code)
	}

	// List shows the single live grant.
	rec = f.do(t, "GET", grantPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list permissions: got %d", rec.Code)
	}
	var perms []Permission
	decodeBody(t, rec, &perms)
	if len(perms) != 1 {
		t.Fatalf("expected 1 permission, got %d", len(perms))
	}

	revokePath := fmt.Sprintf("/orgs/%d/permissions/%d", f.orgID, perm.ID)
	if rec := f.do(t, "DELETE", revokePath, nil); rec.Code != http.StatusNoContent {
		t.Errorf("revoke: got %d", rec.Code)
	}
	if rec := f.do(t, "DELETE", revokePath, nil); rec.Code != http.StatusNotFound {
		t.Errorf("double revoke: got %d, want 404", rec.Code)
	}
}

func TestHandlers_Assignments(t *testing.T) {
	f := setupHandlerFixture(t)
	role := createTestRole(t, f.store, "deployer", &f.orgID)

	assignPath := fmt.Sprintf("/orgs/%d/assignments", f.orgID)
	body := map[string]interface{}{
		"principal_kind": "user",
		"principal_id":   f.userB,
		"role_id":        role.ID,
		"workspace_id":   f.ws1ID,
	}

	rec := f.do(t, "POST", assignPath, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("assign: got %d: %s", rec.Code, rec.Body.String())
	}
	var assignment Assignment
	decodeBody(t, rec, &assignment)
	if assignment.WorkspaceID == nil || *assignment.WorkspaceID != f.ws1ID {
		t.Errorf("expected workspace-scoped assignment, got %+v", assignment)
	}
	if assignment.AssignedBy == nil || *assignment.AssignedBy != f.userA {
		t.Errorf("expected assigned_by to record the caller, got %v", assignment.AssignedBy)
	}

	if rec := f.do(t, "POST", assignPath, body); rec.Code != http.StatusConflict {
		t.Errorf("duplicate assign: got %d, want 409", rec.Code)
	}

	listPath := fmt.Sprintf("/orgs/%d/principals/user/%d/assignments", f.orgID, f.userB)
	rec = f.do(t, "GET", listPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list assignments: got %d", rec.Code)
	}
	var assignments []Assignment
	decodeBody(t, rec, &assignments)
	if len(assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(assignments))
	}

	badKindPath := fmt.Sprintf("/orgs/%d/principals/robot/%d/assignments", f.orgID, f.userB)
	if rec := f.do(t, "GET", badKindPath, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad principal kind: got %d, want 400", rec.Code)
	}

	unassignPath := fmt.Sprintf("/orgs/%d/assignments/%d", f.orgID, assignment.ID)
	if rec := f.do(t, "DELETE", unassignPath, nil); rec.Code != http.StatusNoContent {
		t.Errorf("unassign: got %d", rec.Code)
	}
}

func TestHandlers_Teams(t *testing.T) {
	f := setupHandlerFixture(t)
	base := fmt.Sprintf("/orgs/%d/teams", f.orgID)

	rec := f.do(t, "POST", base, map[string]string{"name": "platform"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create team: got %d: %s", rec.Code, rec.Body.String())
	}
	var team Team
	decodeBody(t, rec, &team)

	memberPath := fmt.Sprintf("%s/%d/members", base, team.ID)
	rec = f.do(t, "POST", memberPath, map[string]int64{"user_id": f.userB})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member: got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, "POST", memberPath, map[string]int64{"user_id": f.userB}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate member: got %d, want 409", rec.Code)
	}

	rec = f.do(t, "GET", memberPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list members: got %d", rec.Code)
	}
	var members []TeamMember
	decodeBody(t, rec, &members)
	if len(members) != 1 || members[0].UserID != f.userB {
		t.Errorf("unexpected member list: %v", members)
	}

	removePath := fmt.Sprintf("%s/%d", memberPath, f.userB)
	if rec := f.do(t, "DELETE", removePath, nil); rec.Code != http.StatusNoContent {
		t.Errorf("remove member: got %d", rec.Code)
	}

	teamPath := fmt.Sprintf("%s/%d", base, team.ID)
	if rec := f.do(t, "DELETE", teamPath, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete team: got %d", rec.Code)
	}
	if rec := f.do(t, "GET", teamPath, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted team: got %d, want 404", rec.Code)
	}
}

// Routes registered with the permission middleware refuse admin mutations
// from callers without the manage grants, while reads and the check endpoint
// stay open to any authenticated caller.
func TestRegisterRoutes_GuardsAdminMutations(t *testing.T) {
	f := setupEngineFixture(t)
	f.assign(t, Principal{Kind: PrincipalUser, ID: f.userA}, nil, RoleOrgAdmin)

	router := mux.NewRouter()
	NewHandlers(f.store, f.engine, nil, nil).RegisterRoutes(router, NewPermissionMiddleware(f.engine))

	do := func(userID int64, method, path string, body interface{}) *httptest.ResponseRecorder {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				t.Fatalf("failed to encode request body: %v", err)
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		req = req.WithContext(middleware.WithIdentity(req.Context(), &middleware.Identity{UserID: userID}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rolesPath := fmt.Sprintf("/orgs/%d/roles", f.orgID)

	// userB holds no roles: admin mutations are forbidden, reads are not.
	if rec := do(f.userB, "POST", rolesPath, map[string]string{"name": "deployer"}); rec.Code != http.StatusForbidden {
		t.Errorf("unprivileged create role: got %d, want 403", rec.Code)
	}
	if rec := do(f.userB, "POST", fmt.Sprintf("/orgs/%d/assignments", f.orgID), map[string]interface{}{
		"principal_kind": "user",
		"principal_id":   f.userB,
		"role_id":        1,
	}); rec.Code != http.StatusForbidden {
		t.Errorf("unprivileged assign: got %d, want 403", rec.Code)
	}
	if rec := do(f.userB, "POST", fmt.Sprintf("/orgs/%d/teams", f.orgID), map[string]string{"name": "platform"}); rec.Code != http.StatusForbidden {
		t.Errorf("unprivileged create team: got %d, want 403", rec.Code)
	}
	if rec := do(f.userB, "GET", rolesPath, nil); rec.Code != http.StatusOK {
		t.Errorf("unprivileged list roles: got %d, want 200", rec.Code)
	}

	// The org admin passes the guard.
	if rec := do(f.userA, "POST", rolesPath, map[string]string{"name": "deployer"}); rec.Code != http.StatusCreated {
		t.Errorf("admin create role: got %d, want 201: %s", rec.Code, rec.Body.String())
	}

	// The check endpoint answers any authenticated caller.
	rec := do(f.userB, "POST", "/authz/check", CheckRequest{
		UserID:         f.userB,
		ResourceKind:   KindOrganization,
		Action:         ActionRead,
		OrganizationID: f.orgID,
	})
	if rec.Code != http.StatusOK {
		t.Errorf("check as unprivileged caller: got %d, want 200", rec.Code)
	}
}

func TestHandlers_Check(t *testing.T) {
	f := setupHandlerFixture(t)
	f.assign(t, Principal{Kind: PrincipalUser, ID: f.userB}, &f.ws1ID, RoleViewer)

	rec := f.do(t, "POST", "/authz/check", CheckRequest{
		UserID:         f.userB,
		ResourceKind:   KindWorkspace,
		Action:         ActionRead,
		OrganizationID: f.orgID,
		WorkspaceID:    &f.ws1ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("check: got %d: %s", rec.Code, rec.Body.String())
	}
	var result CheckResult
	decodeBody(t, rec, &result)
	if !result.Allowed {
		t.Error("expected viewer to read their workspace")
	}

	rec = f.do(t, "POST", "/authz/check", CheckRequest{
		UserID:         f.userB,
		ResourceKind:   KindWorkspace,
		Action:         ActionRead,
		OrganizationID: f.orgID,
		WorkspaceID:    &f.ws2ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("check: got %d", rec.Code)
	}
	decodeBody(t, rec, &result)
	if result.Allowed {
		t.Error("expected sibling workspace to be denied")
	}

	// A malformed question is a 400, not a deny.
	rec = f.do(t, "POST", "/authz/check", CheckRequest{UserID: f.userB, OrganizationID: f.orgID})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty kind/action: got %d, want 400", rec.Code)
	}
}
