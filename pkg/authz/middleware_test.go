package authz

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/backoffice/pkg/middleware"
)

// permissionRouter wires a trivial handler behind the permission middleware
// so the guard can be exercised end to end through mux routing.
func permissionRouter(pm *PermissionMiddleware, kind ResourceKind, action Action) *mux.Router {
	router := mux.NewRouter()
	sub := router.PathPrefix("/orgs/{org_id}").Subrouter()
	sub.Use(pm.RequirePermission(kind, action))
	sub.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	sub.HandleFunc("/workspaces/{workspace_id}/resource", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	return router
}

func doAuthedRequest(router *mux.Router, path string, userID int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if userID != 0 {
		req = req.WithContext(middleware.WithIdentity(req.Context(), &middleware.Identity{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequirePermission(t *testing.T) {
	f := setupEngineFixture(t)
	f.assign(t, Principal{Kind: PrincipalUser, ID: f.userA}, nil, RoleOrgAdmin)
	f.assign(t, Principal{Kind: PrincipalUser, ID: f.userB}, &f.ws1ID, RoleViewer)

	pm := NewPermissionMiddleware(f.engine)
	router := permissionRouter(pm, KindWorkspace, ActionRead)

	orgPath := fmt.Sprintf("/orgs/%d/resource", f.orgID)
	ws1Path := fmt.Sprintf("/orgs/%d/workspaces/%d/resource", f.orgID, f.ws1ID)
	ws2Path := fmt.Sprintf("/orgs/%d/workspaces/%d/resource", f.orgID, f.ws2ID)

	if rec := doAuthedRequest(router, ws1Path, f.userA); rec.Code != http.StatusOK {
		t.Errorf("admin on ws1: got %d, want 200", rec.Code)
	}
	if rec := doAuthedRequest(router, ws1Path, f.userB); rec.Code != http.StatusOK {
		t.Errorf("viewer on ws1: got %d, want 200", rec.Code)
	}
	if rec := doAuthedRequest(router, ws2Path, f.userB); rec.Code != http.StatusForbidden {
		t.Errorf("viewer on ws2: got %d, want 403", rec.Code)
	}
	if rec := doAuthedRequest(router, orgPath, f.userB); rec.Code != http.StatusForbidden {
		t.Errorf("viewer on org-level route: got %d, want 403", rec.Code)
	}
}

func TestRequirePermission_RequiresIdentity(t *testing.T) {
	f := setupEngineFixture(t)
	pm := NewPermissionMiddleware(f.engine)
	router := permissionRouter(pm, KindWorkspace, ActionRead)

	rec := doAuthedRequest(router, fmt.Sprintf("/orgs/%d/resource", f.orgID), 0)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", rec.Code)
	}
}

func TestRequirePermission_InvalidOrgID(t *testing.T) {
	f := setupEngineFixture(t)
	pm := NewPermissionMiddleware(f.engine)
	router := permissionRouter(pm, KindWorkspace, ActionRead)

	rec := doAuthedRequest(router, "/orgs/not-a-number/resource", f.userA)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestRequireAnyPermission(t *testing.T) {
	f := setupEngineFixture(t)
	f.assign(t, Principal{Kind: PrincipalUser, ID: f.userA}, nil, RoleViewer)

	pm := NewPermissionMiddleware(f.engine)
	router := mux.NewRouter()
	sub := router.PathPrefix("/orgs/{org_id}").Subrouter()
	sub.Use(pm.RequireAnyPermission(
		RequiredPermission{Kind: KindOrganization, Action: ActionManageRoles},
		RequiredPermission{Kind: KindOrganization, Action: ActionRead},
	))
	sub.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	path := fmt.Sprintf("/orgs/%d/resource", f.orgID)
	if rec := doAuthedRequest(router, path, f.userA); rec.Code != http.StatusOK {
		t.Errorf("viewer with read should pass the any-of guard: got %d", rec.Code)
	}
	if rec := doAuthedRequest(router, path, f.userB); rec.Code != http.StatusForbidden {
		t.Errorf("user with no grants should be denied: got %d", rec.Code)
	}
}
