package authz

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/backoffice/pkg/middleware"
)

// PermissionMiddleware guards routes with engine decisions. Scope comes from
// the route: {org_id} is required, {workspace_id} narrows the check when
// present.
type PermissionMiddleware struct {
	engine *Engine
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(engine *Engine) *PermissionMiddleware {
	return &PermissionMiddleware{engine: engine}
}

// RequirePermission creates middleware that requires the caller to hold the
// (kind, action) permission within the route's organization scope
func (pm *PermissionMiddleware) RequirePermission(kind ResourceKind, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := middleware.GetIdentity(r)
			if id == nil {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			vars := mux.Vars(r)
			orgID, err := strconv.ParseInt(vars["org_id"], 10, 64)
			if err != nil {
				writeAuthError(w, http.StatusBadRequest, "invalid organization id")
				return
			}

			req := CheckRequest{
				UserID:         id.UserID,
				ResourceKind:   kind,
				Action:         action,
				OrganizationID: orgID,
			}

			if wsStr, ok := vars["workspace_id"]; ok {
				wsID, err := strconv.ParseInt(wsStr, 10, 64)
				if err != nil {
					writeAuthError(w, http.StatusBadRequest, "invalid workspace id")
					return
				}
				req.WorkspaceID = &wsID
			}

			allowed, err := pm.engine.HasPermission(r.Context(), req)
			if err != nil {
				writeAuthError(w, http.StatusInternalServerError, "permission check failed")
				return
			}
			if !allowed {
				writeAuthError(w, http.StatusForbidden, "permission denied")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequiredPermission names a (kind, action) pair for RequireAnyPermission
type RequiredPermission struct {
	Kind   ResourceKind
	Action Action
}

// RequireAnyPermission passes when the caller holds at least one of the
// given (kind, action) pairs within the route's organization scope
func (pm *PermissionMiddleware) RequireAnyPermission(pairs ...RequiredPermission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := middleware.GetIdentity(r)
			if id == nil {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			orgID, err := strconv.ParseInt(mux.Vars(r)["org_id"], 10, 64)
			if err != nil {
				writeAuthError(w, http.StatusBadRequest, "invalid organization id")
				return
			}

			for _, p := range pairs {
				allowed, err := pm.engine.HasPermission(r.Context(), CheckRequest{
					UserID:         id.UserID,
					ResourceKind:   p.Kind,
					Action:         p.Action,
					OrganizationID: orgID,
				})
				if err == nil && allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeAuthError(w, http.StatusForbidden, "permission denied")
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
