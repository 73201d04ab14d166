package authz

import (
	"context"
	"fmt"
	"time"
)

// Engine answers authorization questions by composing the principal
// directory, the assignment store, and the permission registry. A negative
// answer is a false return, never an error: a principal with zero
// assignments, or a query against an unknown object type, denies cleanly.
//
// The decision itself is the pure Evaluate function over fetched rows, so
// the identical predicate can be mirrored as a storage-side policy without
// the two drifting apart. Engine only loads rows and delegates.
type Engine struct {
	store *Store
	cache *DecisionCache

	// OnDecision, when set, observes every decision with its latency.
	// Wired to metrics at startup.
	OnDecision func(allowed bool, elapsed time.Duration)
}

// NewEngine creates an authorization engine. cache may be nil, in which case
// every decision is recomputed from storage.
func NewEngine(store *Store, cache *DecisionCache) *Engine {
	return &Engine{store: store, cache: cache}
}

// HasPermission decides whether the user may perform the action on the
// resource kind within the organization, optionally scoped to a workspace
// and an object type.
func (e *Engine) HasPermission(ctx context.Context, req CheckRequest) (bool, error) {
	if req.ResourceKind == "" || req.Action == "" {
		return false, &ValidationError{Field: "resource_kind", Message: "resource kind and action are required"}
	}

	start := time.Now()

	if e.cache != nil {
		if allowed, found, err := e.cache.Get(ctx, req); err == nil && found {
			e.observe(allowed, start)
			return allowed, nil
		}
	}

	principals, err := e.store.ResolvePrincipals(ctx, req.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve principals: %w", err)
	}

	assignments, err := e.store.assignmentsForPrincipals(ctx, principals, req.OrganizationID)
	if err != nil {
		return false, fmt.Errorf("failed to load assignments: %w", err)
	}

	roleIDs := compatibleRoleIDs(req, assignments)
	perms, err := e.store.permissionsForRoles(ctx, roleIDs, req.ResourceKind, req.Action)
	if err != nil {
		return false, fmt.Errorf("failed to load permissions: %w", err)
	}

	allowed := Evaluate(req, assignments, perms)

	if e.cache != nil {
		e.cache.Set(ctx, req, allowed)
	}

	e.observe(allowed, start)
	return allowed, nil
}

func (e *Engine) observe(allowed bool, start time.Time) {
	if e.OnDecision != nil {
		e.OnDecision(allowed, time.Since(start))
	}
}

// Require wraps HasPermission and converts a negative decision into
// PermissionDeniedError. This is the only place that error is produced; the
// engine itself never throws for "no".
func (e *Engine) Require(ctx context.Context, req CheckRequest) error {
	allowed, err := e.HasPermission(ctx, req)
	if err != nil {
		return err
	}
	if !allowed {
		return &PermissionDeniedError{}
	}
	return nil
}

// Check answers a request with a timestamped result, for the HTTP surface
func (e *Engine) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	allowed, err := e.HasPermission(ctx, req)
	if err != nil {
		return nil, err
	}
	return &CheckResult{Allowed: allowed, CheckedAt: time.Now().UTC()}, nil
}

// Evaluate is the authorization predicate: given the assignment rows held by
// the caller's principal set within the query's organization and the
// permission rows of the assigned roles (pre-filtered to the query's
// resource kind and action), it decides allow or deny. It is pure: no
// storage access, no side effects.
func Evaluate(req CheckRequest, assignments []Assignment, perms []Permission) bool {
	roles := make(map[int64]bool)
	for _, a := range assignments {
		if assignmentMatches(req, a) {
			roles[a.RoleID] = true
		}
	}
	if len(roles) == 0 {
		return false
	}

	for _, p := range perms {
		if !roles[p.RoleID] {
			continue
		}
		if p.ResourceKind != req.ResourceKind || p.Action != req.Action {
			continue
		}
		if permissionMatches(req, p) {
			return true
		}
	}
	return false
}

// assignmentMatches reports whether an assignment's scope is compatible with
// the query scope. Org-level grants (nil workspace) reach into every
// workspace of the org; workspace-level grants never match a different
// workspace or an org-level query. Scope does not inherit upward.
func assignmentMatches(req CheckRequest, a Assignment) bool {
	if a.OrganizationID != req.OrganizationID {
		return false
	}
	if a.WorkspaceID == nil {
		return true
	}
	return req.WorkspaceID != nil && *a.WorkspaceID == *req.WorkspaceID
}

// permissionMatches applies the breadth and narrowing rules to a permission
// row whose (kind, action) already matches the query.
//
// Object-type compatibility is always required: an un-narrowed row applies
// to every instance of its kind, a narrowed row applies only when the query
// names the same object type. A query without an object type never matches a
// narrowed row.
//
// Scope breadth: with a workspace in the query the row must reach it, either
// org-wide, workspace-wide, or by being narrowed to an object type (typed
// grants apply within whatever workspace the assignment scoped them to).
// Without a workspace the query is a plain org-level check and any
// type-compatible row matches.
func permissionMatches(req CheckRequest, p Permission) bool {
	if p.ObjectTypeID != nil {
		if req.ObjectTypeID == nil || *p.ObjectTypeID != *req.ObjectTypeID {
			return false
		}
	}

	if req.WorkspaceID != nil {
		return p.ApplyOrgWide || p.ApplyWorkspaceWide || p.ObjectTypeID != nil
	}
	return true
}

// compatibleRoleIDs collects the distinct role ids of scope-compatible
// assignments, preserving first-seen order.
func compatibleRoleIDs(req CheckRequest, assignments []Assignment) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, a := range assignments {
		if !assignmentMatches(req, a) || seen[a.RoleID] {
			continue
		}
		seen[a.RoleID] = true
		ids = append(ids, a.RoleID)
	}
	return ids
}
