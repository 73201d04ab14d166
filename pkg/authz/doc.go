// Package authz implements role-based access control for multi-tenant
// organizations: a principal directory of users and teams, a role registry
// with system-wide and org-scoped roles, a permission registry of
// (resource kind, action) grants, scoped role assignments, and the decision
// engine that composes them.
//
// Assignments carry scope: an org-level assignment reaches every workspace
// of the organization, a workspace-level assignment is confined to its
// workspace. Permissions carry breadth (org-wide, workspace-wide) and
// optional object-type narrowing. The engine's Evaluate predicate is pure,
// so the same rules can be tested without storage.
package authz
