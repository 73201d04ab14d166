// Package orgs manages tenancy: organizations, their workspaces and object
// types, user accounts, the membership roster, and the invitation lifecycle.
//
// It owns the tables the authorization core references. An invitation moves
// pending -> accepted or pending -> revoked; expiry is derived from the
// expires_at column rather than stored, so a pending invitation flips to
// expired the moment its deadline passes. Acceptance provisions the
// membership row and the role assignment atomically.
package orgs
