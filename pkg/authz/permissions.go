package authz

import (
	"context"
	"fmt"
	"time"
)

// Grant attaches a (resource kind, action) permission to a role. The
// object-type rule is validated up front: ObjectTypeID must be set exactly
// when the resource kind is object-scoped. Duplicate grants for the same
// (role, kind, action, object type) are rejected by the database constraint.
func (s *Store) Grant(ctx context.Context, roleID int64, kind ResourceKind, action Action, opts GrantOptions) (*Permission, error) {
	if kind == "" {
		return nil, &ValidationError{Field: "resource_kind", Message: "must not be empty"}
	}
	if action == "" {
		return nil, &ValidationError{Field: "action", Message: "must not be empty"}
	}
	if kind.objectScoped() && opts.ObjectTypeID == nil {
		return nil, &ValidationError{Field: "object_type_id", Message: "required for object-scoped resource kinds"}
	}
	if !kind.objectScoped() && opts.ObjectTypeID != nil {
		return nil, &ValidationError{Field: "object_type_id", Message: "only valid for object-scoped resource kinds"}
	}

	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO permissions (role_id, resource_kind, action, apply_org_wide, apply_workspace_wide, object_type_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	perm := &Permission{
		RoleID:             roleID,
		ResourceKind:       kind,
		Action:             action,
		ApplyOrgWide:       opts.ApplyOrgWide,
		ApplyWorkspaceWide: opts.ApplyWorkspaceWide,
		ObjectTypeID:       opts.ObjectTypeID,
		CreatedAt:          time.Now().UTC(),
	}

	err := s.db.QueryRowContext(ctx, query,
		perm.RoleID,
		perm.ResourceKind,
		perm.Action,
		perm.ApplyOrgWide,
		perm.ApplyWorkspaceWide,
		perm.ObjectTypeID,
		perm.CreatedAt,
	).Scan(&perm.ID)

	if isUniqueViolation(err) {
		return nil, &ConflictError{Message: fmt.Sprintf("permission %s:%s already granted to this role", kind, action)}
	}
	if isForeignKeyViolation(err) {
		return nil, &NotFoundError{Entity: "role", ID: roleID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to grant permission: %w", err)
	}

	return perm, nil
}

// Revoke removes a permission row from its role
func (s *Store) Revoke(ctx context.Context, permissionID int64) error {
	query := `UPDATE permissions SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), permissionID)
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "permission", ID: permissionID}
	}

	return nil
}

// ListPermissions lists the live permission rows of a role
func (s *Store) ListPermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.permissionsForRoles(ctx, []int64{roleID}, "", "")
}

// permissionsForRoles fetches live permission rows for a set of roles,
// optionally filtered to one (kind, action) pair. Used by the engine's
// collect phase.
func (s *Store) permissionsForRoles(ctx context.Context, roleIDs []int64, kind ResourceKind, action Action) ([]Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, role_id, resource_kind, action, apply_org_wide, apply_workspace_wide, object_type_id, created_at
		FROM permissions
		WHERE role_id IN (` + placeholders(len(roleIDs), 1) + `) AND deleted_at IS NULL
	`
	args := make([]interface{}, 0, len(roleIDs)+2)
	for _, id := range roleIDs {
		args = append(args, id)
	}
	if kind != "" {
		query += fmt.Sprintf(" AND resource_kind = $%d", len(args)+1)
		args = append(args, string(kind))
	}
	if action != "" {
		query += fmt.Sprintf(" AND action = $%d", len(args)+1)
		args = append(args, string(action))
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		var objectTypeID nullableID
		if err := rows.Scan(
			&perm.ID,
			&perm.RoleID,
			&perm.ResourceKind,
			&perm.Action,
			&perm.ApplyOrgWide,
			&perm.ApplyWorkspaceWide,
			&objectTypeID,
			&perm.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perm.ObjectTypeID = objectTypeID.ptr()
		perms = append(perms, perm)
	}

	return perms, rows.Err()
}

// placeholders builds a $n,$n+1,... list starting at the given index
func placeholders(count, start int) string {
	out := ""
	for i := 0; i < count; i++ {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("$%d", start+i)
	}
	return out
}
