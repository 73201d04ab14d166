package authz

import (
	"context"
	"fmt"
	"time"
)

// Assign grants a role to a principal at an organization scope, optionally
// confined to one workspace. The (principal, org, workspace, role) tuple is
// unique; a second identical call is reported as ConflictError by the
// database constraint, never silently deduplicated, because the engine
// relies on at-most-one row per tuple. For user principals the user must
// already be on the organization's roster: an assignment implies membership.
func (s *Store) Assign(ctx context.Context, principal Principal, orgID int64, workspaceID *int64, roleID int64, assignedBy *int64) (*Assignment, error) {
	if principal.Kind != PrincipalUser && principal.Kind != PrincipalTeam {
		return nil, &ValidationError{Field: "principal_kind", Message: "must be user or team"}
	}

	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.OrganizationID != nil && *role.OrganizationID != orgID {
		return nil, &ValidationError{Field: "role_id", Message: "role belongs to a different organization"}
	}

	if principal.Kind == PrincipalUser {
		member, err := s.isOrgMember(ctx, orgID, principal.ID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, &ValidationError{Field: "principal_id", Message: "user is not a member of this organization"}
		}
	}

	query := `
		INSERT INTO role_assignments (principal_kind, principal_id, organization_id, workspace_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	assignment := &Assignment{
		PrincipalKind:  principal.Kind,
		PrincipalID:    principal.ID,
		OrganizationID: orgID,
		WorkspaceID:    workspaceID,
		RoleID:         roleID,
		AssignedBy:     assignedBy,
		AssignedAt:     time.Now().UTC(),
	}

	err = s.db.QueryRowContext(ctx, query,
		assignment.PrincipalKind,
		assignment.PrincipalID,
		assignment.OrganizationID,
		assignment.WorkspaceID,
		assignment.RoleID,
		assignment.AssignedBy,
		assignment.AssignedAt,
	).Scan(&assignment.ID)

	if isUniqueViolation(err) {
		return nil, &ConflictError{Message: "already assigned"}
	}
	if isForeignKeyViolation(err) {
		return nil, &NotFoundError{Entity: "role", ID: roleID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	return assignment, nil
}

// Unassign hard-deletes an assignment. Revoked assignments carry no audit
// value on their own; the audit log records the revocation event.
func (s *Store) Unassign(ctx context.Context, assignmentID int64) error {
	query := `DELETE FROM role_assignments WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, assignmentID)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "assignment", ID: assignmentID}
	}

	return nil
}

// ListForPrincipal lists a single principal's assignments within an org
func (s *Store) ListForPrincipal(ctx context.Context, principal Principal, orgID int64) ([]Assignment, error) {
	return s.assignmentsForPrincipals(ctx, []Principal{principal}, orgID)
}

// assignmentsForPrincipals fetches every assignment held by any of the given
// principals within an org. Workspace compatibility is evaluated by the
// engine, not here; the full org-scoped set is returned.
func (s *Store) assignmentsForPrincipals(ctx context.Context, principals []Principal, orgID int64) ([]Assignment, error) {
	if len(principals) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, principal_kind, principal_id, organization_id, workspace_id, role_id, assigned_by, assigned_at
		FROM role_assignments
		WHERE organization_id = $1 AND (
	`
	args := []interface{}{orgID}
	for i, p := range principals {
		if i > 0 {
			query += " OR "
		}
		query += fmt.Sprintf("(principal_kind = $%d AND principal_id = $%d)", len(args)+1, len(args)+2)
		args = append(args, string(p.Kind), p.ID)
	}
	query += ") ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		var workspaceID, assignedBy nullableID
		if err := rows.Scan(
			&a.ID,
			&a.PrincipalKind,
			&a.PrincipalID,
			&a.OrganizationID,
			&workspaceID,
			&a.RoleID,
			&assignedBy,
			&a.AssignedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.WorkspaceID = workspaceID.ptr()
		a.AssignedBy = assignedBy.ptr()
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

// isOrgMember checks the organization roster for a user
func (s *Store) isOrgMember(ctx context.Context, orgID, userID int64) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}
