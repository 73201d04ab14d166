package authz

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CreateRole creates a new role. A nil OrganizationID creates a system-wide
// role; system roles share one namespace, each organization has its own.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if strings.TrimSpace(role.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(role.Name) > maxNameLength {
		return &ValidationError{Field: "name", Message: "too long"}
	}

	query := `
		INSERT INTO roles (name, description, organization_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		role.Name,
		role.Description,
		role.OrganizationID,
		role.CreatedBy,
		now,
		now,
	).Scan(&role.ID)

	if isUniqueViolation(err) {
		return &ConflictError{Message: fmt.Sprintf("role %q already exists in this scope", role.Name)}
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a live role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, name, description, organization_id, created_by, created_at, updated_at
		FROM roles
		WHERE id = $1 AND deleted_at IS NULL
	`

	var role Role
	var orgID, createdBy nullableID
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&orgID,
		&createdBy,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, &NotFoundError{Entity: "role", ID: roleID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	role.OrganizationID = orgID.ptr()
	role.CreatedBy = createdBy.ptr()
	return &role, nil
}

// GetRoleByName retrieves a live role by name within a scope. An org-scoped
// lookup falls back to the system role of the same name.
func (s *Store) GetRoleByName(ctx context.Context, name string, orgID *int64) (*Role, error) {
	query := `
		SELECT id, name, description, organization_id, created_by, created_at, updated_at
		FROM roles
		WHERE name = $1
		  AND (organization_id = $2 OR organization_id IS NULL)
		  AND deleted_at IS NULL
		ORDER BY organization_id DESC NULLS LAST
		LIMIT 1
	`

	var role Role
	var roleOrgID, createdBy nullableID
	err := s.db.QueryRowContext(ctx, query, name, orgID).Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&roleOrgID,
		&createdBy,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, &NotFoundError{Entity: "role"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	role.OrganizationID = roleOrgID.ptr()
	role.CreatedBy = createdBy.ptr()
	return &role, nil
}

// ListRoles lists the live roles visible to an organization: its own roles
// plus every system role.
func (s *Store) ListRoles(ctx context.Context, orgID int64) ([]Role, error) {
	query := `
		SELECT id, name, description, organization_id, created_by, created_at, updated_at
		FROM roles
		WHERE (organization_id = $1 OR organization_id IS NULL) AND deleted_at IS NULL
		ORDER BY organization_id NULLS FIRST, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var roleOrgID, createdBy nullableID
		if err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.Description,
			&roleOrgID,
			&createdBy,
			&role.CreatedAt,
			&role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.OrganizationID = roleOrgID.ptr()
		role.CreatedBy = createdBy.ptr()
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// UpdateRole updates a role's name and description. System roles are not
// editable through the org-scoped management surface.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	if strings.TrimSpace(role.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}

	existing, err := s.GetRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if existing.IsSystem() {
		return &ConflictError{Message: "system roles cannot be modified"}
	}

	query := `
		UPDATE roles
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`

	role.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query, role.Name, role.Description, role.UpdatedAt, role.ID)
	if isUniqueViolation(err) {
		return &ConflictError{Message: fmt.Sprintf("role %q already exists in this scope", role.Name)}
	}
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	return nil
}

// DeleteRole soft-deletes a role and cascade-soft-deletes its permission
// rows in the same transaction. It fails with ConflictError while any live
// assignment still references the role: grants made by admins must be
// revoked deliberately, permission rows are owned by the role and go with it.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem() {
		return &ConflictError{Message: "system roles cannot be deleted"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var assignments int64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM role_assignments WHERE role_id = $1`, roleID,
	).Scan(&assignments)
	if err != nil {
		return fmt.Errorf("failed to count assignments: %w", err)
	}
	if assignments > 0 {
		return &ConflictError{Message: "role in use: revoke its assignments first"}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE permissions SET deleted_at = $1 WHERE role_id = $2 AND deleted_at IS NULL`, now, roleID,
	); err != nil {
		return fmt.Errorf("failed to delete role permissions: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE roles SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "role", ID: roleID}
	}

	return tx.Commit()
}
