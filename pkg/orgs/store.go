package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/backoffice/pkg/authz"
)

// Store handles tenancy data persistence: organizations, workspaces, object
// types, users, the membership roster, and invitations. Uniqueness invariants
// live in database constraints; violations are translated to the shared
// error taxonomy.
type Store struct {
	db *sql.DB
}

// NewStore creates a new tenancy store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks and migrations
func (s *Store) DB() *sql.DB {
	return s.db
}

type nullableID struct {
	sql.NullInt64
}

func (n nullableID) ptr() *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// CreateUser records an account. The upstream identity system is the source
// of truth; this row exists so foreign keys and rosters can reference it.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if strings.TrimSpace(user.Email) == "" {
		return &authz.ValidationError{Field: "email", Message: "must not be empty"}
	}

	query := `
		INSERT INTO users (email, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query, user.Email, user.Name, now).Scan(&user.ID)
	if isUniqueViolation(err) {
		return &authz.ConflictError{Message: fmt.Sprintf("user %q already exists", user.Email)}
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.CreatedAt = now
	return nil
}

// GetUserByEmail looks up an account by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT id, email, name, created_at FROM users WHERE email = $1`

	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if isNoRows(err) {
		return nil, &authz.NotFoundError{Entity: "user"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// CreateOrganization creates an organization and seats the creator as its
// first member.
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	if strings.TrimSpace(org.Name) == "" {
		return &authz.ValidationError{Field: "name", Message: "must not be empty"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO organizations (name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, org.Name, org.Description, org.CreatedBy, now, now).Scan(&org.ID)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	if org.CreatedBy != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO organization_members (organization_id, user_id, joined_at)
			VALUES ($1, $2, $3)
		`, org.ID, *org.CreatedBy, now)
		if err != nil {
			return fmt.Errorf("failed to seat organization creator: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit organization: %w", err)
	}

	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// GetOrganization retrieves a live organization by ID
func (s *Store) GetOrganization(ctx context.Context, orgID int64) (*Organization, error) {
	query := `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM organizations
		WHERE id = $1 AND deleted_at IS NULL
	`

	var org Organization
	var createdBy nullableID
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&org.ID, &org.Name, &org.Description, &createdBy, &org.CreatedAt, &org.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, &authz.NotFoundError{Entity: "organization", ID: orgID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	org.CreatedBy = createdBy.ptr()
	return &org, nil
}

// ListOrganizationsForUser lists the live organizations a user belongs to
func (s *Store) ListOrganizationsForUser(ctx context.Context, userID int64) ([]Organization, error) {
	query := `
		SELECT o.id, o.name, o.description, o.created_by, o.created_at, o.updated_at
		FROM organizations o
		JOIN organization_members om ON om.organization_id = o.id
		WHERE om.user_id = $1 AND o.deleted_at IS NULL
		ORDER BY o.created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var org Organization
		var createdBy nullableID
		if err := rows.Scan(&org.ID, &org.Name, &org.Description, &createdBy, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		org.CreatedBy = createdBy.ptr()
		orgs = append(orgs, org)
	}

	return orgs, rows.Err()
}

// UpdateOrganization updates an organization's name and description
func (s *Store) UpdateOrganization(ctx context.Context, org *Organization) error {
	if strings.TrimSpace(org.Name) == "" {
		return &authz.ValidationError{Field: "name", Message: "must not be empty"}
	}

	query := `
		UPDATE organizations
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`

	org.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, org.Name, org.Description, org.UpdatedAt, org.ID)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &authz.NotFoundError{Entity: "organization", ID: org.ID}
	}

	return nil
}

// DeleteOrganization soft-deletes an organization and its live workspaces in
// one transaction.
func (s *Store) DeleteOrganization(ctx context.Context, orgID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE organizations SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, orgID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &authz.NotFoundError{Entity: "organization", ID: orgID}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE workspaces SET deleted_at = $1 WHERE organization_id = $2 AND deleted_at IS NULL`, now, orgID,
	); err != nil {
		return fmt.Errorf("failed to delete organization workspaces: %w", err)
	}

	return tx.Commit()
}

// CreateWorkspace creates a workspace within an organization
func (s *Store) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	if strings.TrimSpace(ws.Name) == "" {
		return &authz.ValidationError{Field: "name", Message: "must not be empty"}
	}

	if _, err := s.GetOrganization(ctx, ws.OrganizationID); err != nil {
		return err
	}

	query := `
		INSERT INTO workspaces (organization_id, name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		ws.OrganizationID, ws.Name, ws.Description, ws.CreatedBy, now, now,
	).Scan(&ws.ID)

	if isUniqueViolation(err) {
		return &authz.ConflictError{Message: fmt.Sprintf("workspace %q already exists in this organization", ws.Name)}
	}
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	ws.CreatedAt = now
	ws.UpdatedAt = now
	return nil
}

// GetWorkspace retrieves a live workspace by ID
func (s *Store) GetWorkspace(ctx context.Context, wsID int64) (*Workspace, error) {
	query := `
		SELECT id, organization_id, name, description, created_by, created_at, updated_at
		FROM workspaces
		WHERE id = $1 AND deleted_at IS NULL
	`

	var ws Workspace
	var createdBy nullableID
	err := s.db.QueryRowContext(ctx, query, wsID).Scan(
		&ws.ID, &ws.OrganizationID, &ws.Name, &ws.Description, &createdBy, &ws.CreatedAt, &ws.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, &authz.NotFoundError{Entity: "workspace", ID: wsID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	ws.CreatedBy = createdBy.ptr()
	return &ws, nil
}

// ListWorkspaces lists the live workspaces of an organization
func (s *Store) ListWorkspaces(ctx context.Context, orgID int64) ([]Workspace, error) {
	query := `
		SELECT id, organization_id, name, description, created_by, created_at, updated_at
		FROM workspaces
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []Workspace
	for rows.Next() {
		var ws Workspace
		var createdBy nullableID
		if err := rows.Scan(&ws.ID, &ws.OrganizationID, &ws.Name, &ws.Description, &createdBy, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		ws.CreatedBy = createdBy.ptr()
		workspaces = append(workspaces, ws)
	}

	return workspaces, rows.Err()
}

// UpdateWorkspace updates a workspace's name and description
func (s *Store) UpdateWorkspace(ctx context.Context, ws *Workspace) error {
	if strings.TrimSpace(ws.Name) == "" {
		return &authz.ValidationError{Field: "name", Message: "must not be empty"}
	}

	query := `
		UPDATE workspaces
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`

	ws.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, ws.Name, ws.Description, ws.UpdatedAt, ws.ID)
	if isUniqueViolation(err) {
		return &authz.ConflictError{Message: fmt.Sprintf("workspace %q already exists in this organization", ws.Name)}
	}
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &authz.NotFoundError{Entity: "workspace", ID: ws.ID}
	}

	return nil
}

// DeleteWorkspace soft-deletes a workspace
func (s *Store) DeleteWorkspace(ctx context.Context, wsID int64) error {
	query := `UPDATE workspaces SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), wsID)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &authz.NotFoundError{Entity: "workspace", ID: wsID}
	}

	return nil
}

// CreateObjectType registers a typed-entity schema within a workspace
func (s *Store) CreateObjectType(ctx context.Context, ot *ObjectType) error {
	if strings.TrimSpace(ot.Name) == "" {
		return &authz.ValidationError{Field: "name", Message: "must not be empty"}
	}

	query := `
		INSERT INTO object_types (workspace_id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query, ot.WorkspaceID, ot.Name, ot.Description, now).Scan(&ot.ID)
	if isUniqueViolation(err) {
		return &authz.ConflictError{Message: fmt.Sprintf("object type %q already exists in this workspace", ot.Name)}
	}
	if isForeignKeyViolation(err) {
		return &authz.NotFoundError{Entity: "workspace", ID: ot.WorkspaceID}
	}
	if err != nil {
		return fmt.Errorf("failed to create object type: %w", err)
	}

	ot.CreatedAt = now
	return nil
}

// ListObjectTypes lists a workspace's object types
func (s *Store) ListObjectTypes(ctx context.Context, workspaceID int64) ([]ObjectType, error) {
	query := `
		SELECT id, workspace_id, name, description, created_at
		FROM object_types
		WHERE workspace_id = $1
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list object types: %w", err)
	}
	defer rows.Close()

	var types []ObjectType
	for rows.Next() {
		var ot ObjectType
		if err := rows.Scan(&ot.ID, &ot.WorkspaceID, &ot.Name, &ot.Description, &ot.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan object type: %w", err)
		}
		types = append(types, ot)
	}

	return types, rows.Err()
}

// DeleteObjectType removes an object type. Permission rows narrowed to it are
// cascade-deleted by the foreign key.
func (s *Store) DeleteObjectType(ctx context.Context, typeID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM object_types WHERE id = $1`, typeID)
	if err != nil {
		return fmt.Errorf("failed to delete object type: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &authz.NotFoundError{Entity: "object type", ID: typeID}
	}

	return nil
}
