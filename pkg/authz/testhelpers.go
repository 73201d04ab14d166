package authz

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testSchema mirrors the postgres migrations in sqlite syntax so store and
// engine tests run against :memory: databases. The tenant tables normally
// owned by the orgs package are included as minimal stubs to satisfy foreign
// keys.
const testSchema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		deleted_at TIMESTAMP
	);

	CREATE TABLE workspaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		deleted_at TIMESTAMP
	);

	CREATE TABLE object_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		name TEXT NOT NULL
	);

	CREATE TABLE organization_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		UNIQUE(organization_id, user_id)
	);

	CREATE TABLE teams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	);

	CREATE UNIQUE INDEX idx_teams_org_name ON teams(organization_id, name) WHERE deleted_at IS NULL;

	CREATE TABLE team_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		team_id INTEGER NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		added_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
		added_at TIMESTAMP NOT NULL,
		UNIQUE(team_id, user_id)
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		organization_id INTEGER REFERENCES organizations(id) ON DELETE CASCADE,
		created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	);

	CREATE UNIQUE INDEX idx_roles_scope_name ON roles(name, COALESCE(organization_id, 0)) WHERE deleted_at IS NULL;

	CREATE TABLE permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		resource_kind TEXT NOT NULL,
		action TEXT NOT NULL,
		apply_org_wide BOOLEAN NOT NULL DEFAULT FALSE,
		apply_workspace_wide BOOLEAN NOT NULL DEFAULT FALSE,
		object_type_id INTEGER REFERENCES object_types(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	);

	CREATE UNIQUE INDEX idx_permissions_tuple ON permissions(role_id, resource_kind, action, COALESCE(object_type_id, 0)) WHERE deleted_at IS NULL;

	CREATE TABLE role_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		principal_kind TEXT NOT NULL,
		principal_id INTEGER NOT NULL,
		organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		workspace_id INTEGER REFERENCES workspaces(id) ON DELETE CASCADE,
		role_id INTEGER NOT NULL REFERENCES roles(id),
		assigned_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
		assigned_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX idx_role_assignments_tuple ON role_assignments(principal_kind, principal_id, organization_id, COALESCE(workspace_id, 0), role_id);
`

// setupTestDB creates an in-memory sqlite database with the full schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}

	return db
}

// setupTestStore creates a store backed by an in-memory database
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(setupTestDB(t))
}

func createTestUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow("INSERT INTO users (email) VALUES ($1) RETURNING id", email).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return id
}

func createTestOrg(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow("INSERT INTO organizations (name) VALUES ($1) RETURNING id", name).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create test organization: %v", err)
	}
	return id
}

func createTestWorkspace(t *testing.T, db *sql.DB, orgID int64, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		"INSERT INTO workspaces (organization_id, name) VALUES ($1, $2) RETURNING id",
		orgID, name,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create test workspace: %v", err)
	}
	return id
}

func createTestObjectType(t *testing.T, db *sql.DB, workspaceID int64, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		"INSERT INTO object_types (workspace_id, name) VALUES ($1, $2) RETURNING id",
		workspaceID, name,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create test object type: %v", err)
	}
	return id
}

// addTestOrgMember puts a user on an organization's roster. Assign refuses
// user principals that are not members.
func addTestOrgMember(t *testing.T, db *sql.DB, orgID, userID int64) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO organization_members (organization_id, user_id) VALUES ($1, $2)",
		orgID, userID,
	)
	if err != nil {
		t.Fatalf("failed to add test org member: %v", err)
	}
}

// createTestRole creates a role through the store, failing the test on error
func createTestRole(t *testing.T, store *Store, name string, orgID *int64) *Role {
	t.Helper()
	role := &Role{Name: name, OrganizationID: orgID}
	if err := store.CreateRole(context.Background(), role); err != nil {
		t.Fatalf("failed to create test role %q: %v", name, err)
	}
	return role
}
