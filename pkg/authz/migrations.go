package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the authorization schema migrations. They assume the
// core tenant tables (users, organizations, workspaces, object_types,
// organization_members) already exist; run the orgs migrations first.
//
// Nullable scope columns participate in uniqueness through COALESCE
// expression indexes, so "same scope" includes the null scope.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create teams and team_members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS teams (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE UNIQUE INDEX idx_teams_org_name ON teams(organization_id, name) WHERE deleted_at IS NULL;
				CREATE INDEX idx_teams_organization_id ON teams(organization_id);

				CREATE TABLE IF NOT EXISTS team_members (
					id BIGSERIAL PRIMARY KEY,
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					added_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					added_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(team_id, user_id)
				);

				CREATE INDEX idx_team_members_user_id ON team_members(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE UNIQUE INDEX idx_roles_scope_name ON roles(name, COALESCE(organization_id, 0)) WHERE deleted_at IS NULL;
				CREATE INDEX idx_roles_organization_id ON roles(organization_id);
			`,
		},
		{
			Version:     3,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					resource_kind VARCHAR(50) NOT NULL,
					action VARCHAR(50) NOT NULL,
					apply_org_wide BOOLEAN NOT NULL DEFAULT FALSE,
					apply_workspace_wide BOOLEAN NOT NULL DEFAULT FALSE,
					object_type_id BIGINT REFERENCES object_types(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE UNIQUE INDEX idx_permissions_tuple ON permissions(role_id, resource_kind, action, COALESCE(object_type_id, 0)) WHERE deleted_at IS NULL;
				CREATE INDEX idx_permissions_role_id ON permissions(role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id BIGSERIAL PRIMARY KEY,
					principal_kind VARCHAR(10) NOT NULL,
					principal_id BIGINT NOT NULL,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					workspace_id BIGINT REFERENCES workspaces(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					assigned_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					assigned_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX idx_role_assignments_tuple ON role_assignments(principal_kind, principal_id, organization_id, COALESCE(workspace_id, 0), role_id);
				CREATE INDEX idx_role_assignments_principal ON role_assignments(principal_kind, principal_id, organization_id);
				CREATE INDEX idx_role_assignments_role_id ON role_assignments(role_id);
			`,
		},
	}
}

// RunMigrations executes all pending authorization migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate migration versions: %w", err)
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
