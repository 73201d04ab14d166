package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSeedSystemRoles(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := SeedSystemRoles(ctx, store); err != nil {
		t.Fatalf("failed to seed system roles: %v", err)
	}

	for _, name := range []string{RoleOrgAdmin, RoleMember, RoleViewer} {
		role, err := store.GetRoleByName(ctx, name, nil)
		if err != nil {
			t.Fatalf("expected system role %s to exist: %v", name, err)
		}
		if !role.IsSystem() {
			t.Errorf("role %s should be system-wide", name)
		}
		perms, err := store.ListPermissions(ctx, role.ID)
		if err != nil {
			t.Fatalf("failed to list permissions for %s: %v", name, err)
		}
		if len(perms) == 0 {
			t.Errorf("role %s should carry permissions", name)
		}
	}
}

func TestSeedSystemRoles_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := SeedSystemRoles(ctx, store); err != nil {
		t.Fatalf("first seed failed: %v", err)
	}
	if err := SeedSystemRoles(ctx, store); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}

	admin, err := store.GetRoleByName(ctx, RoleOrgAdmin, nil)
	if err != nil {
		t.Fatalf("failed to look up admin role: %v", err)
	}
	before, err := store.ListPermissions(ctx, admin.ID)
	if err != nil {
		t.Fatalf("failed to list permissions: %v", err)
	}

	if err := SeedSystemRoles(ctx, store); err != nil {
		t.Fatalf("third seed failed: %v", err)
	}
	after, err := store.ListPermissions(ctx, admin.ID)
	if err != nil {
		t.Fatalf("failed to list permissions: %v", err)
	}
	if len(before) != len(after) {
		t.Errorf("reseeding changed permission count: %d -> %d", len(before), len(after))
	}
}

func TestLoadSeedFile(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "roles.yaml")
	content := `
roles:
  - name: support_agent
    description: Handles customer tickets
    permissions:
      - resource_kind: organization
        action: read
      - resource_kind: workspace
        action: read
        apply_workspace_wide: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write seed file: %v", err)
	}

	if err := LoadSeedFile(ctx, store, path); err != nil {
		t.Fatalf("failed to load seed file: %v", err)
	}

	role, err := store.GetRoleByName(ctx, "support_agent", nil)
	if err != nil {
		t.Fatalf("expected seeded role to exist: %v", err)
	}
	perms, err := store.ListPermissions(ctx, role.ID)
	if err != nil {
		t.Fatalf("failed to list permissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(perms))
	}

	var sawWorkspaceWide bool
	for _, p := range perms {
		if p.ResourceKind == KindWorkspace && p.ApplyWorkspaceWide {
			sawWorkspaceWide = true
		}
	}
	if !sawWorkspaceWide {
		t.Error("expected workspace read grant to be workspace-wide")
	}

	// Loading again is idempotent.
	if err := LoadSeedFile(ctx, store, path); err != nil {
		t.Errorf("expected reload to be idempotent, got %v", err)
	}
}

func TestLoadSeedFile_MissingFile(t *testing.T) {
	store := setupTestStore(t)

	err := LoadSeedFile(context.Background(), store, filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Error("expected error for missing seed file")
	}
}
