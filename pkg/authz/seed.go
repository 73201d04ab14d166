package authz

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Built-in system role names. System roles live outside any organization
// (nil org id) and are visible to every tenant; invitation acceptance falls
// back to RoleMember when the invite names no role.
const (
	RoleOrgAdmin = "org_admin"
	RoleMember   = "member"
	RoleViewer   = "viewer"
)

type seedPermission struct {
	Kind ResourceKind
	Act  Action
	Opts GrantOptions
}

type seedRole struct {
	Name        string
	Description string
	Permissions []seedPermission
}

func systemRoles() []seedRole {
	orgWide := GrantOptions{ApplyOrgWide: true, ApplyWorkspaceWide: true}
	wsWide := GrantOptions{ApplyWorkspaceWide: true}

	return []seedRole{
		{
			Name:        RoleOrgAdmin,
			Description: "Full administrative control over an organization and its workspaces",
			Permissions: []seedPermission{
				{KindOrganization, ActionRead, orgWide},
				{KindOrganization, ActionUpdate, orgWide},
				{KindOrganization, ActionDelete, orgWide},
				{KindOrganization, ActionManageMembers, orgWide},
				{KindOrganization, ActionManageTeams, orgWide},
				{KindOrganization, ActionManageRoles, orgWide},
				{KindWorkspace, ActionRead, orgWide},
				{KindWorkspace, ActionCreate, orgWide},
				{KindWorkspace, ActionUpdate, orgWide},
				{KindWorkspace, ActionDelete, orgWide},
			},
		},
		{
			Name:        RoleMember,
			Description: "Standard member: read access plus workspace collaboration",
			Permissions: []seedPermission{
				{KindOrganization, ActionRead, GrantOptions{}},
				{KindWorkspace, ActionRead, wsWide},
				{KindWorkspace, ActionUpdate, wsWide},
			},
		},
		{
			Name:        RoleViewer,
			Description: "Read-only access",
			Permissions: []seedPermission{
				{KindOrganization, ActionRead, GrantOptions{}},
				{KindWorkspace, ActionRead, wsWide},
			},
		},
	}
}

// SeedSystemRoles creates the built-in system roles and their permissions.
// Idempotent: roles and grants that already exist are left untouched, so it
// runs unconditionally at startup.
func SeedSystemRoles(ctx context.Context, store *Store) error {
	for _, sr := range systemRoles() {
		if err := seedOneRole(ctx, store, nil, sr); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", sr.Name, err)
		}
	}
	return nil
}

func seedOneRole(ctx context.Context, store *Store, orgID *int64, sr seedRole) error {
	role := &Role{Name: sr.Name, Description: sr.Description, OrganizationID: orgID}
	err := store.CreateRole(ctx, role)
	if IsConflict(err) {
		role, err = store.GetRoleByName(ctx, sr.Name, orgID)
	}
	if err != nil {
		return err
	}

	for _, p := range sr.Permissions {
		if _, err := store.Grant(ctx, role.ID, p.Kind, p.Act, p.Opts); err != nil && !IsConflict(err) {
			return err
		}
	}
	return nil
}

// seedFile is the YAML layout accepted by LoadSeedFile
type seedFile struct {
	Roles []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Permissions []struct {
			ResourceKind       string `yaml:"resource_kind"`
			Action             string `yaml:"action"`
			ApplyOrgWide       bool   `yaml:"apply_org_wide"`
			ApplyWorkspaceWide bool   `yaml:"apply_workspace_wide"`
			ObjectTypeID       *int64 `yaml:"object_type_id"`
		} `yaml:"permissions"`
	} `yaml:"roles"`
}

// LoadSeedFile reads additional system roles from a YAML file and seeds them
// the same way the built-ins are seeded. Operators use this to ship
// deployment-specific roles without code changes.
func LoadSeedFile(ctx context.Context, store *Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	for _, r := range sf.Roles {
		sr := seedRole{Name: r.Name, Description: r.Description}
		for _, p := range r.Permissions {
			sr.Permissions = append(sr.Permissions, seedPermission{
				Kind: ResourceKind(p.ResourceKind),
				Act:  Action(p.Action),
				Opts: GrantOptions{
					ApplyOrgWide:       p.ApplyOrgWide,
					ApplyWorkspaceWide: p.ApplyWorkspaceWide,
					ObjectTypeID:       p.ObjectTypeID,
				},
			})
		}
		if err := seedOneRole(ctx, store, nil, sr); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", r.Name, err)
		}
	}

	return nil
}
