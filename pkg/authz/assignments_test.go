package authz

import (
	"context"
	"testing"
)

func TestAssign(t *testing.T) {
	store := setupTestStore(t)
	db := store.DB()
	ctx := context.Background()
	orgID := createTestOrg(t, db, "acme")
	userID := createTestUser(t, db, "alice@example.com")
	addTestOrgMember(t, db, orgID, userID)
	role := createTestRole(t, store, "deployer", &orgID)

	assignment, err := store.Assign(ctx, Principal{Kind: PrincipalUser, ID: userID}, orgID, nil, role.ID, nil)
	if err != nil {
		t.Fatalf("failed to assign: %v", err)
	}
	if assignment.ID == 0 {
		t.Error("expected assignment id to be set")
	}
	if assignment.WorkspaceID != nil {
		t.Error("expected org-level assignment to have nil workspace")
	}
}

func TestAssign_DuplicateTupleConflicts(t *testing.T) {
	store := setupTestStore(t)
	db := store.DB()
	ctx := context.Background()
	orgID := createTestOrg(t, db, "acme")
	wsID := createTestWorkspace(t, db, orgID, "production")
	userID := createTestUser(t, db, "alice@example.com")
	addTestOrgMember(t, db, orgID, userID)
	role := createTestRole(t, store, "deployer", &orgID)
	principal := Principal{Kind: PrincipalUser, ID: userID}

	if _, err := store.Assign(ctx, principal, orgID, nil, role.ID, nil); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}
	if _, err := store.Assign(ctx, principal, orgID, nil, role.ID, nil); !IsConflict(err) {
		t.Errorf("expected ConflictError for duplicate org-level tuple, got %v", err)
	}

	// Same role at a workspace scope is a distinct tuple.
	if _, err := store.Assign(ctx, principal, orgID, &wsID, role.ID, nil); err != nil {
		t.Errorf("expected workspace-scoped tuple to succeed, got %v", err)
	}
	if _, err := store.Assign(ctx, principal, orgID, &wsID, role.ID, nil); !IsConflict(err) {
		t.Errorf("expected ConflictError for duplicate workspace tuple, got %v", err)
	}
}

func TestAssign_RequiresOrgMembership(t *testing.T) {
	store := setupTestStore(t)
	db := store.DB()
	ctx := context.Background()
	orgID := createTestOrg(t, db, "acme")
	userID := createTestUser(t, db, "outsider@example.com")
	role := createTestRole(t, store, "deployer", &orgID)

	_, err := store.Assign(ctx, Principal{Kind: PrincipalUser, ID: userID}, orgID, nil, role.ID, nil)
	if !IsValidation(err) {
		t.Errorf("expected ValidationError for non-member user, got %v", err)
	}
}

func TestAssign_RejectsForeignOrgRole(t *testing.T) {
	store := setupTestStore(t)
	db := store.DB()
	ctx := context.Background()
	orgID := createTestOrg(t, db, "acme")
	otherOrgID := createTestOrg(t, db, "globex")
	userID := createTestUser(t, db, "alice@example.com")
	addTestOrgMember(t, db, orgID, userID)
	foreignRole := createTestRole(t, store, "deployer", &otherOrgID)

	_, err := store.Assign(ctx, Principal{Kind: PrincipalUser, ID: userID}, orgID, nil, foreignRole.ID, nil)
	if !IsValidation(err) {
		t.Errorf("expected ValidationError for cross-org role, got %v", err)
	}
}

func TestAssign_SystemRoleUsableByAnyOrg(t *testing.T) {
	store := setupTestStore(t)
	db := store.DB()
	ctx := context.Background()
	orgID := createTestOrg(t, db, "acme")
	userID := createTestUser(t, db, "alice@example.com")
	addTestOrgMember(t, db, orgID, userID)
	system := createTestRole(t, store, "system_auditor", nil)

	if _, err := store.Assign(ctx, Principal{Kind: PrincipalUser, ID: userID}, orgID, nil, system.ID, nil); err != nil {
		t.Errorf("expected system role assignment to succeed, got %v", err)
	}
}

func TestAssign_RejectsUnknownPrincipalKind(t *testing.T) {
	store := setupTestStore(t)
	db := store.DB()
	ctx := context.Background()
	orgID := createTestOrg(t, db, "acme")
	role := createTestRole(t, store, "deployer", &orgID)

	_, err := store.Assign(ctx, Principal{Kind: "service", ID: 1}, orgID, nil, role.ID, nil)
	if !IsValidation(err) {
		t.Errorf("expected ValidationError for unknown principal kind, got %v", err)
	}
}

func TestUnassign_NotFound(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Unassign(context.Background(), 9999); !IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestListForPrincipal(t *testing.T) {
	store := setupTestStore(t)
	db := store.DB()
	ctx := context.Background()
	orgID := createTestOrg(t, db, "acme")
	wsID := createTestWorkspace(t, db, orgID, "production")
	userID := createTestUser(t, db, "alice@example.com")
	otherUserID := createTestUser(t, db, "bob@example.com")
	addTestOrgMember(t, db, orgID, userID)
	addTestOrgMember(t, db, orgID, otherUserID)
	role := createTestRole(t, store, "deployer", &orgID)
	principal := Principal{Kind: PrincipalUser, ID: userID}

	if _, err := store.Assign(ctx, principal, orgID, nil, role.ID, nil); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}
	if _, err := store.Assign(ctx, principal, orgID, &wsID, role.ID, nil); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}
	if _, err := store.Assign(ctx, Principal{Kind: PrincipalUser, ID: otherUserID}, orgID, nil, role.ID, nil); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}

	assignments, err := store.ListForPrincipal(ctx, principal, orgID)
	if err != nil {
		t.Fatalf("failed to list assignments: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(assignments))
	}
	for _, a := range assignments {
		if a.PrincipalID != userID {
			t.Errorf("listed assignment for wrong principal: %+v", a)
		}
	}
}
