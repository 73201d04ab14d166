package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/backoffice/pkg/authz"
)

// Notifier delivers invitation notifications out of band. Delivery failure
// never rolls back the invitation row; the caller surfaces the failure to the
// inviting admin so they can resend through another channel.
type Notifier interface {
	SendInvitation(ctx context.Context, invitation *Invitation) error
}

// NopNotifier discards notifications
type NopNotifier struct{}

func (NopNotifier) SendInvitation(ctx context.Context, invitation *Invitation) error {
	return nil
}

// LogNotifier writes invitation notifications to the log. Used in
// deployments where delivery is handled by an external relay watching the
// invitation table.
type LogNotifier struct {
	Log *logrus.Logger
}

func (n LogNotifier) SendInvitation(ctx context.Context, invitation *Invitation) error {
	log := n.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"organization_id": invitation.OrganizationID,
		"email":           invitation.Email,
		"expires_at":      invitation.ExpiresAt,
	}).Info("Invitation created")
	return nil
}

// CreateInvitation creates a pending invitation. One pending invitation per
// (organization, email); a second invite while the first is pending is a
// conflict. Tokens are opaque and unguessable.
func (s *Store) CreateInvitation(ctx context.Context, inv *Invitation) error {
	if strings.TrimSpace(inv.Email) == "" || !strings.Contains(inv.Email, "@") {
		return &authz.ValidationError{Field: "email", Message: "must be a valid email address"}
	}

	if _, err := s.GetOrganization(ctx, inv.OrganizationID); err != nil {
		return err
	}

	now := time.Now().UTC()
	inv.Token = uuid.NewString()
	inv.InvitedAt = now
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = now.Add(defaultInvitationTTL)
	}

	query := `
		INSERT INTO invitations (organization_id, email, role_id, token, invited_by, invited_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		inv.OrganizationID, inv.Email, inv.RoleID, inv.Token, inv.InvitedBy, inv.InvitedAt, inv.ExpiresAt,
	).Scan(&inv.ID)

	if isUniqueViolation(err) {
		return &authz.ConflictError{Message: fmt.Sprintf("a pending invitation for %s already exists", inv.Email)}
	}
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}

	return nil
}

// GetInvitationByToken retrieves an invitation by its token
func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	query := `
		SELECT id, organization_id, email, role_id, token, invited_by, invited_at, expires_at, accepted_at, accepted_by, revoked_at
		FROM invitations
		WHERE token = $1
	`
	return s.scanInvitation(s.db.QueryRowContext(ctx, query, token))
}

// GetInvitation retrieves an invitation by ID
func (s *Store) GetInvitation(ctx context.Context, invitationID int64) (*Invitation, error) {
	query := `
		SELECT id, organization_id, email, role_id, token, invited_by, invited_at, expires_at, accepted_at, accepted_by, revoked_at
		FROM invitations
		WHERE id = $1
	`
	return s.scanInvitation(s.db.QueryRowContext(ctx, query, invitationID))
}

func (s *Store) scanInvitation(row *sql.Row) (*Invitation, error) {
	var inv Invitation
	var roleID, invitedBy, acceptedBy nullableID
	var acceptedAt, revokedAt sql.NullTime

	err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &roleID, &inv.Token,
		&invitedBy, &inv.InvitedAt, &inv.ExpiresAt, &acceptedAt, &acceptedBy, &revokedAt,
	)
	if isNoRows(err) {
		return nil, &authz.NotFoundError{Entity: "invitation"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	inv.RoleID = roleID.ptr()
	inv.InvitedBy = invitedBy.ptr()
	inv.AcceptedBy = acceptedBy.ptr()
	inv.AcceptedAt = nullTimePtr(acceptedAt)
	inv.RevokedAt = nullTimePtr(revokedAt)
	return &inv, nil
}

// ListPendingInvitations lists an organization's pending invitations,
// including ones past expiry that have not been cleaned up yet.
func (s *Store) ListPendingInvitations(ctx context.Context, orgID int64) ([]Invitation, error) {
	query := `
		SELECT id, organization_id, email, role_id, token, invited_by, invited_at, expires_at, accepted_at, accepted_by, revoked_at
		FROM invitations
		WHERE organization_id = $1 AND accepted_at IS NULL AND revoked_at IS NULL
		ORDER BY invited_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []Invitation
	for rows.Next() {
		var inv Invitation
		var roleID, invitedBy, acceptedBy nullableID
		var acceptedAt, revokedAt sql.NullTime
		if err := rows.Scan(
			&inv.ID, &inv.OrganizationID, &inv.Email, &roleID, &inv.Token,
			&invitedBy, &inv.InvitedAt, &inv.ExpiresAt, &acceptedAt, &acceptedBy, &revokedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		inv.RoleID = roleID.ptr()
		inv.InvitedBy = invitedBy.ptr()
		inv.AcceptedBy = acceptedBy.ptr()
		inv.AcceptedAt = nullTimePtr(acceptedAt)
		inv.RevokedAt = nullTimePtr(revokedAt)
		invitations = append(invitations, inv)
	}

	return invitations, rows.Err()
}

// AcceptInvitation provisions the invited user: membership row, role
// assignment, and the accepted_at marker, all in one transaction. The row is
// locked for the duration so a retried acceptance sees accepted_at already
// set and conflicts instead of provisioning twice.
//
// The assignment uses the invitation's role, falling back to the system
// member role when the invite named none.
func (s *Store) AcceptInvitation(ctx context.Context, token string, userID int64) (*Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, organization_id, email, role_id, expires_at, accepted_at, revoked_at
		FROM invitations
		WHERE token = $1
		FOR UPDATE
	`

	var inv Invitation
	var roleID nullableID
	var acceptedAt, revokedAt sql.NullTime
	err = tx.QueryRowContext(ctx, query, token).Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &roleID, &inv.ExpiresAt, &acceptedAt, &revokedAt,
	)
	if isNoRows(err) {
		return nil, &authz.NotFoundError{Entity: "invitation"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invitation: %w", err)
	}
	inv.Token = token
	inv.RoleID = roleID.ptr()

	now := time.Now().UTC()
	if acceptedAt.Valid {
		return nil, &authz.ConflictError{Message: "invitation already accepted"}
	}
	if revokedAt.Valid {
		return nil, &authz.ConflictError{Message: "invitation has been revoked"}
	}
	if now.After(inv.ExpiresAt) {
		return nil, &authz.ConflictError{Message: "invitation has expired"}
	}

	// Membership upsert: the user may already be on the roster through
	// another path.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organization_members (organization_id, user_id, invited_by, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, user_id) DO NOTHING
	`, inv.OrganizationID, userID, inv.InvitedBy, now); err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	assignRoleID := inv.RoleID
	if assignRoleID == nil {
		var memberRoleID int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM roles
			WHERE name = $1 AND organization_id IS NULL AND deleted_at IS NULL
		`, authz.RoleMember).Scan(&memberRoleID)
		if isNoRows(err) {
			return nil, fmt.Errorf("default member role is not seeded")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default role: %w", err)
		}
		assignRoleID = &memberRoleID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO role_assignments (principal_kind, principal_id, organization_id, workspace_id, role_id, assigned_by, assigned_at)
		VALUES ('user', $1, $2, NULL, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, userID, inv.OrganizationID, *assignRoleID, inv.InvitedBy, now); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE invitations SET accepted_at = $1, accepted_by = $2 WHERE id = $3
	`, now, userID, inv.ID); err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	inv.AcceptedAt = &now
	inv.AcceptedBy = &userID
	inv.RoleID = assignRoleID
	return &inv, nil
}

// RevokeInvitation marks a pending invitation revoked. Irreversible, and it
// deliberately does not touch assignments already provisioned by a prior
// acceptance; revoking access afterwards is a separate administrative action.
func (s *Store) RevokeInvitation(ctx context.Context, invitationID int64) error {
	inv, err := s.GetInvitation(ctx, invitationID)
	if err != nil {
		return err
	}

	switch inv.State(time.Now().UTC()) {
	case InvitationAccepted:
		return &authz.ConflictError{Message: "invitation already accepted"}
	case InvitationRevoked:
		return &authz.ConflictError{Message: "invitation already revoked"}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE invitations SET revoked_at = $1 WHERE id = $2 AND accepted_at IS NULL AND revoked_at IS NULL`,
		time.Now().UTC(), invitationID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}

	return nil
}

// CleanupExpiredInvitations hard-deletes invitations past expiry that were
// never accepted. Returns the number of rows removed.
func (s *Store) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE expires_at < $1 AND accepted_at IS NULL`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up invitations: %w", err)
	}
	return result.RowsAffected()
}
