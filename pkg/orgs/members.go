package orgs

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/backoffice/pkg/authz"
)

// AddMember puts a user on an organization's roster. The insert relies on
// the uniqueness constraint rather than a check-then-insert; a zero-row
// result from ON CONFLICT DO NOTHING means the seat already existed.
func (s *Store) AddMember(ctx context.Context, orgID, userID int64, invitedBy *int64) (*Member, error) {
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO organization_members (organization_id, user_id, invited_by, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, user_id) DO NOTHING
		RETURNING id
	`

	member := &Member{
		OrganizationID: orgID,
		UserID:         userID,
		InvitedBy:      invitedBy,
		JoinedAt:       time.Now().UTC(),
	}

	err := s.db.QueryRowContext(ctx, query,
		member.OrganizationID, member.UserID, member.InvitedBy, member.JoinedAt,
	).Scan(&member.ID)
	if isNoRows(err) {
		return nil, &authz.ConflictError{Message: "user is already a member of this organization"}
	}
	if isForeignKeyViolation(err) {
		return nil, &authz.NotFoundError{Entity: "user", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	return member, nil
}

// RemoveMember takes a user off the roster. Role assignments held by the
// user in this organization are revoked in the same transaction: an
// assignment without a membership is the inconsistency this schema forbids.
func (s *Store) RemoveMember(ctx context.Context, orgID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &authz.NotFoundError{Entity: "member"}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE organization_id = $1 AND principal_kind = 'user' AND principal_id = $2`,
		orgID, userID,
	); err != nil {
		return fmt.Errorf("failed to revoke member assignments: %w", err)
	}

	return tx.Commit()
}

// ListMembers lists an organization's roster with account details
func (s *Store) ListMembers(ctx context.Context, orgID int64) ([]Member, error) {
	query := `
		SELECT id, organization_id, user_id, invited_by, joined_at
		FROM organization_members
		WHERE organization_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var member Member
		var invitedBy nullableID
		if err := rows.Scan(&member.ID, &member.OrganizationID, &member.UserID, &invitedBy, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.InvitedBy = invitedBy.ptr()
		members = append(members, member)
	}

	return members, rows.Err()
}

// IsMember checks the roster for a user
func (s *Store) IsMember(ctx context.Context, orgID, userID int64) (bool, error) {
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
