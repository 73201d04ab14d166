package authz

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ResolvePrincipals resolves the full principal set for a user: exactly one
// user entry plus one team entry for every live team the user belongs to.
// Soft-deleted teams are excluded. The result is never empty; a user with no
// teams resolves to just the user principal.
func (s *Store) ResolvePrincipals(ctx context.Context, userID int64) ([]Principal, error) {
	principals := []Principal{{Kind: PrincipalUser, ID: userID}}

	query := `
		SELECT tm.team_id
		FROM team_members tm
		JOIN teams t ON t.id = tm.team_id
		WHERE tm.user_id = $1 AND t.deleted_at IS NULL
		ORDER BY tm.team_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve principals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var teamID int64
		if err := rows.Scan(&teamID); err != nil {
			return nil, fmt.Errorf("failed to scan team id: %w", err)
		}
		principals = append(principals, Principal{Kind: PrincipalTeam, ID: teamID})
	}

	return principals, rows.Err()
}

// CreateTeam creates a new team within an organization
func (s *Store) CreateTeam(ctx context.Context, team *Team) error {
	if strings.TrimSpace(team.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(team.Name) > maxNameLength {
		return &ValidationError{Field: "name", Message: "too long"}
	}

	query := `
		INSERT INTO teams (organization_id, name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		team.OrganizationID,
		team.Name,
		team.Description,
		team.CreatedBy,
		now,
		now,
	).Scan(&team.ID)

	if isUniqueViolation(err) {
		return &ConflictError{Message: fmt.Sprintf("team %q already exists in this organization", team.Name)}
	}
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}

	team.CreatedAt = now
	team.UpdatedAt = now
	return nil
}

// GetTeam retrieves a live team by ID
func (s *Store) GetTeam(ctx context.Context, teamID int64) (*Team, error) {
	query := `
		SELECT id, organization_id, name, description, created_by, created_at, updated_at
		FROM teams
		WHERE id = $1 AND deleted_at IS NULL
	`

	var team Team
	var createdBy nullableID
	err := s.db.QueryRowContext(ctx, query, teamID).Scan(
		&team.ID,
		&team.OrganizationID,
		&team.Name,
		&team.Description,
		&createdBy,
		&team.CreatedAt,
		&team.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, &NotFoundError{Entity: "team", ID: teamID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	team.CreatedBy = createdBy.ptr()
	return &team, nil
}

// ListTeams lists the live teams of an organization
func (s *Store) ListTeams(ctx context.Context, orgID int64) ([]Team, error) {
	query := `
		SELECT id, organization_id, name, description, created_by, created_at, updated_at
		FROM teams
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var team Team
		var createdBy nullableID
		if err := rows.Scan(
			&team.ID,
			&team.OrganizationID,
			&team.Name,
			&team.Description,
			&createdBy,
			&team.CreatedAt,
			&team.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		team.CreatedBy = createdBy.ptr()
		teams = append(teams, team)
	}

	return teams, rows.Err()
}

// UpdateTeam updates a team's name and description
func (s *Store) UpdateTeam(ctx context.Context, team *Team) error {
	if strings.TrimSpace(team.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}

	query := `
		UPDATE teams
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`

	team.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, team.Name, team.Description, team.UpdatedAt, team.ID)
	if isUniqueViolation(err) {
		return &ConflictError{Message: fmt.Sprintf("team %q already exists in this organization", team.Name)}
	}
	if err != nil {
		return fmt.Errorf("failed to update team: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "team", ID: team.ID}
	}

	return nil
}

// DeleteTeam soft-deletes a team. Its memberships stop contributing to
// principal resolution immediately; assignment rows held by the team remain
// but no longer reach any user.
func (s *Store) DeleteTeam(ctx context.Context, teamID int64) error {
	query := `UPDATE teams SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), teamID)
	if err != nil {
		return fmt.Errorf("failed to delete team: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "team", ID: teamID}
	}

	return nil
}

// AddTeamMember adds a user to a team
func (s *Store) AddTeamMember(ctx context.Context, member *TeamMember) error {
	query := `
		INSERT INTO team_members (team_id, user_id, added_by, added_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		member.TeamID,
		member.UserID,
		member.AddedBy,
		now,
	).Scan(&member.ID)

	if isUniqueViolation(err) {
		return &ConflictError{Message: "user is already a member of this team"}
	}
	if err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}

	member.AddedAt = now
	return nil
}

// RemoveTeamMember removes a user from a team
func (s *Store) RemoveTeamMember(ctx context.Context, teamID, userID int64) error {
	query := `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`

	result, err := s.db.ExecContext(ctx, query, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "team member"}
	}

	return nil
}

// ListTeamMembers lists the members of a team
func (s *Store) ListTeamMembers(ctx context.Context, teamID int64) ([]TeamMember, error) {
	query := `
		SELECT id, team_id, user_id, added_by, added_at
		FROM team_members
		WHERE team_id = $1
		ORDER BY added_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	var members []TeamMember
	for rows.Next() {
		var member TeamMember
		var addedBy nullableID
		if err := rows.Scan(&member.ID, &member.TeamID, &member.UserID, &addedBy, &member.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		member.AddedBy = addedBy.ptr()
		members = append(members, member)
	}

	return members, rows.Err()
}
