package teams

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
)

// Store handles team persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new team store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create adds an active team
func (s *Store) Create(ctx context.Context, name string) (*Team, error) {
	const op = "teams.create"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation(op, "team name is required")
	}

	team := &Team{ID: uuid.New(), Name: name, Active: true, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, active, created_at) VALUES ($1, $2, true, $3)`,
		team.ID, team.Name, team.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to create team", err)
	}
	return team, nil
}

// Get returns a team by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Team, error) {
	const op = "teams.get"
	var team Team
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, active, created_at FROM teams WHERE id = $1`, id).
		Scan(&team.ID, &team.Name, &team.Active, &team.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "team %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(op, "failed to get team", err)
	}
	return &team, nil
}

// List returns active teams ordered by name
func (s *Store) List(ctx context.Context) ([]Team, error) {
	const op = "teams.list"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, active, created_at FROM teams WHERE active = true ORDER BY name ASC`)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list teams", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var team Team
		if err := rows.Scan(&team.ID, &team.Name, &team.Active, &team.CreatedAt); err != nil {
			return nil, apperr.Wrap(op, "failed to scan team", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// Deactivate soft-deletes a team
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	const op = "teams.deactivate"
	result, err := s.db.ExecContext(ctx, `UPDATE teams SET active = false WHERE id = $1 AND active = true`, id)
	if err != nil {
		return apperr.Wrap(op, "failed to deactivate team", err)
	}
	return postgres.CheckAffected(ctx, s.db, op, result, "teams", id)
}

// AddMembership adds an account to a team or changes its team role
func (s *Store) AddMembership(ctx context.Context, teamID, accountID uuid.UUID, role Role) error {
	const op = "teams.add_membership"
	if !role.Valid() {
		return apperr.Validation(op, "unknown team role %q", role)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_memberships (team_id, account_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (team_id, account_id) DO UPDATE SET role = EXCLUDED.role
	`, teamID, accountID, role)
	if err != nil {
		return apperr.Wrap(op, "failed to add team membership", err)
	}
	return nil
}

// RemoveMembership removes an account from a team
func (s *Store) RemoveMembership(ctx context.Context, teamID, accountID uuid.UUID) error {
	const op = "teams.remove_membership"
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM team_memberships WHERE team_id = $1 AND account_id = $2`, teamID, accountID)
	if err != nil {
		return apperr.Wrap(op, "failed to remove team membership", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(op, "failed to get rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound(op, "account %s is not in team %s", accountID, teamID)
	}
	return nil
}

// GetMembership returns an account's membership in a team
func (s *Store) GetMembership(ctx context.Context, teamID, accountID uuid.UUID) (*Membership, error) {
	const op = "teams.get_membership"
	m := Membership{TeamID: teamID, AccountID: accountID}
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM team_memberships WHERE team_id = $1 AND account_id = $2`, teamID, accountID).
		Scan(&m.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "account %s is not in team %s", accountID, teamID)
	}
	if err != nil {
		return nil, apperr.Wrap(op, "failed to get team membership", err)
	}
	return &m, nil
}

// ListMemberships returns every membership of a team
func (s *Store) ListMemberships(ctx context.Context, teamID uuid.UUID) ([]Membership, error) {
	const op = "teams.list_memberships"
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, role FROM team_memberships WHERE team_id = $1 ORDER BY account_id`, teamID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list team memberships", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		m := Membership{TeamID: teamID}
		if err := rows.Scan(&m.AccountID, &m.Role); err != nil {
			return nil, apperr.Wrap(op, "failed to scan team membership", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GrantProjectAccess gives a team reach into a project. Granting twice is a no-op.
func (s *Store) GrantProjectAccess(ctx context.Context, projectID, teamID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_project_access (project_id, team_id) VALUES ($1, $2)
		ON CONFLICT (project_id, team_id) DO NOTHING
	`, projectID, teamID)
	if err != nil {
		return apperr.Wrap("teams.grant_project_access", "failed to grant project access", err)
	}
	return nil
}

// RevokeProjectAccess removes a team's reach into a project
func (s *Store) RevokeProjectAccess(ctx context.Context, projectID, teamID uuid.UUID) error {
	const op = "teams.revoke_project_access"
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM team_project_access WHERE project_id = $1 AND team_id = $2`, projectID, teamID)
	if err != nil {
		return apperr.Wrap(op, "failed to revoke project access", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(op, "failed to get rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound(op, "team %s has no access to project %s", teamID, projectID)
	}
	return nil
}

// HasProjectAccess reports whether a team holds access to a project
func (s *Store) HasProjectAccess(ctx context.Context, projectID, teamID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM team_project_access WHERE project_id = $1 AND team_id = $2)
	`, projectID, teamID).Scan(&ok)
	if err != nil {
		return false, apperr.Wrap("teams.has_project_access", "failed to check project access", err)
	}
	return ok, nil
}

// ListProjectTeams returns the active teams holding access to a project
func (s *Store) ListProjectTeams(ctx context.Context, projectID uuid.UUID) ([]Team, error) {
	const op = "teams.list_project_teams"
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.active, t.created_at
		FROM team_project_access tpa
		JOIN teams t ON t.id = tpa.team_id
		WHERE tpa.project_id = $1 AND t.active = true
		ORDER BY t.name ASC
	`, projectID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list project teams", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var team Team
		if err := rows.Scan(&team.ID, &team.Name, &team.Active, &team.CreatedAt); err != nil {
			return nil, apperr.Wrap(op, "failed to scan team", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}
