package members

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
)

const memberColumns = `pm.id, pm.project_id, pm.accessor_id, pm.account_id, pm.type, pm.role_id, pm.status,
	pm.invited_at, pm.accepted_at, pm.team_id, pm.created_at, pm.updated_at`

// Store handles project member persistence
type Store struct {
	db *sql.DB
}

var _ Repository = (*Store)(nil)

// NewStore creates a new member store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMember reads a member row. A role authority is set directly; custom
// grants are attached by the caller.
func scanMember(row rowScanner) (*Member, error) {
	var m Member
	var accountID, roleID, teamID uuid.NullUUID
	var invitedAt, acceptedAt sql.NullTime
	if err := row.Scan(
		&m.ID, &m.ProjectID, &m.AccessorID, &accountID, &m.Type, &roleID, &m.Status,
		&invitedAt, &acceptedAt, &teamID, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if accountID.Valid {
		id := accountID.UUID
		m.AccountID = &id
	}
	if teamID.Valid {
		id := teamID.UUID
		m.TeamID = &id
	}
	if invitedAt.Valid {
		t := invitedAt.Time
		m.InvitedAt = &t
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		m.AcceptedAt = &t
	}
	if roleID.Valid {
		m.Authority = RoleAuthority(roleID.UUID)
	} else {
		m.Authority = NoAuthority()
	}
	return &m, nil
}

func (s *Store) attachCustomGrants(ctx context.Context, op string, m *Member) error {
	if m.Authority.Kind() == AuthorityRole {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_key, can_view, can_create, can_edit, can_delete
		FROM project_member_permissions
		WHERE project_member_id = $1
		ORDER BY module_key
	`, m.ID)
	if err != nil {
		return apperr.Wrap(op, "failed to get member grants", err)
	}
	defer rows.Close()

	var grants []rbac.ModuleGrant
	for rows.Next() {
		var g rbac.ModuleGrant
		if err := rows.Scan(&g.Module, &g.View, &g.Create, &g.Edit, &g.Delete); err != nil {
			return apperr.Wrap(op, "failed to scan member grant", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return apperr.Wrap(op, "failed to read member grants", err)
	}
	m.Authority = CustomAuthority(grants)
	return nil
}

func (s *Store) getOne(ctx context.Context, op string, query string, args ...any) (*Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "project member not found")
	}
	if err != nil {
		return nil, apperr.Wrap(op, "failed to get project member", err)
	}
	if err := s.attachCustomGrants(ctx, op, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns a member by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.getOne(ctx, "members.get",
		`SELECT `+memberColumns+` FROM project_members pm WHERE pm.id = $1`, id)
}

// GetByAccessor returns the project's member row for an accessor
func (s *Store) GetByAccessor(ctx context.Context, projectID, accessorID uuid.UUID) (*Member, error) {
	return s.getOne(ctx, "members.get_by_accessor",
		`SELECT `+memberColumns+` FROM project_members pm WHERE pm.project_id = $1 AND pm.accessor_id = $2`,
		projectID, accessorID)
}

// FindForViewer resolves the member row of an account in a project, matching
// either the member's account_id or the linked accessor's
// registered_account_id. An active row wins when both linkages match
// different rows.
func (s *Store) FindForViewer(ctx context.Context, projectID, accountID uuid.UUID) (*Member, error) {
	return s.getOne(ctx, "members.find_for_viewer", `
		SELECT `+memberColumns+`
		FROM project_members pm
		JOIN accessors a ON a.id = pm.accessor_id
		WHERE pm.project_id = $1 AND (pm.account_id = $2 OR a.registered_account_id = $3)
		ORDER BY CASE WHEN pm.status = 'active' THEN 0 ELSE 1 END, pm.created_at ASC
		LIMIT 1
	`, projectID, accountID, accountID)
}

// List returns every member of a project with its authority
func (s *Store) List(ctx context.Context, projectID uuid.UUID) ([]*Member, error) {
	const op = "members.list"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM project_members pm
		WHERE pm.project_id = $1
		ORDER BY pm.created_at ASC
	`, projectID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list project members", err)
	}
	defer rows.Close()

	var out []*Member
	index := make(map[uuid.UUID]*Member)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, apperr.Wrap(op, "failed to scan project member", err)
		}
		out = append(out, m)
		index[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(op, "failed to read project members", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	grantRows, err := s.db.QueryContext(ctx, `
		SELECT pmp.project_member_id, pmp.module_key, pmp.can_view, pmp.can_create, pmp.can_edit, pmp.can_delete
		FROM project_member_permissions pmp
		JOIN project_members pm ON pm.id = pmp.project_member_id
		WHERE pm.project_id = $1
		ORDER BY pmp.project_member_id, pmp.module_key
	`, projectID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list member grants", err)
	}
	defer grantRows.Close()

	grants := make(map[uuid.UUID][]rbac.ModuleGrant)
	for grantRows.Next() {
		var memberID uuid.UUID
		var g rbac.ModuleGrant
		if err := grantRows.Scan(&memberID, &g.Module, &g.View, &g.Create, &g.Edit, &g.Delete); err != nil {
			return nil, apperr.Wrap(op, "failed to scan member grant", err)
		}
		grants[memberID] = append(grants[memberID], g)
	}
	if err := grantRows.Err(); err != nil {
		return nil, apperr.Wrap(op, "failed to read member grants", err)
	}
	for id, gs := range grants {
		if m, ok := index[id]; ok && m.Authority.Kind() != AuthorityRole {
			m.Authority = CustomAuthority(gs)
		}
	}
	return out, nil
}

// Insert creates a member row and its custom grants in one transaction
func (s *Store) Insert(ctx context.Context, m *Member) error {
	const op = "members.insert"
	now := time.Now().UTC()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	roleID, _ := m.Authority.RoleID()

	err := postgres.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO project_members (id, project_id, accessor_id, account_id, type, role_id, status,
				invited_at, accepted_at, team_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, m.ID, m.ProjectID, m.AccessorID, m.AccountID, m.Type, nullUUID(roleID), m.Status,
			m.InvitedAt, m.AcceptedAt, m.TeamID, now, now)
		if err != nil {
			return apperr.Wrap(op, "failed to insert project member", err)
		}
		return insertCustomGrants(ctx, tx, op, m.ID, m.Authority)
	})
	if err != nil {
		return err
	}

	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

// ReplaceAuthority swaps the member's authority source in one transaction.
// Setting a role clears custom rows; custom grants or none clear role_id.
func (s *Store) ReplaceAuthority(ctx context.Context, id uuid.UUID, authority Authority) error {
	const op = "members.replace_authority"
	roleID, _ := authority.RoleID()

	return postgres.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE project_members SET role_id = $1, updated_at = $2 WHERE id = $3`,
			nullUUID(roleID), time.Now().UTC(), id)
		if err != nil {
			return apperr.Wrap(op, "failed to update member role", err)
		}
		if err := postgres.CheckAffected(ctx, tx, op, result, "project_members", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM project_member_permissions WHERE project_member_id = $1`, id); err != nil {
			return apperr.Wrap(op, "failed to clear member grants", err)
		}
		return insertCustomGrants(ctx, tx, op, id, authority)
	})
}

func insertCustomGrants(ctx context.Context, tx *sql.Tx, op string, memberID uuid.UUID, authority Authority) error {
	if authority.Kind() != AuthorityCustom {
		return nil
	}
	for _, g := range authority.Grants() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO project_member_permissions (project_member_id, module_key, can_view, can_create, can_edit, can_delete)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, memberID, g.Module, g.View, g.Create, g.Edit, g.Delete)
		if err != nil {
			return apperr.Wrap(op, "failed to insert member grant", err)
		}
	}
	return nil
}

// StatusChange carries the optional columns written with a status change
type StatusChange struct {
	InvitedAt  *time.Time
	AcceptedAt *time.Time
	AccountID  *uuid.UUID
}

// UpdateStatus moves a member from one status to another. The write only
// applies while the row is still in from; otherwise a concurrent change is
// reported as a conflict.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) error {
	const op = "members.update_status"
	result, err := s.db.ExecContext(ctx, `
		UPDATE project_members
		SET status = $1,
			invited_at = COALESCE($2, invited_at),
			accepted_at = COALESCE($3, accepted_at),
			account_id = COALESCE($4, account_id),
			updated_at = $5
		WHERE id = $6 AND status = $7
	`, to, change.InvitedAt, change.AcceptedAt, change.AccountID, time.Now().UTC(), id, from)
	if err != nil {
		return apperr.Wrap(op, "failed to update member status", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(op, "failed to get rows affected", err)
	}
	if n > 0 {
		return nil
	}

	var current Status
	err = s.db.QueryRowContext(ctx, `SELECT status FROM project_members WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(op, "project member %s not found", id)
	}
	if err != nil {
		return apperr.Wrap(op, "failed to check member status", err)
	}
	if current != from {
		return apperr.Conflict(op, "member %s is %s, expected %s", id, current, from)
	}
	return apperr.Authority(op, "status change of member %s was rejected by the store", id)
}

// Delete removes the member and all of its custom grants in one transaction
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "members.delete"
	return postgres.WithTx(ctx, s.db, op, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM project_member_permissions WHERE project_member_id = $1`, id); err != nil {
			return apperr.Wrap(op, "failed to delete member grants", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE id = $1`, id)
		if err != nil {
			return apperr.Wrap(op, "failed to delete project member", err)
		}
		return postgres.CheckAffected(ctx, tx, op, result, "project_members", id)
	})
}

// RecordInvitation stores one invitation emission
func (s *Store) RecordInvitation(ctx context.Context, rec *InvitationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, project_member_id, project_id, account_id, email, notification_created, delivered, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.MemberID, rec.ProjectID, rec.AccountID, rec.Email, rec.NotificationCreated, rec.Delivered, rec.SentAt)
	if err != nil {
		return apperr.Wrap("members.record_invitation", "failed to record invitation", err)
	}
	return nil
}

// ListInvitations returns a member's invitation history, newest first
func (s *Store) ListInvitations(ctx context.Context, memberID uuid.UUID) ([]InvitationRecord, error) {
	const op = "members.list_invitations"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_member_id, project_id, account_id, email, notification_created, delivered, sent_at
		FROM invitations
		WHERE project_member_id = $1
		ORDER BY sent_at DESC
	`, memberID)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to list invitations", err)
	}
	defer rows.Close()

	var out []InvitationRecord
	for rows.Next() {
		var rec InvitationRecord
		var accountID uuid.NullUUID
		if err := rows.Scan(&rec.ID, &rec.MemberID, &rec.ProjectID, &accountID, &rec.Email,
			&rec.NotificationCreated, &rec.Delivered, &rec.SentAt); err != nil {
			return nil, apperr.Wrap(op, "failed to scan invitation", err)
		}
		if accountID.Valid {
			id := accountID.UUID
			rec.AccountID = &id
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByStatus counts members across all projects by status
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	const op = "members.count_by_status"
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM project_members GROUP BY status`)
	if err != nil {
		return nil, apperr.Wrap(op, "failed to count members", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Wrap(op, "failed to scan member count", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}
