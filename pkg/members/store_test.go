package members

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var memberColumnNames = []string{
	"id", "project_id", "accessor_id", "account_id", "type", "role_id", "status",
	"invited_at", "accepted_at", "team_id", "created_at", "updated_at",
}

var grantColumnNames = []string{"module_key", "can_view", "can_create", "can_edit", "can_delete"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStore(db), mock, db
}

func memberRow(id, project, accessor uuid.UUID, role any, status Status) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(memberColumnNames).
		AddRow(id.String(), project.String(), accessor.String(), nil, "subcontractor", role, string(status),
			nil, nil, nil, now, now)
}

func TestStore_Get(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()
	id, project, accessor := uuid.New(), uuid.New(), uuid.New()

	t.Run("role authority", func(t *testing.T) {
		role := uuid.New()
		mock.ExpectQuery(`SELECT .* FROM project_members pm WHERE pm.id = \$1`).
			WithArgs(id).
			WillReturnRows(memberRow(id, project, accessor, role.String(), StatusActive))

		m, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, m.Status)
		got, ok := m.Authority.RoleID()
		assert.True(t, ok)
		assert.Equal(t, role, got)
		assert.Nil(t, m.AccountID)
	})

	t.Run("custom authority", func(t *testing.T) {
		mock.ExpectQuery(`FROM project_members pm WHERE pm.id = \$1`).
			WithArgs(id).
			WillReturnRows(memberRow(id, project, accessor, nil, StatusInvited))
		mock.ExpectQuery(`FROM project_member_permissions WHERE project_member_id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(grantColumnNames).
				AddRow("rfis", true, true, false, false))

		m, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, AuthorityCustom, m.Authority.Kind())
		require.Len(t, m.Authority.Grants(), 1)
		assert.Equal(t, rbac.ModuleRFIs, m.Authority.Grants()[0].Module)
	})

	t.Run("no authority", func(t *testing.T) {
		mock.ExpectQuery(`FROM project_members pm WHERE pm.id = \$1`).
			WithArgs(id).
			WillReturnRows(memberRow(id, project, accessor, nil, StatusOpen))
		mock.ExpectQuery(`FROM project_member_permissions`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(grantColumnNames))

		m, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, AuthorityNone, m.Authority.Kind())
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectQuery(`FROM project_members pm WHERE pm.id`).WillReturnError(sql.ErrNoRows)
		_, err := store.Get(ctx, uuid.New())
		assert.True(t, apperr.IsNotFound(err))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindForViewer(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	project, account := uuid.New(), uuid.New()
	id, accessor, role := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(`JOIN accessors a ON a.id = pm.accessor_id\s+WHERE pm.project_id = \$1 AND \(pm.account_id = \$2 OR a.registered_account_id = \$3\)\s+ORDER BY CASE WHEN pm.status = 'active'`).
		WithArgs(project, account, account).
		WillReturnRows(memberRow(id, project, accessor, role.String(), StatusActive))

	m, err := store.FindForViewer(context.Background(), project, account)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_List(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	project := uuid.New()
	withRole, custom := uuid.New(), uuid.New()
	role := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`FROM project_members pm\s+WHERE pm.project_id = \$1\s+ORDER BY pm.created_at`).
		WithArgs(project).
		WillReturnRows(sqlmock.NewRows(memberColumnNames).
			AddRow(withRole.String(), project.String(), uuid.New().String(), nil, "employee", role.String(), "active",
				nil, nil, nil, now, now).
			AddRow(custom.String(), project.String(), uuid.New().String(), nil, "other", nil, "open",
				nil, nil, nil, now, now))
	mock.ExpectQuery(`FROM project_member_permissions pmp\s+JOIN project_members pm`).
		WithArgs(project).
		WillReturnRows(sqlmock.NewRows([]string{"project_member_id", "module_key", "can_view", "can_create", "can_edit", "can_delete"}).
			AddRow(custom.String(), "tasks", true, false, false, false))

	out, err := store.List(context.Background(), project)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, AuthorityRole, out[0].Authority.Kind())
	assert.Equal(t, AuthorityCustom, out[1].Authority.Kind())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Insert(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	m := &Member{
		ProjectID:  uuid.New(),
		AccessorID: uuid.New(),
		Type:       "employee",
		Authority: CustomAuthority([]rbac.ModuleGrant{
			{Module: rbac.ModuleTasks, Grant: rbac.Grant{View: true, Edit: true}},
			{Module: rbac.ModulePhotos, Grant: rbac.Grant{View: true}},
		}),
		Status: StatusOpen,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO project_members`).
		WithArgs(sqlmock.AnyArg(), m.ProjectID, m.AccessorID, nil, "employee", nil, "open",
			nil, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO project_member_permissions`).
		WithArgs(sqlmock.AnyArg(), "tasks", true, false, true, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO project_member_permissions`).
		WithArgs(sqlmock.AnyArg(), "photos", true, false, false, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Insert(context.Background(), m))
	assert.NotEqual(t, uuid.Nil, m.ID)
	assert.False(t, m.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ReplaceAuthority(t *testing.T) {
	ctx := context.Background()

	t.Run("role clears custom rows", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()
		id, role := uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE project_members SET role_id = \$1, updated_at = \$2 WHERE id = \$3`).
			WithArgs(role, sqlmock.AnyArg(), id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM project_member_permissions WHERE project_member_id = \$1`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		require.NoError(t, store.ReplaceAuthority(ctx, id, RoleAuthority(role)))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("custom clears role", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE project_members SET role_id`).
			WithArgs(nil, sqlmock.AnyArg(), id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM project_member_permissions`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO project_member_permissions`).
			WithArgs(id, "budget", true, false, false, false).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		authority := CustomAuthority([]rbac.ModuleGrant{{Module: rbac.ModuleBudget, Grant: rbac.Grant{View: true}}})
		require.NoError(t, store.ReplaceAuthority(ctx, id, authority))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing member rolls back", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE project_members SET role_id`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		err := store.ReplaceAuthority(ctx, id, NoAuthority())
		assert.True(t, apperr.IsNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("applies", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()
		id := uuid.New()
		now := time.Now()

		mock.ExpectExec(`UPDATE project_members\s+SET status = \$1`).
			WithArgs("invited", now, nil, nil, sqlmock.AnyArg(), id, "open").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.UpdateStatus(ctx, id, StatusOpen, StatusInvited, StatusChange{InvitedAt: &now}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent change is a conflict", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()
		id := uuid.New()

		mock.ExpectExec(`UPDATE project_members`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM project_members WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))

		err := store.UpdateStatus(ctx, id, StatusInvited, StatusActive, StatusChange{})
		assert.True(t, apperr.IsConflict(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectExec(`UPDATE project_members`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM project_members`).WillReturnError(sql.ErrNoRows)

		err := store.UpdateStatus(ctx, uuid.New(), StatusActive, StatusInactive, StatusChange{})
		assert.True(t, apperr.IsNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes grants and member together", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM project_member_permissions WHERE project_member_id = \$1`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`DELETE FROM project_members WHERE id = \$1`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Delete(ctx, id))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure leaves grants in place", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM project_member_permissions`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`DELETE FROM project_members WHERE id`).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := store.Delete(ctx, id)
		require.Error(t, err)
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Invitations(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()
	member, project := uuid.New(), uuid.New()

	mock.ExpectExec(`INSERT INTO invitations`).
		WithArgs(sqlmock.AnyArg(), member, project, nil, "sam@example.com", false, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.RecordInvitation(ctx, &InvitationRecord{
		MemberID: member, ProjectID: project, Email: "sam@example.com", Delivered: true,
	}))

	account := uuid.New()
	mock.ExpectQuery(`FROM invitations\s+WHERE project_member_id = \$1\s+ORDER BY sent_at DESC`).
		WithArgs(member).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_member_id", "project_id", "account_id", "email",
			"notification_created", "delivered", "sent_at"}).
			AddRow(uuid.New().String(), member.String(), project.String(), account.String(), "sam@example.com", true, true, time.Now()).
			AddRow(uuid.New().String(), member.String(), project.String(), nil, "sam@example.com", false, false, time.Now()))

	out, err := store.ListInvitations(ctx, member)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].AccountID)
	assert.Equal(t, account, *out[0].AccountID)
	assert.Nil(t, out[1].AccountID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountByStatus(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM project_members GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("active", 7).
			AddRow("invited", 2))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, counts[StatusActive])
	assert.Equal(t, 2, counts[StatusInvited])
	assert.Zero(t, counts[StatusOpen])
	require.NoError(t, mock.ExpectationsWereMet())
}
