package orgs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/backoffice/pkg/authz"
)

func expectGetOrganization(mock sqlmock.Sqlmock, orgID int64) {
	mock.ExpectQuery(`FROM organizations`).
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_by", "created_at", "updated_at"}).
			AddRow(orgID, "acme", "", nil, time.Now(), time.Now()))
}

func TestAddMember(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	t.Run("success", func(t *testing.T) {
		inviter := int64(1)
		expectGetOrganization(mock, 1)
		mock.ExpectQuery(`INSERT INTO organization_members`).
			WithArgs(int64(1), int64(2), inviter, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(30))

		member, err := store.AddMember(context.Background(), 1, 2, &inviter)
		require.NoError(t, err)
		assert.Equal(t, int64(30), member.ID)
		assert.Equal(t, int64(2), member.UserID)
	})

	t.Run("already on the roster", func(t *testing.T) {
		// ON CONFLICT DO NOTHING yields zero rows from RETURNING.
		expectGetOrganization(mock, 1)
		mock.ExpectQuery(`INSERT INTO organization_members`).
			WithArgs(int64(1), int64(2), nil, sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		_, err := store.AddMember(context.Background(), 1, 2, nil)
		assert.True(t, authz.IsConflict(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		expectGetOrganization(mock, 1)
		mock.ExpectQuery(`INSERT INTO organization_members`).
			WillReturnError(&pq.Error{Code: "23503"})

		_, err := store.AddMember(context.Background(), 1, 99, nil)
		assert.True(t, authz.IsNotFound(err))
	})

	t.Run("unknown org", func(t *testing.T) {
		mock.ExpectQuery(`FROM organizations`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		_, err := store.AddMember(context.Background(), 99, 2, nil)
		assert.True(t, authz.IsNotFound(err))
	})
}

func TestRemoveMember(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	t.Run("revokes assignments in the same transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM organization_members`).
			WithArgs(int64(1), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM role_assignments`).
			WithArgs(int64(1), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		require.NoError(t, store.RemoveMember(context.Background(), 1, 2))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not on the roster", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM organization_members`).
			WithArgs(int64(1), int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.RemoveMember(context.Background(), 1, 99)
		assert.True(t, authz.IsNotFound(err))
	})
}

func TestListMembers(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM organization_members`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "user_id", "invited_by", "joined_at"}).
			AddRow(1, 1, 5, nil, now).
			AddRow(2, 1, 6, 5, now))

	members, err := store.ListMembers(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Nil(t, members[0].InvitedBy)
	require.NotNil(t, members[1].InvitedBy)
	assert.Equal(t, int64(5), *members[1].InvitedBy)
}

func TestIsMember(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM organization_members`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := store.IsMember(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM organization_members`).
		WithArgs(int64(1), int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ok, err = store.IsMember(context.Background(), 1, 99)
	require.NoError(t, err)
	assert.False(t, ok)
}
