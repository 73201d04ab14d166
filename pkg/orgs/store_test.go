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

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStore(db), mock, db
}

func TestCreateOrganization(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	t.Run("creates org and seats the creator", func(t *testing.T) {
		creator := int64(5)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WithArgs("acme", "", creator, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec(`INSERT INTO organization_members`).
			WithArgs(int64(1), creator, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		org := &Organization{Name: "acme", CreatedBy: &creator}
		err := store.CreateOrganization(context.Background(), org)
		require.NoError(t, err)
		assert.Equal(t, int64(1), org.ID)
		assert.False(t, org.CreatedAt.IsZero())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no creator row when anonymous", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WithArgs("globex", "", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectCommit()

		err := store.CreateOrganization(context.Background(), &Organization{Name: "globex"})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects blank name", func(t *testing.T) {
		err := store.CreateOrganization(context.Background(), &Organization{Name: "  "})
		assert.True(t, authz.IsValidation(err))
	})
}

func TestGetOrganization(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	t.Run("found", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`SELECT id, name, description, created_by, created_at, updated_at\s+FROM organizations`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "created_by", "created_at", "updated_at"}).
				AddRow(1, "acme", "widgets", 5, now, now))

		org, err := store.GetOrganization(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "acme", org.Name)
		require.NotNil(t, org.CreatedBy)
		assert.Equal(t, int64(5), *org.CreatedBy)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`FROM organizations`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetOrganization(context.Background(), 99)
		assert.True(t, authz.IsNotFound(err))
	})
}

func TestUpdateOrganization(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE organizations`).
			WithArgs("acme-renamed", "new blurb", sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpdateOrganization(context.Background(), &Organization{ID: 1, Name: "acme-renamed", Description: "new blurb"})
		require.NoError(t, err)
	})

	t.Run("missing org", func(t *testing.T) {
		mock.ExpectExec(`UPDATE organizations`).
			WithArgs("ghost", "", sqlmock.AnyArg(), int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateOrganization(context.Background(), &Organization{ID: 99, Name: "ghost"})
		assert.True(t, authz.IsNotFound(err))
	})
}

func TestDeleteOrganization(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	t.Run("soft-deletes org and workspaces together", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE organizations SET deleted_at`).
			WithArgs(sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE workspaces SET deleted_at`).
			WithArgs(sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		require.NoError(t, store.DeleteOrganization(context.Background(), 1))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing org rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE organizations SET deleted_at`).
			WithArgs(sqlmock.AnyArg(), int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.DeleteOrganization(context.Background(), 99)
		assert.True(t, authz.IsNotFound(err))
	})
}

func TestCreateWorkspace(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	now := time.Now()
	orgRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "name", "description", "created_by", "created_at", "updated_at"}).
			AddRow(1, "acme", "", nil, now, now)
	}

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(`FROM organizations`).WithArgs(int64(1)).WillReturnRows(orgRows())
		mock.ExpectQuery(`INSERT INTO workspaces`).
			WithArgs(int64(1), "production", "", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))

		ws := &Workspace{OrganizationID: 1, Name: "production"}
		require.NoError(t, store.CreateWorkspace(context.Background(), ws))
		assert.Equal(t, int64(10), ws.ID)
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		mock.ExpectQuery(`FROM organizations`).WithArgs(int64(1)).WillReturnRows(orgRows())
		mock.ExpectQuery(`INSERT INTO workspaces`).
			WillReturnError(&pq.Error{Code: "23505"})

		err := store.CreateWorkspace(context.Background(), &Workspace{OrganizationID: 1, Name: "production"})
		assert.True(t, authz.IsConflict(err))
	})

	t.Run("missing org", func(t *testing.T) {
		mock.ExpectQuery(`FROM organizations`).WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

		err := store.CreateWorkspace(context.Background(), &Workspace{OrganizationID: 99, Name: "production"})
		assert.True(t, authz.IsNotFound(err))
	})
}

func TestDeleteWorkspace(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE workspaces SET deleted_at`).
		WithArgs(sqlmock.AnyArg(), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.DeleteWorkspace(context.Background(), 10))

	mock.ExpectExec(`UPDATE workspaces SET deleted_at`).
		WithArgs(sqlmock.AnyArg(), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.True(t, authz.IsNotFound(store.DeleteWorkspace(context.Background(), 10)))
}

func TestCreateObjectType(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO object_types`).
			WithArgs(int64(10), "invoice", "", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		ot := &ObjectType{WorkspaceID: 10, Name: "invoice"}
		require.NoError(t, store.CreateObjectType(context.Background(), ot))
		assert.Equal(t, int64(7), ot.ID)
	})

	t.Run("duplicate conflicts", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO object_types`).
			WillReturnError(&pq.Error{Code: "23505"})

		err := store.CreateObjectType(context.Background(), &ObjectType{WorkspaceID: 10, Name: "invoice"})
		assert.True(t, authz.IsConflict(err))
	})

	t.Run("unknown workspace", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO object_types`).
			WillReturnError(&pq.Error{Code: "23503"})

		err := store.CreateObjectType(context.Background(), &ObjectType{WorkspaceID: 99, Name: "invoice"})
		assert.True(t, authz.IsNotFound(err))
	})
}

func TestCreateUser(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs("alice@example.com", "Alice", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		user := &User{Email: "alice@example.com", Name: "Alice"}
		require.NoError(t, store.CreateUser(context.Background(), user))
		assert.Equal(t, int64(1), user.ID)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnError(&pq.Error{Code: "23505"})

		err := store.CreateUser(context.Background(), &User{Email: "alice@example.com"})
		assert.True(t, authz.IsConflict(err))
	})

	t.Run("rejects empty email", func(t *testing.T) {
		err := store.CreateUser(context.Background(), &User{})
		assert.True(t, authz.IsValidation(err))
	})
}
