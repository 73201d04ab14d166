package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// A broken cursor over the applied-versions table must fail the run rather
// than silently re-applying migrations against a live schema.
func TestRunMigrations_AppliedVersionsCursorError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS authz_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM authz_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).
			AddRow(1).
			AddRow(2).
			RowError(1, errors.New("driver: bad connection")))

	if err := RunMigrations(context.Background(), db); err == nil {
		t.Error("expected RunMigrations to surface the row iteration error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
