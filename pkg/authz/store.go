package authz

import (
	"database/sql"
	"errors"
	"time"
)

// Store handles authorization data persistence. All invariants that guard
// against concurrent administrative actions (duplicate assignments, duplicate
// grants, duplicate role names) are enforced by database uniqueness
// constraints and translated to ConflictError here; application-side
// existence checks are never the source of truth.
type Store struct {
	db *sql.DB
}

// NewStore creates a new authorization store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks and migrations
func (s *Store) DB() *sql.DB {
	return s.db
}

// nullableID scans a nullable id column
type nullableID struct {
	sql.NullInt64
}

func (n nullableID) ptr() *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// nullTime converts a nullable timestamp column to a *time.Time
func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
