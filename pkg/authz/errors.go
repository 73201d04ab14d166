package authz

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lib/pq"
)

// ValidationError indicates malformed input; the caller can fix the request
// and retry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// ConflictError indicates a uniqueness or business invariant would be
// violated (duplicate role name, duplicate assignment, deleting an in-use
// role). Never retried automatically.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Message
}

// NotFoundError indicates the referenced entity does not exist or is
// soft-deleted.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
	}
	return e.Entity + " not found"
}

// PermissionDeniedError indicates a valid identity lacks the specific grant.
// It deliberately carries no detail about which roles or permissions were
// consulted.
type PermissionDeniedError struct{}

func (e *PermissionDeniedError) Error() string {
	return "permission denied"
}

// UnauthorizedError indicates the caller has no valid identity at all.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message != "" {
		return "unauthorized: " + e.Message
	}
	return "unauthorized"
}

// HTTP status mapping for the taxonomy, consumed by httputil.WriteDomainError

func (e *ValidationError) HTTPStatus() int       { return http.StatusBadRequest }
func (e *ConflictError) HTTPStatus() int         { return http.StatusConflict }
func (e *NotFoundError) HTTPStatus() int         { return http.StatusNotFound }
func (e *PermissionDeniedError) HTTPStatus() int { return http.StatusForbidden }
func (e *UnauthorizedError) HTTPStatus() int     { return http.StatusUnauthorized }

// IsValidation checks if an error is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict checks if an error is a ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsPermissionDenied checks if an error is a PermissionDeniedError
func IsPermissionDenied(err error) bool {
	var pd *PermissionDeniedError
	return errors.As(err, &pd)
}

// IsUnauthorized checks if an error is an UnauthorizedError
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}

// postgres error codes for constraint violations
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// isUniqueViolation reports whether err is a unique-constraint violation from
// the underlying driver. The string fallback covers sqlite, which the test
// suite runs the store against.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation reports whether err is a foreign-key violation
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqForeignKeyViolation
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
