package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the repositories react to.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

func pgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

// IsUniqueViolation reports a unique violation, optionally on a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	pgErr := pgError(err)
	if pgErr == nil || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsForeignKeyViolation reports a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	pgErr := pgError(err)
	return pgErr != nil && pgErr.Code == CodeForeignKeyViolation
}

// IsRetryable reports serialization failures and deadlocks, which callers
// surface as concurrent modification.
func IsRetryable(err error) bool {
	pgErr := pgError(err)
	return pgErr != nil && (pgErr.Code == CodeSerializationFailure || pgErr.Code == CodeDeadlockDetected)
}
