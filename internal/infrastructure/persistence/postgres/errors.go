package postgres

import (
	"errors"
	"strings"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoRows is pgx's sentinel, re-exported for callers outside the package.
var ErrNoRows = pgx.ErrNoRows

// SQLSTATE codes the repositories branch on.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeNotNullViolation     = "23502"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	classConnectionException = "08"
)

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool     { return sqlState(err) == codeUniqueViolation }
func IsForeignKeyViolation(err error) bool { return sqlState(err) == codeForeignKeyViolation }
func IsNotNullViolation(err error) bool    { return sqlState(err) == codeNotNullViolation }
func IsNoRows(err error) bool              { return errors.Is(err, pgx.ErrNoRows) }

// IsTransient reports whether running the statement again may succeed:
// serialization failures, deadlocks and lost connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch code := sqlState(err); {
	case code == codeSerializationFailure, code == codeDeadlockDetected:
		return true
	case code != "":
		return strings.HasPrefix(code, classConnectionException)
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

// storageErr maps a driver error onto the domain taxonomy.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return shared.Storage("postgres", op, err)
}
