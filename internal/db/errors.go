package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// sqlState extracts the SQLSTATE from either driver's error type.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return sqlState(err) == uniqueViolation
}

// isRetryableError reports whether a connection attempt is worth repeating.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if state := sqlState(err); state != "" {
		switch state[:2] {
		case "08", "53", "57", "58":
			return true
		case "28", "3D", "42":
			// Authentication, missing database or schema errors will not fix themselves.
			return false
		case "22", "23":
			return false
		default:
			return true
		}
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"i/o timeout",
		"too many connections",
		"the database system is starting up",
		"server closed the connection",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
