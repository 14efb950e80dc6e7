package db

import (
	"strings"

	pkgerrors "github.com/heuristiclogix/eventrelay/pkg/errors"
)

const sqlStateUniqueViolation = "23505"

// IsUniqueViolation reports whether the provided error is a unique violation.
// Postgres errors are matched on SQLSTATE; other drivers fall back to the
// message text. When constraintName is provided, the constraint must also
// appear in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" && !strings.Contains(msg, constraintName) {
		return false
	}
	if pkgerrors.SQLState(err) == sqlStateUniqueViolation {
		return true
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}
