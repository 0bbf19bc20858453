package database

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE Postgres raises for unique constraint violations.
const uniqueViolation = "23505"

// ErrUniqueViolation marks writes rejected by a uniqueness constraint.
var ErrUniqueViolation = errors.New("unique constraint violation")

// IsUniqueViolation reports whether err is a Postgres unique violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUniqueViolation) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

// Constraint returns the violated constraint name, if the driver reported one.
func Constraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
