package db

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

var sqliteUniqueColumns = regexp.MustCompile(`UNIQUE constraint failed: ([\w.,\s]+)`)

// IsDuplicateKeyErr reports whether err is a unique constraint violation from
// postgres, sqlite or a gorm-translated driver error.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// ViolatedConstraint names the constraint (postgres) or columns (sqlite) behind
// a duplicate key error. It returns "" when the driver did not say.
func ViolatedConstraint(err error) string {
	if !IsDuplicateKeyErr(err) {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, `unique constraint "`); ok {
		if name, _, ok := strings.Cut(rest, `"`); ok {
			return name
		}
	}
	if m := sqliteUniqueColumns.FindStringSubmatch(msg); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
