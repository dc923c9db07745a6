package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mnemo.evalgo.org/memory"
)

// uniqueViolation is the postgres SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// isNoRows reports whether err is pgx's empty result sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// scopePtr converts a nullable scope column into the domain pointer type.
func scopePtr(s *string) *memory.Scope {
	if s == nil {
		return nil
	}
	sc := memory.Scope(*s)
	return &sc
}

// scopeStr converts the domain pointer back into a nullable column value.
func scopeStr(s *memory.Scope) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
