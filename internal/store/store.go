// Package store provides the data access layer for the model service.
// It handles all direct interactions with the PostgreSQL database using
// the pgx driver.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound reports that the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists reports a unique-constraint conflict.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Postgres error codes translated into sentinel errors by the repositories.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
