package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound  = errors.New("store: record not found")
	ErrDuplicate = errors.New("store: duplicate entry")
)

const uniqueViolation = "23505"

// mapError turns driver errors into the store sentinels, everything else
// passes through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &duplicateError{constraint: pgErr.ConstraintName, err: err}
	}
	return err
}

type duplicateError struct {
	constraint string
	err        error
}

func (e *duplicateError) Error() string {
	return "duplicate entry violates " + e.constraint
}

func (e *duplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

func (e *duplicateError) Unwrap() error {
	return e.err
}

// Constraint names the unique constraint a duplicate error violated.
func Constraint(err error) string {
	var d *duplicateError
	if errors.As(err, &d) {
		return d.constraint
	}
	return ""
}
