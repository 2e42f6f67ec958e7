package library

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Error kinds. Every error returned by the library wraps exactly one of these.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrConflict      = errors.New("conflict")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidInput  = errors.New("invalid input")
)

// conflictError is a specific precondition failure that still matches ErrConflict.
type conflictError struct{ msg string }

func (e *conflictError) Error() string { return e.msg }
func (e *conflictError) Unwrap() error { return ErrConflict }

var (
	ErrUnavailable     error = &conflictError{"book is not available for issue"}
	ErrAlreadyIssued   error = &conflictError{"user already has this book issued"}
	ErrAlreadyReturned error = &conflictError{"book has already been returned"}
	ErrAlreadyPaid     error = &conflictError{"fine is already paid"}
	ErrFineExists      error = &conflictError{"a fine already exists for this loan"}
	ErrActiveLoans     error = &conflictError{"record has active loans"}
	ErrProtectedUser   error = &conflictError{"administrators and the acting user cannot be deactivated"}
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "NotFound"},
	{ErrDuplicateKey, "DuplicateKey"},
	{ErrConflict, "Conflict"},
	{ErrForbidden, "Forbidden"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidInput, "InvalidInput"},
}

// KindOf names the kind of err, or "Internal" when it carries none.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
}

func forbidden(action string) error {
	return fmt.Errorf("%s: %w", action, ErrForbidden)
}

// mapConstraint turns SQLite constraint violations into kinded errors.
// The explicit checks inside each transaction catch these first; the mapping
// covers writes that race past them.
func mapConstraint(err error, onUnique error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", onUnique, err)
	case sqlite3.ErrConstraintCheck:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
