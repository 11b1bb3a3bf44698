package db

import (
	"errors"

	"github.com/ncruces/go-sqlite3"
)

var (
	// ErrNotFound is returned when a lookup or update matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert collides with an existing key.
	ErrDuplicate = errors.New("duplicate key")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate reports whether err is or wraps ErrDuplicate.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// classify maps SQLite constraint violations onto ErrDuplicate.
func classify(err error) error {
	if err != nil && errors.Is(err, sqlite3.CONSTRAINT) {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}
