package access

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrAlreadyLinked is returned when the user already has a link to the device.
	ErrAlreadyLinked = errors.New("access: device already linked to user")

	// ErrAccessDenied is returned when the caller is not an owner of the device.
	ErrAccessDenied = errors.New("access: not an owner of this device")

	// ErrTargetNotFound is returned when no user has the share target's email.
	ErrTargetNotFound = errors.New("access: target user not found")

	// ErrNotFound is returned when a device, link or user does not exist.
	ErrNotFound = errors.New("access: not found")

	// ErrStore wraps failures of the underlying database.
	ErrStore = errors.New("access: store failure")
)

var domainErrors = []error{ErrAlreadyLinked, ErrAccessDenied, ErrTargetNotFound, ErrNotFound, ErrStore}

// storeErr passes domain errors through and wraps anything else in ErrStore.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

// isUniqueConstraintError reports whether err is a SQLite UNIQUE or
// PRIMARY KEY violation, however deeply it is wrapped.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
