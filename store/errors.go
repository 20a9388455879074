package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound indicates no loyalty account matched the lookup.
	ErrAccountNotFound = errors.New("store: loyalty account not found")
	// ErrDuplicateAccount indicates the unique constraint on customer id was
	// violated. During concurrent provisioning this is an expected outcome:
	// callers resolve it by re-reading the winner's row.
	ErrDuplicateAccount = errors.New("store: loyalty account already exists for customer")
)

// isDuplicateKey reports whether err is a unique constraint violation. The
// gorm translation catches most cases; the string checks cover drivers that
// surface the raw constraint error (postgres 23505, sqlite UNIQUE).
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
