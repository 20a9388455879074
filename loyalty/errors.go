package loyalty

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned when an earn or redemption requests a
	// non-positive number of points.
	ErrInvalidAmount = errors.New("loyalty: points must be positive")
	// ErrAccountNotFound is returned for queries and redemptions against a
	// customer with no loyalty account. Redemption never provisions one.
	ErrAccountNotFound = errors.New("loyalty: account not found")
	// ErrAccountProvisioningFailed indicates the bounded provision-then-retry
	// in AddPoints failed twice, which points at storage trouble rather than
	// a business condition.
	ErrAccountProvisioningFailed = errors.New("loyalty: account provisioning failed")
)

// InsufficientPointsError is returned when a redemption exceeds the current
// balance. It carries both amounts so callers can render a useful message.
type InsufficientPointsError struct {
	Available int64
	Required  int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("loyalty: insufficient points: available %d, required %d", e.Available, e.Required)
}
