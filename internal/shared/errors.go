package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrMissingIdentity indicates the request carried no tenant/actor identity.
	ErrMissingIdentity = errors.New("identity missing from request")
)

// BalanceExceededError reports a recovery or payment larger than what
// remains on the obligation. It carries both amounts so callers can
// surface them to the farmer.
type BalanceExceededError struct {
	Attempted float64
	Remaining float64
}

// Error implements the error interface.
func (e *BalanceExceededError) Error() string {
	return fmt.Sprintf("amount %.2f exceeds remaining balance %.2f", e.Attempted, e.Remaining)
}

// IsBalanceExceeded reports whether err is a BalanceExceededError.
func IsBalanceExceeded(err error) bool {
	var target *BalanceExceededError
	return errors.As(err, &target)
}
