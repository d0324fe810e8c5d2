package services

import (
	"errors"
	"fmt"
)

// Business-rule failures. All of them leave persistent state untouched.
var (
	ErrInvalidIdentifier      = errors.New("invalid user id: must be a 3-digit number in the configured range")
	ErrAccountNotFound        = errors.New("account not found")
	ErrDuplicateAccount       = errors.New("data integrity: multiple accounts share one public id")
	ErrSessionAlreadyActive   = errors.New("user already has an active parking session")
	ErrNoActiveSession        = errors.New("no active parking session")
	ErrMultipleActiveSessions = errors.New("multiple active parking sessions: contact the facility admin")
)

// InsufficientFundsError reports a rejected exit settlement. The session stays
// active so the user can top up and retry.
type InsufficientFundsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d", e.Required, e.Available)
}
