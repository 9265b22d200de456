// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound            = errors.New("not found")
	ErrPersistenceConflict = errors.New("persistence conflict")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrConfigInvalid = errors.New("invalid detection configuration")

	// Classification errors.
	ErrOracleUnavailable = errors.New("classification oracle unavailable")

	// Detection errors.
	ErrSeriesInsufficientData = errors.New("series has insufficient data")
	ErrInvalidTransition      = errors.New("invalid subscription status transition")
	ErrNoFinding              = errors.New("condition no longer present")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}
