package authpw

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateEmail     = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotFound           = errors.New("user not found")
	ErrNoAPIKey           = errors.New("no api key stored")
)

// ValidationError names the offending request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// LockedError is returned by SignIn while the email is locked out.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed sign-in attempts, retry in %s", e.RetryAfter.Round(time.Second))
}
