// Package lockout tracks failed sign-in attempts per email and locks the
// address for a cooldown once a threshold is reached.
package lockout

import (
	"context"
	"strings"
	"time"
)

// Store is consulted before a password is checked.
type Store interface {
	IsLocked(ctx context.Context, email string) (bool, time.Duration, error)
	RecordFailure(ctx context.Context, email string) error
	RecordSuccess(ctx context.Context, email string) error
}

// Disabled never locks.
type Disabled struct{}

func (Disabled) IsLocked(context.Context, string) (bool, time.Duration, error) { return false, 0, nil }
func (Disabled) RecordFailure(context.Context, string) error                  { return nil }
func (Disabled) RecordSuccess(context.Context, string) error                  { return nil }

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
