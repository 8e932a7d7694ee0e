// Package account persists credential records. Accounts are deactivated,
// never deleted; schema management is owned by the wider platform.
package account

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateEmail is returned when registration collides with an
	// existing identity key.
	ErrDuplicateEmail = errors.New("account email already registered")
)

// Account is the credential record. PasswordHash is a PHC-encoded argon2id
// string carrying its own parameters.
type Account struct {
	ID                string
	Email             string
	PasswordHash      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PasswordChangedAt time.Time
	DeactivatedAt     *time.Time
}

// Active reports whether the account may authenticate.
func (a *Account) Active() bool {
	return a.DeactivatedAt == nil
}
