package identity

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrIdentityNotFound     = errors.New("no matching identity found")
	ErrCredentialExists     = errors.New("an account already exists for this identity")
	ErrCredentialNotFound   = errors.New("no account found for this identity")
	ErrAuthenticationFailed = errors.New("invalid credentials")
	ErrAccountDeactivated   = errors.New("account deactivated")
	ErrTooManyAttempts      = errors.New("too many failed attempts, try again later")
	ErrInvalidLecturerEmail = errors.New("email must look like surname.othernames@lecturer.com")
)

// ExistsError reports a signup for an identifier that already has a Credential.
// It unwraps to ErrCredentialExists.
type ExistsError struct {
	Identifier string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCredentialExists, e.Identifier)
}

func (e *ExistsError) Unwrap() error { return ErrCredentialExists }

// LockedError reports a locked out target or identifier.
// It unwraps to ErrTooManyAttempts.
type LockedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return ErrTooManyAttempts.Error()
}

func (e *LockedError) Unwrap() error { return ErrTooManyAttempts }
