package identity

import (
	"context"
	"time"

	"github.com/trezcool/campus/core"
)

type (
	IdentityRepository interface {
		CreateIdentities(ctx context.Context, identities []UserIdentity, exec ...core.DBExecutor) (int, error)
		// FindStudent returns the single student identity matching all three fields.
		FindStudent(ctx context.Context, fields StudentFields, exec ...core.DBExecutor) (UserIdentity, error)
		GetIdentityByEmail(ctx context.Context, email string, exec ...core.DBExecutor) (UserIdentity, error)
	}

	CredentialRepository interface {
		// CreateCredential returns an *ExistsError when any identifier is already taken.
		CreateCredential(ctx context.Context, cred Credential, exec ...core.DBExecutor) (Credential, error)
		GetCredential(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Credential, error)
		// CredentialExists reports whether any of the identifiers already belongs to a Credential.
		CredentialExists(ctx context.Context, identifiers []string, exec ...core.DBExecutor) (bool, error)
		UpdateCredential(ctx context.Context, cred Credential, exec ...core.DBExecutor) (Credential, error)
	}

	CodeRepository interface {
		// SaveCode stores otc as the only live code for its Target and Purpose.
		SaveCode(ctx context.Context, otc OneTimeCode, exec ...core.DBExecutor) error
		// ConsumeCode atomically marks the live code matching codeHash as consumed.
		// It reports false when no unexpired, unconsumed code matches.
		ConsumeCode(ctx context.Context, target string, purpose Purpose, codeHash string, now time.Time, exec ...core.DBExecutor) (bool, error)
	}

	Repository interface {
		IdentityRepository
		CredentialRepository
		CodeRepository
	}

	// Lockout counts consecutive failures per key.
	Lockout interface {
		// Check returns a *LockedError while key is locked out.
		Check(ctx context.Context, key string) error
		// Fail records a failure and returns a *LockedError once the limit is reached.
		Fail(ctx context.Context, key string) error
		Reset(ctx context.Context, key string) error
	}

	// SessionIssuer establishes authenticated sessions.
	SessionIssuer interface {
		Issue(cred Credential) (Session, error)
	}

	Metrics interface {
		CodeIssued(purpose Purpose)
		CodeVerified(purpose Purpose, valid bool)
		LockedOut(scope string)
		CredentialCreated(role Role)
		PasswordReset()
		LoginAttempt(success bool)
	}
)

// LockoutKey builds the lockout key of a scope ("otp", "login") and identifier.
func LockoutKey(scope string, parts ...string) string {
	key := scope
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

type noopMetrics struct{}

func (noopMetrics) CodeIssued(Purpose)         {}
func (noopMetrics) CodeVerified(Purpose, bool) {}
func (noopMetrics) LockedOut(string)           {}
func (noopMetrics) CredentialCreated(Role)     {}
func (noopMetrics) PasswordReset()             {}
func (noopMetrics) LoginAttempt(bool)          {}
