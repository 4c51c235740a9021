package otpflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
)

var NowFunc = time.Now // mockable

// Backend validates identities, issues and verifies codes and finalises credentials.
// A wrong code is reported by VerifyCode as false, never as an error.
type Backend interface {
	ValidateStudent(ctx context.Context, fields identity.StudentFields) (identity.UserIdentity, error)
	ValidateLecturer(ctx context.Context, fields identity.LecturerFields) (identity.UserIdentity, error)
	LookupForReset(ctx context.Context, identifier string) (identity.UserIdentity, error)
	GenerateCode(ctx context.Context, ui identity.UserIdentity, purpose identity.Purpose) (identity.IssuedCode, error)
	VerifyCode(ctx context.Context, target string, purpose identity.Purpose, candidate string) (bool, error)
	CreateCredential(ctx context.Context, nc identity.NewCredential) (identity.Session, error)
	ResetPassword(ctx context.Context, target, password string) (identity.Session, error)
}

// Flow is one signup or password reset attempt.
// Transitions only mutate the Flow when they succeed.
type Flow struct {
	ID      string           `json:"id"`
	Purpose identity.Purpose `json:"purpose"`
	Role    identity.Role    `json:"role,omitempty"`
	State   State            `json:"state"`

	// Identity is the validated identity; lecturer Details complete it.
	Identity identity.UserIdentity     `json:"identity"`
	Details  *identity.LecturerDetails `json:"details,omitempty"`

	CodeLength    int        `json:"code_length,omitempty"`
	CodeExpiresAt *time.Time `json:"code_expires_at,omitempty"`
	Resends       int        `json:"resends"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewFlow(purpose identity.Purpose) *Flow {
	now := NowFunc().UTC()
	return &Flow{
		ID:        uuid.NewString(),
		Purpose:   purpose,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Subject is the identity the credential will be created or reset for.
func (f *Flow) Subject() identity.UserIdentity {
	ui := f.Identity
	if f.Details != nil {
		ui.FullName = f.Details.FullName()
		ui.Department = f.Details.Department
	}
	return ui
}

// Target is the identifier the flow's codes are bound to.
func (f *Flow) Target() string {
	return f.Identity.Target()
}

func (f *Flow) expect(ev Event, purpose identity.Purpose, states ...State) error {
	if purpose != "" && f.Purpose != purpose {
		return &TransitionError{State: f.State, Event: ev}
	}
	for _, s := range states {
		if f.State == s {
			return nil
		}
	}
	return &TransitionError{State: f.State, Event: ev}
}

func (f *Flow) moveTo(s State) {
	f.State = s
	f.UpdatedAt = NowFunc().UTC()
}

func (f *Flow) codeIssued(code identity.IssuedCode) {
	expiresAt := code.ExpiresAt
	f.CodeLength = code.Length
	f.CodeExpiresAt = &expiresAt
	f.moveTo(StateCodeIssued)
}

// SubmitStudent validates student identity fields and issues a signup code.
func (f *Flow) SubmitStudent(ctx context.Context, b Backend, fields identity.StudentFields) (identity.IssuedCode, error) {
	if err := f.expect(EventSubmitStudent, identity.PurposeSignup, StateIdle); err != nil {
		return identity.IssuedCode{}, err
	}
	fields.Clean()
	if err := requireFields(
		"registration_number", fields.RegistrationNumber,
		"student_number", fields.StudentNumber,
		"email", fields.Email,
	); err != nil {
		return identity.IssuedCode{}, err
	}

	ui, err := b.ValidateStudent(ctx, fields)
	if err != nil {
		return identity.IssuedCode{}, err
	}
	ui.Role = identity.RoleStudent

	code, err := b.GenerateCode(ctx, ui, f.Purpose)
	if err != nil {
		return identity.IssuedCode{}, errors.Wrap(err, "generating code")
	}

	f.Role = identity.RoleStudent
	f.Identity = ui
	f.codeIssued(code)
	return code, nil
}

// SubmitLecturer validates a lecturer email. The code is issued once details are submitted.
func (f *Flow) SubmitLecturer(ctx context.Context, b Backend, fields identity.LecturerFields) error {
	if err := f.expect(EventSubmitLecturer, identity.PurposeSignup, StateIdle); err != nil {
		return err
	}
	fields.Clean()
	if err := requireFields("email", fields.Email); err != nil {
		return err
	}
	if !identity.IsLecturerEmail(fields.Email) {
		return core.NewFieldValidationError("email", identity.ErrInvalidLecturerEmail)
	}

	ui, err := b.ValidateLecturer(ctx, fields)
	if err != nil {
		return err
	}
	ui.Role = identity.RoleLecturer

	f.Role = identity.RoleLecturer
	f.Identity = ui
	f.Details = nil
	f.moveTo(StateAwaitingDetails)
	return nil
}

// SubmitDetails collects the lecturer's names and department and issues a signup code.
func (f *Flow) SubmitDetails(ctx context.Context, b Backend, details identity.LecturerDetails) (identity.IssuedCode, error) {
	if err := f.expect(EventSubmitDetails, identity.PurposeSignup, StateAwaitingDetails); err != nil {
		return identity.IssuedCode{}, err
	}
	details.Clean()
	if err := requireFields(
		"first_name", details.FirstName,
		"last_name", details.LastName,
		"department", details.Department,
	); err != nil {
		return identity.IssuedCode{}, err
	}

	prev := f.Details
	f.Details = &details
	code, err := b.GenerateCode(ctx, f.Subject(), f.Purpose)
	if err != nil {
		f.Details = prev
		return identity.IssuedCode{}, errors.Wrap(err, "generating code")
	}

	f.codeIssued(code)
	return code, nil
}

// SubmitResetIdentifier looks up the credential signing in with identifier and issues a reset code.
func (f *Flow) SubmitResetIdentifier(ctx context.Context, b Backend, identifier string) (identity.IssuedCode, error) {
	if err := f.expect(EventSubmitReset, identity.PurposeReset, StateIdle); err != nil {
		return identity.IssuedCode{}, err
	}
	identifier = core.CleanString(identifier)
	if err := requireFields("identifier", identifier); err != nil {
		return identity.IssuedCode{}, err
	}

	ui, err := b.LookupForReset(ctx, identifier)
	if err != nil {
		return identity.IssuedCode{}, err
	}

	code, err := b.GenerateCode(ctx, ui, f.Purpose)
	if err != nil {
		return identity.IssuedCode{}, errors.Wrap(err, "generating code")
	}

	f.Role = ui.Role
	f.Identity = ui
	f.codeIssued(code)
	return code, nil
}

// SubmitCode verifies candidate against the flow's live code.
// On mismatch the flow stays at code_issued and ErrCodeMismatch is returned.
func (f *Flow) SubmitCode(ctx context.Context, b Backend, candidate string) error {
	if err := f.expect(EventSubmitCode, "", StateCodeIssued); err != nil {
		return err
	}
	candidate = strings.TrimSpace(candidate)
	if !identity.IsCodeWellFormed(candidate, f.CodeLength) {
		return core.NewFieldValidationError("code", errors.Errorf("enter the %d digit code", f.CodeLength))
	}

	valid, err := b.VerifyCode(ctx, f.Target(), f.Purpose, candidate)
	if err != nil {
		return err
	}
	if !valid {
		return ErrCodeMismatch
	}

	f.CodeExpiresAt = nil
	f.moveTo(StateVerified)
	return nil
}

// Resend issues a new code superseding the previous one.
func (f *Flow) Resend(ctx context.Context, b Backend) (identity.IssuedCode, error) {
	if err := f.expect(EventResend, "", StateCodeIssued); err != nil {
		return identity.IssuedCode{}, err
	}

	code, err := b.GenerateCode(ctx, f.Subject(), f.Purpose)
	if err != nil {
		return identity.IssuedCode{}, errors.Wrap(err, "generating code")
	}

	f.Resends++
	f.codeIssued(code)
	return code, nil
}

// SubmitPassword creates (signup) or resets (reset) the credential of a verified flow.
// Password length and, for resets, the confirmation are checked before any Backend call.
func (f *Flow) SubmitPassword(ctx context.Context, b Backend, password, confirm string) (identity.Session, error) {
	if err := f.expect(EventSubmitPassword, "", StateVerified); err != nil {
		return identity.Session{}, err
	}
	if err := f.checkPassword(password, confirm); err != nil {
		return identity.Session{}, err
	}

	var (
		sess identity.Session
		err  error
	)
	switch f.Purpose {
	case identity.PurposeSignup:
		sess, err = b.CreateCredential(ctx, identity.NewCredential{Identity: f.Subject(), Password: password})
	case identity.PurposeReset:
		sess, err = b.ResetPassword(ctx, f.Target(), password)
	default:
		return identity.Session{}, errors.Errorf("unknown flow purpose %q", f.Purpose)
	}
	if err != nil {
		return identity.Session{}, err
	}

	f.moveTo(StatePasswordSet)
	return sess, nil
}

func (f *Flow) checkPassword(password, confirm string) error {
	if !identity.IsPasswordLongEnough(password) {
		return core.NewFieldValidationError(
			"password", errors.Errorf("password must contain at least %d characters", identity.PasswordMinLength),
		)
	}
	if (f.Purpose == identity.PurposeReset || confirm != "") && password != confirm {
		return core.NewFieldValidationError("password_confirm", ErrPasswordMismatch)
	}
	return nil
}

// Back returns to the identity step. The next forward move issues a new code.
func (f *Flow) Back() error {
	switch f.State {
	case StateAwaitingDetails:
		f.reset()
	case StateCodeIssued, StateVerified:
		f.CodeExpiresAt = nil
		f.CodeLength = 0
		if f.Purpose == identity.PurposeSignup && f.Role == identity.RoleLecturer {
			f.Details = nil
			f.moveTo(StateAwaitingDetails)
			return nil
		}
		f.reset()
	default:
		return &TransitionError{State: f.State, Event: EventBack}
	}
	return nil
}

func (f *Flow) reset() {
	f.Role = ""
	f.Identity = identity.UserIdentity{}
	f.Details = nil
	f.CodeLength = 0
	f.CodeExpiresAt = nil
	f.moveTo(StateIdle)
}

// Abandon ends the flow. Abandoning an abandoned flow is a no-op.
func (f *Flow) Abandon() error {
	switch f.State {
	case StateAbandoned:
		return nil
	case StatePasswordSet:
		return &TransitionError{State: f.State, Event: EventAbandon}
	}
	f.CodeExpiresAt = nil
	f.moveTo(StateAbandoned)
	return nil
}

// requireFields takes (name, value) pairs and reports every empty value.
func requireFields(pairs ...string) error {
	var flds []core.FieldError
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			flds = append(flds, core.FieldError{Field: pairs[i], Error: "this field is required"})
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}
