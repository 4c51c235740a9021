package identity

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

const (
	scopeOTP   = "otp"
	scopeLogin = "login"
)

type (
	ServiceDeps struct {
		Repo     Repository
		Lockout  Lockout
		MailSvc  core.EmailService
		Sessions SessionIssuer
		Metrics  Metrics // optional
		Logger   core.Logger
		Conf     *core.Config
		Validate *validator.Validate
	}

	Service struct {
		repo     Repository
		lockout  Lockout
		mailSvc  core.EmailService
		sessions SessionIssuer
		metrics  Metrics
		logger   core.Logger
		conf     *core.Config
		validate *validator.Validate
	}

	codeEmailData struct {
		Name      string
		Purpose   string
		Code      string
		ExpiresIn string
	}
)

func NewService(deps ServiceDeps) *Service {
	svc := &Service{
		repo:     deps.Repo,
		lockout:  deps.Lockout,
		mailSvc:  deps.MailSvc,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		conf:     deps.Conf,
		validate: deps.Validate,
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	return svc
}

// ValidateStudent returns the student identity matching all fields.
func (svc *Service) ValidateStudent(ctx context.Context, fields StudentFields) (UserIdentity, error) {
	fields.Clean()
	if err := svc.validate.Struct(fields); err != nil {
		return UserIdentity{}, err
	}

	ui, err := svc.repo.FindStudent(ctx, fields)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UserIdentity{}, ErrIdentityNotFound
		}
		return UserIdentity{}, errors.Wrap(err, "finding student identity")
	}
	return ui, nil
}

// ValidateLecturer checks the lecturer email pattern and returns the imported lecturer identity,
// or a placeholder to be completed with LecturerDetails.
func (svc *Service) ValidateLecturer(ctx context.Context, fields LecturerFields) (UserIdentity, error) {
	fields.Clean()
	if err := svc.validate.Struct(fields); err != nil {
		return UserIdentity{}, err
	}

	ui, err := svc.repo.GetIdentityByEmail(ctx, fields.Email)
	switch {
	case err == nil && ui.Role == RoleLecturer:
		return ui, nil
	case err == nil, errors.Is(err, ErrNotFound):
		return UserIdentity{Email: fields.Email, Role: RoleLecturer}, nil
	default:
		return UserIdentity{}, errors.Wrap(err, "finding lecturer identity")
	}
}

// LookupForReset returns the identity of the Credential signing in with identifier.
func (svc *Service) LookupForReset(ctx context.Context, identifier string) (UserIdentity, error) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" {
		return UserIdentity{}, core.NewFieldValidationError("identifier", errors.New("this field is required"))
	}

	cred, err := svc.repo.GetCredential(ctx, GetFilter{Identifier: identifier})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UserIdentity{}, ErrCredentialNotFound
		}
		return UserIdentity{}, errors.Wrap(err, "finding credential")
	}
	if !cred.IsActive {
		return UserIdentity{}, ErrAccountDeactivated
	}

	return UserIdentity{
		ID:                 cred.IdentityID,
		RegistrationNumber: cred.RegistrationNumber,
		StudentNumber:      cred.StudentNumber,
		Email:              cred.Email,
		FullName:           cred.Name,
		Role:               cred.Role,
		Department:         cred.Department,
	}, nil
}

// GenerateCode issues a new code bound to ui's target and purpose and emails it.
// Any live code for the same target and purpose is superseded.
func (svc *Service) GenerateCode(ctx context.Context, ui UserIdentity, purpose Purpose) (IssuedCode, error) {
	if !purpose.Valid() {
		return IssuedCode{}, errors.Errorf("invalid code purpose %q", purpose)
	}
	target := ui.Target()
	if target == "" {
		return IssuedCode{}, errors.New("identity has no email to send the code to")
	}
	if err := svc.lockout.Check(ctx, LockoutKey(scopeOTP, string(purpose), target)); err != nil {
		return IssuedCode{}, err
	}

	code, err := GenerateCodeFunc(svc.conf.OTP.Length)
	if err != nil {
		return IssuedCode{}, errors.Wrap(err, "generating code")
	}

	now := NowFunc().UTC()
	otc := OneTimeCode{
		ID:        uuid.NewString(),
		Target:    target,
		Purpose:   purpose,
		CodeHash:  hashCode(svc.conf.SecretKey, target, purpose, code),
		IssuedAt:  now,
		ExpiresAt: now.Add(svc.conf.OTP.TTL),
	}
	if err = svc.repo.SaveCode(ctx, otc); err != nil {
		return IssuedCode{}, errors.Wrap(err, "saving code")
	}

	svc.sendCode(ui, purpose, code)
	svc.metrics.CodeIssued(purpose)

	return IssuedCode{
		Target:    target,
		Purpose:   purpose,
		Code:      code,
		Length:    len(code),
		ExpiresAt: otc.ExpiresAt,
	}, nil
}

func (svc *Service) sendCode(ui UserIdentity, purpose Purpose, code string) {
	name := ui.FullName
	if name == "" {
		name = ui.Email
	}
	subject := "Verify your email"
	if purpose == PurposeReset {
		subject = "Password reset code"
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: ui.FullName, Address: ui.Email}},
		Subject:      subject,
		TemplateName: "otp_code",
		TemplateData: codeEmailData{
			Name:      name,
			Purpose:   string(purpose),
			Code:      code,
			ExpiresIn: svc.conf.OTP.TTL.Round(time.Minute).String(),
		},
	})
}

// VerifyCode checks and consumes the live code of target and purpose.
// A wrong, expired or already used code returns false and counts towards the lockout.
func (svc *Service) VerifyCode(ctx context.Context, target string, purpose Purpose, candidate string) (bool, error) {
	target = NormalizeEmail(target)
	key := LockoutKey(scopeOTP, string(purpose), target)
	if err := svc.lockout.Check(ctx, key); err != nil {
		return false, err
	}

	valid := IsCodeWellFormed(candidate, svc.conf.OTP.Length)
	if valid {
		var err error
		codeHash := hashCode(svc.conf.SecretKey, target, purpose, candidate)
		valid, err = svc.repo.ConsumeCode(ctx, target, purpose, codeHash, NowFunc().UTC())
		if err != nil {
			return false, errors.Wrap(err, "consuming code")
		}
	}
	svc.metrics.CodeVerified(purpose, valid)

	if !valid {
		if err := svc.lockout.Fail(ctx, key); err != nil {
			if errors.Is(err, ErrTooManyAttempts) {
				svc.metrics.LockedOut(scopeOTP)
				return false, nil
			}
			return false, errors.Wrap(err, "recording failed attempt")
		}
		return false, nil
	}
	if err := svc.lockout.Reset(ctx, key); err != nil {
		svc.logger.Warn(fmt.Sprintf("resetting failed attempts: %v", err), err)
	}
	return true, nil
}

// CreateCredential creates the Credential of a verified identity and opens a Session.
func (svc *Service) CreateCredential(ctx context.Context, nc NewCredential) (Session, error) {
	nc.Identity.Clean()
	if !nc.Identity.Role.Valid() {
		return Session{}, errors.Errorf("invalid role %q", nc.Identity.Role)
	}
	if err := svc.validate.Struct(nc); err != nil {
		return Session{}, err
	}

	id := nc.Identity
	now := NowFunc().UTC()
	cred := Credential{
		ID:                 uuid.NewString(),
		IdentityID:         id.ID,
		Email:              id.Email,
		RegistrationNumber: id.RegistrationNumber,
		StudentNumber:      id.StudentNumber,
		Name:               id.FullName,
		Role:               id.Role,
		Department:         id.Department,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	exists, err := svc.repo.CredentialExists(ctx, cred.Identifiers())
	if err != nil {
		return Session{}, errors.Wrap(err, "checking credential existence")
	}
	if exists {
		return Session{}, &ExistsError{Identifier: cred.Email}
	}

	if err = cred.SetPassword(nc.Password); err != nil {
		return Session{}, errors.Wrap(err, "setting password")
	}
	cred.LastLogin = &now
	if cred, err = svc.repo.CreateCredential(ctx, cred); err != nil {
		var existsErr *ExistsError
		if errors.As(err, &existsErr) {
			return Session{}, err
		}
		return Session{}, errors.Wrap(err, "creating credential")
	}
	svc.metrics.CredentialCreated(cred.Role)

	return svc.sessions.Issue(cred)
}

// ResetPassword overwrites the password of target's Credential and opens a Session.
func (svc *Service) ResetPassword(ctx context.Context, target, password string) (Session, error) {
	rc := ResetCredential{Target: NormalizeEmail(target), Password: password}
	if err := svc.validate.Struct(rc); err != nil {
		return Session{}, err
	}

	cred, err := svc.repo.GetCredential(ctx, GetFilter{Identifier: rc.Target})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrCredentialNotFound
		}
		return Session{}, errors.Wrap(err, "finding credential")
	}
	if !cred.IsActive {
		return Session{}, ErrAccountDeactivated
	}

	if err = cred.SetPassword(rc.Password); err != nil {
		return Session{}, errors.Wrap(err, "setting password")
	}
	now := NowFunc().UTC()
	cred.UpdatedAt = now
	cred.LastLogin = &now
	if cred, err = svc.repo.UpdateCredential(ctx, cred); err != nil {
		return Session{}, errors.Wrap(err, "updating credential")
	}
	svc.metrics.PasswordReset()

	// a reset proves access to the mailbox: clear any sign in lockout
	for _, idf := range cred.Identifiers() {
		if err = svc.lockout.Reset(ctx, LockoutKey(scopeLogin, idf)); err != nil {
			svc.logger.Warn(fmt.Sprintf("resetting login lockout: %v", err), err)
		}
	}

	return svc.sessions.Issue(cred)
}

// Authenticate signs in with any identifier of a Credential.
func (svc *Service) Authenticate(ctx context.Context, identifier, password string) (Session, error) {
	identifier = NormalizeIdentifier(identifier)
	key := LockoutKey(scopeLogin, identifier)
	if err := svc.lockout.Check(ctx, key); err != nil {
		return Session{}, err
	}

	fail := func() (Session, error) {
		svc.metrics.LoginAttempt(false)
		if err := svc.lockout.Fail(ctx, key); err != nil {
			if errors.Is(err, ErrTooManyAttempts) {
				svc.metrics.LockedOut(scopeLogin)
				return Session{}, err
			}
			return Session{}, errors.Wrap(err, "recording failed attempt")
		}
		return Session{}, ErrAuthenticationFailed
	}

	cred, err := svc.repo.GetCredential(ctx, GetFilter{Identifier: identifier})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail()
		}
		return Session{}, errors.Wrap(err, "finding credential")
	}
	if err = cred.CheckPassword(password); err != nil {
		return fail()
	}
	if !cred.IsActive {
		return Session{}, ErrAccountDeactivated
	}
	if err = svc.lockout.Reset(ctx, key); err != nil {
		return Session{}, errors.Wrap(err, "resetting failed attempts")
	}

	now := NowFunc().UTC()
	cred.LastLogin = &now
	if cred, err = svc.repo.UpdateCredential(ctx, cred); err != nil {
		return Session{}, errors.Wrap(err, "setting last login")
	}
	svc.metrics.LoginAttempt(true)

	return svc.sessions.Issue(cred)
}

func (svc *Service) GetCredential(ctx context.Context, id string) (Credential, error) {
	return svc.repo.GetCredential(ctx, GetFilter{ID: id})
}

// SetPassword overwrites a Credential's password without a code. Used by administrators.
func (svc *Service) SetPassword(ctx context.Context, identifier, password string) (Credential, error) {
	cred, err := svc.repo.GetCredential(ctx, GetFilter{Identifier: NormalizeIdentifier(identifier)})
	if err != nil {
		return Credential{}, err
	}
	if err = svc.validate.Struct(ResetCredential{Target: cred.Email, Password: password}); err != nil {
		return Credential{}, err
	}
	if err = cred.SetPassword(password); err != nil {
		return Credential{}, errors.Wrap(err, "setting password")
	}
	cred.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateCredential(ctx, cred)
}

// ImportIdentities validates and stores identities in bulk; it returns the number created.
func (svc *Service) ImportIdentities(ctx context.Context, identities []UserIdentity, exec ...core.DBExecutor) (int, error) {
	now := NowFunc().UTC()
	for i := range identities {
		ui := &identities[i]
		ui.Clean()
		if ui.ID == "" {
			ui.ID = uuid.NewString()
		}
		ui.CreatedAt = now
		if err := validateImportedIdentity(*ui); err != nil {
			return 0, errors.Wrapf(err, "row %d", i+1)
		}
	}
	return svc.repo.CreateIdentities(ctx, identities, exec...)
}

func validateImportedIdentity(ui UserIdentity) error {
	if _, err := mail.ParseAddress(ui.Email); err != nil {
		return core.NewFieldValidationError("email", err)
	}
	if ui.FullName == "" {
		return core.NewFieldValidationError("full_name", errors.New("this field is required"))
	}
	switch ui.Role {
	case RoleStudent:
		if ui.RegistrationNumber == "" || ui.StudentNumber == "" {
			return core.NewFieldValidationError("student_number", errors.New("students need a registration and a student number"))
		}
		if !isDigits(ui.StudentNumber) {
			return core.NewFieldValidationError("student_number", errors.New("only digits are allowed"))
		}
	case RoleLecturer:
		if !IsLecturerEmail(ui.Email) {
			return core.NewFieldValidationError("email", ErrInvalidLecturerEmail)
		}
	default:
		return core.NewFieldValidationError("role", errors.Errorf("invalid role %q", ui.Role))
	}
	return nil
}
