package identity

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/campus/core"
)

// Role of a portal user.
type Role string

const (
	RoleStudent  Role = "student"
	RoleLecturer Role = "lecturer"
)

func (r Role) Valid() bool { return r == RoleStudent || r == RoleLecturer }

// Purpose a one-time code is bound to.
type Purpose string

const (
	PurposeSignup Purpose = "signup"
	PurposeReset  Purpose = "reset"
)

func (p Purpose) Valid() bool { return p == PurposeSignup || p == PurposeReset }

// UserIdentity is a known member of the university, imported by an administrator.
type UserIdentity struct {
	ID                 string    `json:"id,omitempty" db:"id"`
	RegistrationNumber string    `json:"registration_number,omitempty" db:"registration_number"`
	StudentNumber      string    `json:"student_number,omitempty" db:"student_number"`
	Email              string    `json:"email" db:"email"`
	FullName           string    `json:"full_name,omitempty" db:"full_name"`
	Role               Role      `json:"role" db:"role"`
	Department         string    `json:"department,omitempty" db:"department"`
	CreatedAt          time.Time `json:"-" db:"created_at"`
}

// Target is the identifier codes are bound to and delivered at.
func (ui UserIdentity) Target() string {
	return NormalizeEmail(ui.Email)
}

// Clean normalises identifiers the way they are stored.
func (ui *UserIdentity) Clean() {
	ui.RegistrationNumber = NormalizeRegistrationNumber(ui.RegistrationNumber)
	ui.StudentNumber = core.CleanString(ui.StudentNumber)
	ui.Email = NormalizeEmail(ui.Email)
	ui.FullName = core.CleanString(ui.FullName)
	ui.Department = core.CleanString(ui.Department)
}

// StudentFields are the identity fields a student signs up with.
type StudentFields struct {
	RegistrationNumber string `json:"registration_number" validate:"required,notblank"`
	StudentNumber      string `json:"student_number" validate:"required,digits"`
	Email              string `json:"email" validate:"required,email"`
}

func (sf *StudentFields) Clean() {
	sf.RegistrationNumber = NormalizeRegistrationNumber(sf.RegistrationNumber)
	sf.StudentNumber = core.CleanString(sf.StudentNumber)
	sf.Email = NormalizeEmail(sf.Email)
}

// LecturerFields is what a lecturer signs up with: an institutional email.
type LecturerFields struct {
	Email string `json:"email" validate:"required,lecturer_email"`
}

func (lf *LecturerFields) Clean() {
	lf.Email = NormalizeEmail(lf.Email)
}

// LecturerDetails are collected from lecturers before a code is issued.
type LecturerDetails struct {
	FirstName  string `json:"first_name" validate:"required,notblank"`
	LastName   string `json:"last_name" validate:"required,notblank"`
	Department string `json:"department" validate:"required,notblank"`
}

func (ld *LecturerDetails) Clean() {
	ld.FirstName = core.CleanString(ld.FirstName)
	ld.LastName = core.CleanString(ld.LastName)
	ld.Department = core.CleanString(ld.Department)
}

func (ld LecturerDetails) FullName() string {
	return strings.TrimSpace(ld.FirstName + " " + ld.LastName)
}

// Credential is a user's sign-in record.
type Credential struct {
	ID                 string     `json:"id" db:"id"`
	IdentityID         string     `json:"identity_id,omitempty" db:"identity_id"`
	Email              string     `json:"email" db:"email"`
	RegistrationNumber string     `json:"registration_number,omitempty" db:"registration_number"`
	StudentNumber      string     `json:"student_number,omitempty" db:"student_number"`
	Name               string     `json:"name" db:"name"`
	Role               Role       `json:"role" db:"role"`
	Department         string     `json:"department,omitempty" db:"department"`
	PasswordHash       []byte     `json:"-" db:"password_hash"`
	IsActive           bool       `json:"is_active" db:"is_active"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"` // UTC
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"` // UTC
	LastLogin          *time.Time `json:"last_login,omitempty" db:"last_login"`
}

func (c *Credential) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	c.PasswordHash = hash
	return nil
}

func (c *Credential) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(pwd))
}

func (c Credential) IsStudent() bool  { return c.Role == RoleStudent }
func (c Credential) IsLecturer() bool { return c.Role == RoleLecturer }

// Identifiers lists every identifier the credential can sign in with.
func (c Credential) Identifiers() []string {
	ids := []string{c.Email}
	if c.RegistrationNumber != "" {
		ids = append(ids, c.RegistrationNumber)
	}
	if c.StudentNumber != "" {
		ids = append(ids, c.StudentNumber)
	}
	return ids
}

// NewCredential contains information needed to create a Credential at signup.
type NewCredential struct {
	Identity UserIdentity `json:"-"`
	Password string       `json:"password" validate:"required,pwdminlen,max=72"`
}

// ResetCredential contains information needed to overwrite a Credential's password.
type ResetCredential struct {
	Target   string `json:"-"`
	Password string `json:"password" validate:"required,pwdminlen,max=72"`
}

// OneTimeCode is the stored, hashed form of an issued code.
// Only one live code exists per Target and Purpose.
type OneTimeCode struct {
	ID         string     `db:"id"`
	Target     string     `db:"target"`
	Purpose    Purpose    `db:"purpose"`
	CodeHash   string     `db:"code_hash"`
	IssuedAt   time.Time  `db:"issued_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	ConsumedAt *time.Time `db:"consumed_at"`
}

func (otc OneTimeCode) IsLive(now time.Time) bool {
	return otc.ConsumedAt == nil && now.Before(otc.ExpiresAt)
}

// IssuedCode is a freshly generated code, in clear, for out-of-band delivery.
type IssuedCode struct {
	Target    string    `json:"target"`
	Purpose   Purpose   `json:"purpose"`
	Code      string    `json:"-"`
	Length    int       `json:"length"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is an authenticated session for a Credential.
type Session struct {
	Token      string     `json:"token"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Credential Credential `json:"user"`
}

// GetFilter selects a single Credential.
type GetFilter struct {
	ID string
	// Identifier matches the email, registration number or student number.
	Identifier string
}

func NormalizeEmail(email string) string {
	return core.CleanString(email, true /* lower */)
}

func NormalizeRegistrationNumber(regNo string) string {
	return strings.ToUpper(core.CleanString(regNo))
}

// NormalizeIdentifier normalises any sign-in identifier.
func NormalizeIdentifier(identifier string) string {
	identifier = core.CleanString(identifier)
	if strings.Contains(identifier, "@") {
		return NormalizeEmail(identifier)
	}
	return strings.ToUpper(identifier)
}
