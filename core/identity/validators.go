package identity

import (
	"fmt"
	"regexp"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/campus/core"
)

var (
	lecturerEmailTag   = "lecturer_email"
	lecturerEmailText  = ErrInvalidLecturerEmail.Error()
	lecturerEmailRegex = regexp.MustCompile(`(?i)^[a-z][a-z'-]*\.[a-z](?:[a-z'.-]*[a-z])?@lecturer\.com$`)

	// password policy
	PasswordMinLength = 6
	pwdMinLenTag      = "pwdminlen"
	pwdMinLenText     = fmt.Sprintf("password must contain at least %d characters", PasswordMinLength)

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to your personal information"
)

// InitValidators registers the identity validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(lecturerEmailTag, lecturerEmailValidation)
	core.RegisterCustomTranslation(validate, translator, lecturerEmailTag, lecturerEmailText)

	_ = validate.RegisterValidation(pwdMinLenTag, pwdMinLenValidation)
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)

	validate.RegisterStructValidation(credentialStructValidation, NewCredential{}, ResetCredential{})
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
}

// IsLecturerEmail reports whether email looks like surname.othernames@lecturer.com.
func IsLecturerEmail(email string) bool {
	return lecturerEmailRegex.MatchString(strings.TrimSpace(email))
}

// IsPasswordLongEnough applies the minimum length policy.
func IsPasswordLongEnough(pwd string) bool {
	return len([]rune(pwd)) >= PasswordMinLength
}

// Custom Validators

func lecturerEmailValidation(fl validator.FieldLevel) bool {
	return IsLecturerEmail(fl.Field().String())
}

func pwdMinLenValidation(fl validator.FieldLevel) bool {
	return IsPasswordLongEnough(fl.Field().String())
}

// credentialStructValidation rejects passwords too similar to the identity's attributes.
func credentialStructValidation(sl validator.StructLevel) {
	switch cred := sl.Current().Interface().(type) {
	case NewCredential:
		id := cred.Identity
		validatePasswordSimilarity(cred.Password, sl, id.FullName, id.Email, id.RegistrationNumber, id.StudentNumber)
	case ResetCredential:
		validatePasswordSimilarity(cred.Password, sl, cred.Target)
	}
}

func validatePasswordSimilarity(pwd string, sl validator.StructLevel, attrs ...string) {
	if !IsPasswordLongEnough(pwd) {
		return // reported by pwdminlen
	}
	getRatio := func(pass, attr string) float64 {
		if attr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(strings.ToLower(pass), ""), strings.Split(strings.ToLower(attr), "")).QuickRatio()
	}
	for _, attr := range attrs {
		if getRatio(pwd, attr) >= pwdMaxSim {
			sl.ReportError(pwd, "password", "Password", pwdAttrSimTag, "")
			return
		}
	}
}
