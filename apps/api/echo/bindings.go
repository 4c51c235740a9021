package echoapi

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
	"github.com/trezcool/campus/core/otpflow"
)

type (
	LoginRequest struct {
		Identifier string `json:"identifier" validate:"required"`
		Password   string `json:"password" validate:"required"`
	}

	ResetRequest struct {
		Identifier string `json:"identifier"`
	}

	VerifyRequest struct {
		Code   string   `json:"code"`
		Digits []string `json:"digits"` // one entry per cell
	}

	PasswordRequest struct {
		Password        string `json:"password"`
		PasswordConfirm string `json:"password_confirm"`
	}

	FlowView struct {
		ID            string           `json:"id"`
		Purpose       identity.Purpose `json:"purpose"`
		Role          identity.Role    `json:"role,omitempty"`
		State         otpflow.State    `json:"state"`
		Email         string           `json:"email,omitempty"`
		CodeLength    int              `json:"code_length,omitempty"`
		CodeExpiresAt *time.Time       `json:"code_expires_at,omitempty"`
		Resends       int              `json:"resends"`
		Done          bool             `json:"done"` // no step is left
	}

	FlowResponse struct {
		Flow FlowView `json:"flow"`
		Code string   `json:"code,omitempty"` // demo mode only
	}

	VerifyResponse struct {
		Valid bool     `json:"valid"`
		Error string   `json:"error,omitempty"`
		Flow  FlowView `json:"flow"`
	}

	SessionResponse struct {
		identity.Session
		Flow *FlowView `json:"flow,omitempty"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Identifier = core.CleanString(lr.Identifier)
	return validate.Struct(lr)
}

// Candidate returns the submitted code, assembled from Digits when Code is empty.
func (vr VerifyRequest) Candidate() (string, error) {
	if vr.Code != "" || len(vr.Digits) == 0 {
		return vr.Code, nil
	}
	entry := otpflow.CodeEntryFrom(vr.Digits)
	if !entry.Complete() {
		return "", core.NewFieldValidationError("digits", errors.New("fill in every digit of the code"))
	}
	return entry.String(), nil
}

// newFlowView renders f for the client. A reset is started from any identifier,
// so its view only hints at the mailbox the code went to.
func newFlowView(f *otpflow.Flow) FlowView {
	view := FlowView{
		ID:            f.ID,
		Purpose:       f.Purpose,
		Role:          f.Role,
		State:         f.State,
		Email:         f.Target(),
		CodeLength:    f.CodeLength,
		CodeExpiresAt: f.CodeExpiresAt,
		Resends:       f.Resends,
		Done:          f.State.Terminal(),
	}
	if f.Purpose == identity.PurposeReset {
		view.Role = ""
		view.Email = maskEmail(view.Email)
	}
	return view
}

// maskEmail keeps the first letter of the local part and the domain: j***@campus.ac
func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.LastIndexByte(email, '@')
	if at < 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func bind(ctx echo.Context, dst interface{}, name string) error {
	if err := ctx.Bind(dst); err != nil {
		return errors.Wrapf(err, "binding to %s", name)
	}
	return nil
}
