package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
	"github.com/trezcool/campus/core/otpflow"
	"github.com/trezcool/campus/core/session"
)

type authApi struct {
	conf     *core.Config
	svc      *identity.Service
	flows    *otpflow.Manager
	sessions *session.Issuer
	validate *validator.Validate
}

func registerAuthAPI(g *echo.Group, jwt, limit echo.MiddlewareFunc, deps ServerDeps) {
	api := authApi{
		conf:     deps.Conf,
		svc:      deps.Identity,
		flows:    deps.Flows,
		sessions: deps.Sessions,
		validate: deps.Validate,
	}

	ag := g.Group("/auth")

	// un-authed endpoints
	pg := ag.Group("", limit)
	pg.POST("/login", api.login)
	pg.POST("/signup/student", api.startStudentSignup)
	pg.POST("/signup/lecturer", api.startLecturerSignup)
	pg.POST("/password-reset", api.startReset)

	fg := pg.Group("/flows/:id")
	fg.GET("", api.retrieveFlow)
	fg.POST("/student", api.submitStudent)
	fg.POST("/lecturer", api.submitLecturer)
	fg.POST("/identifier", api.submitIdentifier)
	fg.POST("/details", api.submitDetails)
	fg.POST("/verify", api.verify)
	fg.POST("/resend", api.resend)
	fg.POST("/password", api.submitPassword)
	fg.POST("/back", api.back)
	fg.DELETE("", api.abandon)

	// authed endpoints
	ag.POST("/token-refresh", api.refreshToken, jwt)
}

func (api *authApi) flowResponse(ctx echo.Context, code int, f *otpflow.Flow, issued ...identity.IssuedCode) error {
	res := FlowResponse{Flow: newFlowView(f)}
	if api.conf.OTP.ExposeCode && len(issued) > 0 {
		res.Code = issued[0].Code
	}
	return ctx.JSON(code, res)
}

// Handlers

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := bind(ctx, &data, "LoginRequest"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.svc.Authenticate(ctx.Request().Context(), data.Identifier, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	return ctx.JSON(http.StatusOK, SessionResponse{Session: sess})
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	sess, err := refreshToken(ctx, api.svc, api.sessions)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, SessionResponse{Session: sess})
}

func (api *authApi) startStudentSignup(ctx echo.Context) error {
	var data identity.StudentFields
	if err := bind(ctx, &data, "StudentFields"); err != nil {
		return err
	}
	f, code, err := api.flows.StartStudentSignup(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "starting student signup")
	}
	return api.flowResponse(ctx, http.StatusCreated, f, code)
}

func (api *authApi) startLecturerSignup(ctx echo.Context) error {
	var data identity.LecturerFields
	if err := bind(ctx, &data, "LecturerFields"); err != nil {
		return err
	}
	f, err := api.flows.StartLecturerSignup(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "starting lecturer signup")
	}
	return api.flowResponse(ctx, http.StatusCreated, f)
}

func (api *authApi) startReset(ctx echo.Context) error {
	var data ResetRequest
	if err := bind(ctx, &data, "ResetRequest"); err != nil {
		return err
	}
	f, code, err := api.flows.StartReset(ctx.Request().Context(), data.Identifier)
	if err != nil {
		return errors.Wrap(err, "starting password reset")
	}
	return api.flowResponse(ctx, http.StatusCreated, f, code)
}

func (api *authApi) retrieveFlow(ctx echo.Context) error {
	f, err := api.flows.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting flow")
	}
	return api.flowResponse(ctx, http.StatusOK, f)
}

func (api *authApi) submitStudent(ctx echo.Context) error {
	var data identity.StudentFields
	if err := bind(ctx, &data, "StudentFields"); err != nil {
		return err
	}
	f, code, err := api.flows.SubmitStudent(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting student fields")
	}
	return api.flowResponse(ctx, http.StatusOK, f, code)
}

func (api *authApi) submitLecturer(ctx echo.Context) error {
	var data identity.LecturerFields
	if err := bind(ctx, &data, "LecturerFields"); err != nil {
		return err
	}
	f, err := api.flows.SubmitLecturer(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting lecturer email")
	}
	return api.flowResponse(ctx, http.StatusOK, f)
}

func (api *authApi) submitIdentifier(ctx echo.Context) error {
	var data ResetRequest
	if err := bind(ctx, &data, "ResetRequest"); err != nil {
		return err
	}
	f, code, err := api.flows.SubmitResetIdentifier(ctx.Request().Context(), ctx.Param("id"), data.Identifier)
	if err != nil {
		return errors.Wrap(err, "submitting reset identifier")
	}
	return api.flowResponse(ctx, http.StatusOK, f, code)
}

func (api *authApi) submitDetails(ctx echo.Context) error {
	var data identity.LecturerDetails
	if err := bind(ctx, &data, "LecturerDetails"); err != nil {
		return err
	}
	f, code, err := api.flows.SubmitDetails(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting lecturer details")
	}
	return api.flowResponse(ctx, http.StatusOK, f, code)
}

func (api *authApi) verify(ctx echo.Context) error {
	var data VerifyRequest
	if err := bind(ctx, &data, "VerifyRequest"); err != nil {
		return err
	}
	candidate, err := data.Candidate()
	if err != nil {
		return err
	}

	f, err := api.flows.SubmitCode(ctx.Request().Context(), ctx.Param("id"), candidate)
	if err != nil {
		if errors.Is(err, otpflow.ErrCodeMismatch) && f != nil {
			return ctx.JSON(http.StatusBadRequest, VerifyResponse{
				Valid: false,
				Error: otpflow.ErrCodeMismatch.Error(),
				Flow:  newFlowView(f),
			})
		}
		return errors.Wrap(err, "verifying code")
	}
	return ctx.JSON(http.StatusOK, VerifyResponse{Valid: true, Flow: newFlowView(f)})
}

func (api *authApi) resend(ctx echo.Context) error {
	f, code, err := api.flows.Resend(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "resending code")
	}
	return api.flowResponse(ctx, http.StatusOK, f, code)
}

func (api *authApi) submitPassword(ctx echo.Context) error {
	var data PasswordRequest
	if err := bind(ctx, &data, "PasswordRequest"); err != nil {
		return err
	}
	f, sess, err := api.flows.SubmitPassword(ctx.Request().Context(), ctx.Param("id"), data.Password, data.PasswordConfirm)
	if err != nil {
		return errors.Wrap(err, "setting password")
	}
	view := newFlowView(f)
	return ctx.JSON(http.StatusOK, SessionResponse{Session: sess, Flow: &view})
}

func (api *authApi) back(ctx echo.Context) error {
	f, err := api.flows.Back(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "going back")
	}
	return api.flowResponse(ctx, http.StatusOK, f)
}

func (api *authApi) abandon(ctx echo.Context) error {
	f, err := api.flows.Abandon(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "abandoning flow")
	}
	return api.flowResponse(ctx, http.StatusOK, f)
}
