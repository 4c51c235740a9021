package echoapi

import (
	"math"
	"net/http"
	"strconv"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
	"github.com/trezcool/campus/core/otpflow"
	"github.com/trezcool/campus/core/session"
)

var (
	errUnauthorized       = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAccountDeactivated = echo.NewHTTPError(http.StatusForbidden, identity.ErrAccountDeactivated.Error())
	errHttpForbidden      = echo.NewHTTPError(http.StatusForbidden, "permission denied")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message := errorResponse(err, translator, ctx)

		if code == http.StatusInternalServerError {
			msg := http.StatusText(http.StatusInternalServerError)

			var usr core.LogUser
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr = core.LogUser{ID: claims.Subject, Name: claims.Name, Email: claims.Email}
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func errorResponse(err error, translator ut.Translator, ctx echo.Context) (int, interface{}) {
	var (
		httpErr    *echo.HTTPError
		vErrs      validator.ValidationErrors
		valErr     *core.ValidationError
		existsErr  *identity.ExistsError
		lockedErr  *identity.LockedError
		transition *otpflow.TransitionError
	)

	switch {
	case errors.As(err, &httpErr):
		if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
			httpErr = herr
		}
		return httpErr.Code, httpErr.Message

	case errors.As(err, &vErrs):
		fldErrs := make(map[string]string, len(vErrs))
		for _, vErr := range vErrs {
			fldErrs[vErr.Field()] = vErr.Translate(translator)
		}
		return http.StatusBadRequest, fldErrs

	case errors.As(err, &valErr):
		if len(valErr.Fields) > 0 {
			fldErrs := make(map[string]string, len(valErr.Fields))
			for _, fErr := range valErr.Fields {
				fldErrs[fErr.Field] = fErr.Error
			}
			return http.StatusBadRequest, fldErrs
		}
		return http.StatusBadRequest, valErr.Error()

	case errors.As(err, &existsErr):
		return http.StatusConflict, echo.Map{
			"error":      identity.ErrCredentialExists.Error(),
			"identifier": existsErr.Identifier,
			"redirect":   "signin",
		}

	case errors.As(err, &lockedErr):
		if lockedErr.RetryAfter > 0 {
			secs := int(math.Ceil(lockedErr.RetryAfter.Seconds()))
			ctx.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(secs))
		}
		return http.StatusTooManyRequests, lockedErr.Error()

	case errors.As(err, &transition):
		return http.StatusConflict, echo.Map{
			"error": otpflow.ErrInvalidTransition.Error(),
			"state": transition.State,
		}

	case errors.Is(err, otpflow.ErrFlowNotFound):
		return http.StatusNotFound, otpflow.ErrFlowNotFound.Error()

	case errors.Is(err, otpflow.ErrStepInProgress):
		return http.StatusConflict, otpflow.ErrStepInProgress.Error()

	case errors.Is(err, otpflow.ErrCodeMismatch),
		errors.Is(err, identity.ErrIdentityNotFound),
		errors.Is(err, identity.ErrCredentialNotFound),
		errors.Is(err, identity.ErrAuthenticationFailed):
		return http.StatusBadRequest, errors.Cause(err).Error()

	case errors.Is(err, identity.ErrAccountDeactivated),
		errors.Is(err, session.ErrRefreshExpired):
		return http.StatusForbidden, errors.Cause(err).Error()

	case errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized, session.ErrInvalidToken.Error()

	default: // any other error is a server error
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}
