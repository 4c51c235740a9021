package echoapi

import (
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/identity"
	"github.com/trezcool/campus/core/session"
)

const (
	contextTokenKey = "userToken"
	contextUserKey  = "user"
)

var (
	errMissingToken = echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed jwt")
	errInvalidToken = echo.NewHTTPError(http.StatusUnauthorized, session.ErrInvalidToken.Error())
)

// jwtMiddleware authenticates Bearer tokens issued by iss and stores their *session.Claims in the context.
func jwtMiddleware(iss *session.Issuer) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey: contextTokenKey,
		ParseTokenFunc: func(ctx echo.Context, auth string) (interface{}, error) {
			return iss.Parse(auth)
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			var extractErr *echojwt.TokenExtractionError
			if errors.As(err, &extractErr) {
				return errMissingToken
			}
			return errInvalidToken.WithInternal(err)
		},
	})
}

func getContextClaims(ctx echo.Context) (session.Claims, error) {
	if claims, ok := ctx.Get(contextTokenKey).(*session.Claims); ok {
		return *claims, nil
	}
	return session.Claims{}, errUnauthorized
}

func getContextCredential(ctx echo.Context, svc *identity.Service, clms ...session.Claims) (identity.Credential, error) {
	if cred, ok := ctx.Get(contextUserKey).(identity.Credential); ok {
		return cred, nil
	}

	var (
		claims session.Claims
		err    error
	)
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return identity.Credential{}, err
		}
	}

	cred, err := svc.GetCredential(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Credential{}, errUnauthorized
		}
		return identity.Credential{}, errors.Wrap(err, "finding credential by ID")
	}
	ctx.Set(contextUserKey, cred)
	return cred, nil
}

func refreshToken(ctx echo.Context, svc *identity.Service, iss *session.Issuer) (identity.Session, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return identity.Session{}, err
	}

	cred, err := getContextCredential(ctx, svc, claims)
	if err != nil {
		return identity.Session{}, err
	}

	sess, err := iss.Refresh(claims, cred)
	if err != nil {
		return identity.Session{}, errors.Wrap(err, "refreshing token")
	}
	return sess, nil
}
