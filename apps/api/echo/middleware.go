package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
)

var errTooManyRequests = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")

// rateLimiterMiddleware limits unauthenticated auth requests per client IP.
func rateLimiterMiddleware(conf *core.Config) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(conf.Server.RateLimit),
		Burst:     conf.Server.RateBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return errHttpForbidden
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return errTooManyRequests
		},
	})
}

// requestTimeoutMiddleware bounds the context every handler passes down to stores and services.
func requestTimeoutMiddleware(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if timeout <= 0 {
				return next(ctx)
			}
			c, cancel := context.WithTimeout(ctx.Request().Context(), timeout)
			defer cancel()
			ctx.SetRequest(ctx.Request().WithContext(c))
			return next(ctx)
		}
	}
}

// activeUserMiddleware loads the signed in Credential and rejects deactivated accounts.
func activeUserMiddleware(svc *identity.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			cred, err := getContextCredential(ctx, svc)
			if err != nil {
				return err
			}
			if !cred.IsActive {
				return errAccountDeactivated
			}
			return next(ctx)
		}
	}
}
