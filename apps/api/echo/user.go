package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/campus/core/identity"
)

type userApi struct {
	svc *identity.Service
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := userApi{svc: deps.Identity}

	ug := g.Group("/users", jwt, activeUserMiddleware(api.svc))
	ug.GET("/me", api.me)
}

func (api *userApi) me(ctx echo.Context) error {
	cred, err := getContextCredential(ctx, api.svc)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cred)
}
