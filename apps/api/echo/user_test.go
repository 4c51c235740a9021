package echoapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/identity"
	"github.com/trezcool/campus/core/session"
)

func Test_userApi_me(t *testing.T) {
	app := newTestApp(t)
	token := app.signUpStudent(t)

	cred, err := app.repo.GetCredential(context.Background(), identity.GetFilter{Identifier: studentEmail})
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingTokenRes)},
		{
			name: "Invalid token", token: token + "x", wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: session.ErrInvalidToken.Error()}),
		},
		{name: "Signed in", token: token, wantCode: http.StatusOK, wantData: marchallObj(t, cred)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodGet, "/v1/users/me", tt.token)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("Deactivated", func(t *testing.T) {
		cred.IsActive = false
		_, err := app.repo.UpdateCredential(context.Background(), cred)
		require.NoError(t, err)
		defer func() {
			cred.IsActive = true
			_, _ = app.repo.UpdateCredential(context.Background(), cred)
		}()

		rec := app.do(t, http.MethodGet, "/v1/users/me", token)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: identity.ErrAccountDeactivated.Error()}),
		}, rec)
	})
}

func Test_authApi_refreshToken(t *testing.T) {
	app := newTestApp(t)
	token := app.signUpStudent(t)

	rec := app.do(t, http.MethodPost, "/v1/auth/token-refresh", "")
	checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingTokenRes)}, rec)

	rec = app.do(t, http.MethodPost, "/v1/auth/token-refresh", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var sres SessionResponse
	unmarshal(t, rec, &sres)
	assert.NotEmpty(t, sres.Token)
	assert.Equal(t, studentEmail, sres.Credential.Email)

	t.Run("Refresh expired", func(t *testing.T) {
		claims, err := app.sessions.Parse(token)
		require.NoError(t, err)

		// a token still valid, issued from a sign in older than the refresh window
		origIat := time.Now().Add(-app.conf.Server.JWTRefreshExpirationDelta - time.Minute).Unix()
		cred, err := app.repo.GetCredential(context.Background(), identity.GetFilter{ID: claims.Subject})
		require.NoError(t, err)
		old, err := app.sessions.Sign(app.sessions.Claims(cred, origIat))
		require.NoError(t, err)

		rec := app.do(t, http.MethodPost, "/v1/auth/token-refresh", old)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: session.ErrRefreshExpired.Error()}),
		}, rec)
	})
}
