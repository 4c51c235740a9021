package echoapi

import (
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/identity"
	"github.com/trezcool/campus/core/otpflow"
)

func Test_authApi_startSignupValidation(t *testing.T) {
	app := newTestApp(t)

	tests := []httpTest{
		{
			name: "student: all fields required", path: "/v1/auth/signup/student",
			body:     marchallObj(t, identity.StudentFields{}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"registration_number": "this field is required",
				"student_number":      "this field is required",
				"email":               "this field is required",
			}),
		},
		{
			name: "student: invalid email", path: "/v1/auth/signup/student",
			body: marchallObj(t, identity.StudentFields{
				RegistrationNumber: studentRegNo, StudentNumber: studentNumber, Email: "not-an-email",
			}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": "enter a valid email address"}),
		},
		{
			name: "student: unknown identity", path: "/v1/auth/signup/student",
			body: marchallObj(t, identity.StudentFields{
				RegistrationNumber: studentRegNo, StudentNumber: "99999999", Email: studentEmail,
			}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: identity.ErrIdentityNotFound.Error()}),
		},
		{
			name: "lecturer: email required", path: "/v1/auth/signup/lecturer",
			body:     marchallObj(t, identity.LecturerFields{}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": "this field is required"}),
		},
		{
			name: "lecturer: not an institutional email", path: "/v1/auth/signup/lecturer",
			body:     marchallObj(t, identity.LecturerFields{Email: "james@gmail.com"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": identity.ErrInvalidLecturerEmail.Error()}),
		},
		{
			name: "reset: identifier required", path: "/v1/auth/password-reset",
			body:     marchallObj(t, ResetRequest{}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"identifier": "this field is required"}),
		},
		{
			name: "reset: unknown account", path: "/v1/auth/password-reset",
			body:     marchallObj(t, ResetRequest{Identifier: studentRegNo}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: identity.ErrCredentialNotFound.Error()}),
		},
		{
			name: "unknown flow", method: http.MethodGet, path: "/v1/auth/flows/nope",
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: otpflow.ErrFlowNotFound.Error()}),
		},
		{
			name: "login: fields required", path: "/v1/auth/login",
			body:     marchallObj(t, LoginRequest{}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"identifier": "this field is required",
				"password":   "this field is required",
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodPost
			}
			rec := app.do(t, method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_authApi_studentSignup(t *testing.T) {
	app := newTestApp(t)

	flow := startStudentSignup(t, app)
	assert.Equal(t, otpflow.StateCodeIssued, flow.Flow.State)
	assert.Equal(t, identity.RoleStudent, flow.Flow.Role)
	assert.Equal(t, studentEmail, flow.Flow.Email)
	assert.Len(t, flow.Code, app.conf.OTP.Length)

	// the code is emailed to the identity
	msg, ok := app.mailSvc.LastMessageTo(studentEmail)
	require.True(t, ok)
	assert.Contains(t, msg.TextContent, flow.Code)

	base := "/v1/auth/flows/" + flow.Flow.ID

	// password before verification
	rec := app.do(t, http.MethodPost, base+"/password", "", marchallObj(t, PasswordRequest{Password: goodPassword}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// malformed code: local validation
	rec = app.do(t, http.MethodPost, base+"/verify", "", marchallObj(t, VerifyRequest{Code: "12"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code"`)

	// wrong code
	rec = app.do(t, http.MethodPost, base+"/verify", "", marchallObj(t, VerifyRequest{Code: wrongCode(flow.Code)}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var vres VerifyResponse
	unmarshal(t, rec, &vres)
	assert.False(t, vres.Valid)
	assert.Equal(t, otpflow.StateCodeIssued, vres.Flow.State)

	// right code
	rec = app.do(t, http.MethodPost, base+"/verify", "", marchallObj(t, VerifyRequest{Code: flow.Code}))
	require.Equal(t, http.StatusOK, rec.Code)
	unmarshal(t, rec, &vres)
	assert.True(t, vres.Valid)
	assert.Equal(t, otpflow.StateVerified, vres.Flow.State)

	// password too short
	rec = app.do(t, http.MethodPost, base+"/password", "", marchallObj(t, PasswordRequest{Password: "12345"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, map[string]string{"password": "password must contain at least 6 characters"}),
	}, rec)

	// credential created & signed in
	rec = app.do(t, http.MethodPost, base+"/password", "", marchallObj(t, PasswordRequest{Password: goodPassword}))
	require.Equal(t, http.StatusOK, rec.Code)
	var sres SessionResponse
	unmarshal(t, rec, &sres)
	assert.NotEmpty(t, sres.Token)
	assert.Equal(t, studentEmail, sres.Credential.Email)
	assert.Equal(t, studentRegNo, sres.Credential.RegistrationNumber)
	assert.Equal(t, identity.RoleStudent, sres.Credential.Role)
	require.NotNil(t, sres.Flow)
	assert.Equal(t, otpflow.StatePasswordSet, sres.Flow.State)

	// terminal flow
	rec = app.do(t, http.MethodPost, base+"/back", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// sign in with any identifier
	for _, idf := range []string{studentEmail, strings.ToLower(studentRegNo), studentNumber} {
		rec = app.do(t, http.MethodPost, "/v1/auth/login", "", marchallObj(t, LoginRequest{Identifier: idf, Password: goodPassword}))
		assert.Equal(t, http.StatusOK, rec.Code, idf)
	}

	// a second signup of the same identity is redirected to sign in
	again := startStudentSignup(t, app)
	verifyCode(t, app, again.Flow.ID, again.Code)
	rec = app.do(t, http.MethodPost, "/v1/auth/flows/"+again.Flow.ID+"/password", "", marchallObj(t, PasswordRequest{Password: goodPassword}))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusConflict,
		wantData: marchallObj(t, echo.Map{
			"error":      identity.ErrCredentialExists.Error(),
			"identifier": studentEmail,
			"redirect":   "signin",
		}),
	}, rec)
}

func Test_authApi_lecturerSignup(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/v1/auth/signup/lecturer", "", marchallObj(t, identity.LecturerFields{Email: "Otieno.James@Lecturer.com"}))
	require.Equal(t, http.StatusCreated, rec.Code)
	var flow FlowResponse
	unmarshal(t, rec, &flow)
	assert.Equal(t, otpflow.StateAwaitingDetails, flow.Flow.State)
	assert.Equal(t, lecturerEmail, flow.Flow.Email)
	assert.Empty(t, flow.Code)

	base := "/v1/auth/flows/" + flow.Flow.ID

	rec = app.do(t, http.MethodPost, base+"/details", "", marchallObj(t, identity.LecturerDetails{FirstName: "James"}))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, map[string]string{
			"last_name":  "this field is required",
			"department": "this field is required",
		}),
	}, rec)

	rec = app.do(t, http.MethodPost, base+"/details", "", marchallObj(t, identity.LecturerDetails{
		FirstName: "James", LastName: "Otieno", Department: "Computer Science",
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	unmarshal(t, rec, &flow)
	assert.Equal(t, otpflow.StateCodeIssued, flow.Flow.State)

	// code submitted digit by digit
	digits := strings.Split(flow.Code, "")
	rec = app.do(t, http.MethodPost, base+"/verify", "", marchallObj(t, VerifyRequest{Digits: digits[:len(digits)-1]}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = app.do(t, http.MethodPost, base+"/verify", "", marchallObj(t, VerifyRequest{Digits: digits}))
	require.Equal(t, http.StatusOK, rec.Code)

	// mismatching confirmation
	rec = app.do(t, http.MethodPost, base+"/password", "", marchallObj(t, PasswordRequest{
		Password: goodPassword, PasswordConfirm: goodPassword + "!",
	}))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, map[string]string{"password_confirm": otpflow.ErrPasswordMismatch.Error()}),
	}, rec)

	rec = app.do(t, http.MethodPost, base+"/password", "", marchallObj(t, PasswordRequest{
		Password: goodPassword, PasswordConfirm: goodPassword,
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	var sres SessionResponse
	unmarshal(t, rec, &sres)
	assert.Equal(t, identity.RoleLecturer, sres.Credential.Role)
	assert.Equal(t, "James Otieno", sres.Credential.Name)
	assert.Equal(t, "Computer Science", sres.Credential.Department)
}

func Test_authApi_passwordReset(t *testing.T) {
	app := newTestApp(t)
	app.signUpStudent(t)

	fixCodes(t, "1111", "2222")

	rec := app.do(t, http.MethodPost, "/v1/auth/password-reset", "", marchallObj(t, ResetRequest{Identifier: studentNumber}))
	require.Equal(t, http.StatusCreated, rec.Code)
	var flow FlowResponse
	unmarshal(t, rec, &flow)
	assert.Equal(t, identity.PurposeReset, flow.Flow.Purpose)
	assert.Equal(t, otpflow.StateCodeIssued, flow.Flow.State)
	assert.Equal(t, "1111", flow.Code)

	base := "/v1/auth/flows/" + flow.Flow.ID

	// the account behind the identifier is not disclosed
	assert.Equal(t, "j***@students.campus.ac", flow.Flow.Email)
	assert.Empty(t, flow.Flow.Role)
	assert.NotContains(t, rec.Body.String(), studentEmail)
	rec = app.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), studentEmail)
	var raw map[string]map[string]interface{}
	unmarshal(t, rec, &raw)
	assert.NotContains(t, raw["flow"], "role")

	// resend supersedes the first code
	rec = app.do(t, http.MethodPost, base+"/resend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	unmarshal(t, rec, &flow)
	assert.Equal(t, 1, flow.Flow.Resends)
	assert.Equal(t, "2222", flow.Code)

	rec = app.do(t, http.MethodPost, base+"/verify", "", marchallObj(t, VerifyRequest{Code: "1111"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	verifyCode(t, app, flow.Flow.ID, "2222")

	// confirmation is required on reset
	newPassword := "purple-monkey-dishwasher"
	rec = app.do(t, http.MethodPost, base+"/password", "", marchallObj(t, PasswordRequest{Password: newPassword}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, base+"/password", "", marchallObj(t, PasswordRequest{
		Password: newPassword, PasswordConfirm: newPassword,
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	var sres SessionResponse
	unmarshal(t, rec, &sres)
	require.NotNil(t, sres.Flow)
	assert.True(t, sres.Flow.Done)

	tests := []httpTest{
		{
			name: "old password", body: marchallObj(t, LoginRequest{Identifier: studentEmail, Password: goodPassword}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: identity.ErrAuthenticationFailed.Error()}),
		},
		{
			name: "new password", body: marchallObj(t, LoginRequest{Identifier: studentEmail, Password: newPassword}),
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/v1/auth/login", "", tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_authApi_backAndAbandon(t *testing.T) {
	app := newTestApp(t)

	flow := startStudentSignup(t, app)
	base := "/v1/auth/flows/" + flow.Flow.ID

	rec := app.do(t, http.MethodPost, base+"/back", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res FlowResponse
	unmarshal(t, rec, &res)
	assert.Equal(t, otpflow.StateIdle, res.Flow.State)
	assert.Empty(t, res.Flow.Email)

	// the identity step again issues a new code
	rec = app.do(t, http.MethodPost, base+"/student", "", marchallObj(t, identity.StudentFields{
		RegistrationNumber: studentRegNo, StudentNumber: studentNumber, Email: studentEmail,
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	unmarshal(t, rec, &res)
	assert.Equal(t, otpflow.StateCodeIssued, res.Flow.State)
	assert.False(t, res.Flow.Done)

	rec = app.do(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	unmarshal(t, rec, &res)
	assert.Equal(t, otpflow.StateAbandoned, res.Flow.State)
	assert.True(t, res.Flow.Done)

	// abandoned flows accept nothing but another abandon
	rec = app.do(t, http.MethodPost, base+"/verify", "", marchallObj(t, VerifyRequest{Code: res.Code}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = app.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_authApi_codeLockout(t *testing.T) {
	app := newTestApp(t)

	flow := startStudentSignup(t, app)
	path := "/v1/auth/flows/" + flow.Flow.ID + "/verify"
	wrong := marchallObj(t, VerifyRequest{Code: wrongCode(flow.Code)})

	for i := 0; i < app.conf.OTP.MaxAttempts; i++ {
		rec := app.do(t, http.MethodPost, path, "", wrong)
		require.Equal(t, http.StatusBadRequest, rec.Code, "attempt %d", i+1)
	}

	// even the right code is refused while locked out
	rec := app.do(t, http.MethodPost, path, "", marchallObj(t, VerifyRequest{Code: flow.Code}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderRetryAfter))
}

func Test_authApi_metrics(t *testing.T) {
	app := newTestApp(t)
	startStudentSignup(t, app)

	req, rec := newRequest(http.MethodGet, "/metrics")
	app.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `campus_otp_codes_issued_total{purpose="signup"} 1`)
}

// wrongCode returns a well formed code different from code.
func wrongCode(code string) string {
	b := []byte(code)
	b[0] = '0' + (b[0]-'0'+1)%10
	return string(b)
}
