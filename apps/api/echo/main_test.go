package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
	"github.com/trezcool/campus/core/otpflow"
	"github.com/trezcool/campus/core/session"
	emailsvc "github.com/trezcool/campus/services/email"
	logsvc "github.com/trezcool/campus/services/logger"
	metricsvc "github.com/trezcool/campus/services/metrics"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

var errMissingTokenRes = httpErr{Error: "missing or malformed jwt"}

const (
	studentRegNo  = "SCT211-0001/2020"
	studentNumber = "20200001"
	studentEmail  = "jane.wanjiru@students.campus.ac"
	lecturerEmail = "otieno.james@lecturer.com"
	goodPassword  = "correct-horse-battery"
)

type testApp struct {
	conf     *core.Config
	server   Server
	svc      *identity.Service
	repo     identity.Repository
	mailSvc  *emailsvc.ConsoleService
	sessions *session.Issuer
	registry *prometheus.Registry
}

// newTestApp wires a Server on in-memory stores. Issued codes are returned in responses.
func newTestApp(t *testing.T) *testApp {
	t.Helper()

	conf := core.NewTestConfig()
	conf.OTP.ExposeCode = true

	logger := logsvc.NewRollbarLogger(logsvc.NewZerolog(conf, io.Discard), conf)
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	identity.InitValidators(validate, translator)

	repo := inmemdb.NewIdentityRepository()
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	sessions := session.NewIssuer(conf)
	registry := prometheus.NewRegistry()

	svc := identity.NewService(identity.ServiceDeps{
		Repo:     repo,
		Lockout:  identity.NewMemoryLockout(conf.OTP.MaxAttempts, conf.OTP.Cooldown),
		MailSvc:  mailSvc,
		Sessions: sessions,
		Metrics:  metricsvc.NewCollector(registry),
		Logger:   logger,
		Conf:     conf,
		Validate: validate,
	})
	flows := otpflow.NewManager(otpflow.NewMemoryStore(), svc, conf, logger)

	_, err := svc.ImportIdentities(context.Background(), []identity.UserIdentity{{
		ID:                 uuid.NewString(),
		RegistrationNumber: studentRegNo,
		StudentNumber:      studentNumber,
		Email:              studentEmail,
		FullName:           "Jane Wanjiru",
		Role:               identity.RoleStudent,
	}})
	if err != nil {
		t.Fatalf("ImportIdentities(): %v", err)
	}

	server := NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Identity:   svc,
		Flows:      flows,
		Sessions:   sessions,
		Validate:   validate,
		Translator: translator,
		Metrics:    registry,
	})

	return &testApp{
		conf:     conf,
		server:   server,
		svc:      svc,
		repo:     repo,
		mailSvc:  mailSvc,
		sessions: sessions,
		registry: registry,
	}
}

func (app *testApp) do(t *testing.T, method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	t.Helper()
	req, rec := newAuthRequest(method, path, token, data...)
	app.server.ServeHTTP(rec, req)
	return rec
}

// signUpStudent runs a full student signup and returns the opened session token.
func (app *testApp) signUpStudent(t *testing.T) string {
	t.Helper()
	flow := startStudentSignup(t, app)
	verifyCode(t, app, flow.Flow.ID, flow.Code)
	rec := app.do(t, http.MethodPost, "/v1/auth/flows/"+flow.Flow.ID+"/password", "",
		marchallObj(t, PasswordRequest{Password: goodPassword, PasswordConfirm: goodPassword}))
	if rec.Code != http.StatusOK {
		t.Fatalf("setting password: code = %d; body %s", rec.Code, rec.Body.String())
	}
	var sess SessionResponse
	unmarshal(t, rec, &sess)
	return sess.Token
}

func startStudentSignup(t *testing.T, app *testApp) FlowResponse {
	t.Helper()
	rec := app.do(t, http.MethodPost, "/v1/auth/signup/student", "", marchallObj(t, identity.StudentFields{
		RegistrationNumber: studentRegNo,
		StudentNumber:      studentNumber,
		Email:              studentEmail,
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("starting student signup: code = %d; body %s", rec.Code, rec.Body.String())
	}
	var res FlowResponse
	unmarshal(t, rec, &res)
	return res
}

// fixCodes makes the service issue codes in order.
func fixCodes(t *testing.T, codes ...string) {
	t.Helper()
	generate := identity.GenerateCodeFunc
	i := 0
	identity.GenerateCodeFunc = func(n int) (string, error) {
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
	t.Cleanup(func() { identity.GenerateCodeFunc = generate })
}

func verifyCode(t *testing.T, app *testApp, flowID, code string) {
	t.Helper()
	rec := app.do(t, http.MethodPost, "/v1/auth/flows/"+flowID+"/verify", "", marchallObj(t, VerifyRequest{Code: code}))
	if rec.Code != http.StatusOK {
		t.Fatalf("verifying code: code = %d; body %s", rec.Code, rec.Body.String())
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("json.Unmarshal(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	return false, nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
