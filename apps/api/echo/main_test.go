package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/ieltstutor/apps/api/echo"
	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/auth"
	"github.com/trezcool/ieltstutor/core/user"
	"github.com/trezcool/ieltstutor/fs"
	"github.com/trezcool/ieltstutor/services/email"
	"github.com/trezcool/ieltstutor/services/logger"
	"github.com/trezcool/ieltstutor/storage/database/inmem"
	"github.com/trezcool/ieltstutor/storage/sessions"
)

const refreshCookie = "tutor_refresh"

var (
	errMissingToken = httpErr{Message: "missing or malformed jwt"}
	errInvalidToken = httpErr{Message: "invalid or expired jwt"}
)

type fakeGoogle struct {
	mu        sync.Mutex
	ident     auth.ExternalIdentity
	lastNonce string
}

func (g *fakeGoogle) AuthCodeURL(state, nonce string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastNonce = nonce
	return "https://accounts.google.test/o/oauth2/auth?" + url.Values{"state": {state}, "nonce": {nonce}}.Encode()
}

func (g *fakeGoogle) Exchange(_ context.Context, code, nonce string) (auth.ExternalIdentity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if code != "good-code" {
		return auth.ExternalIdentity{}, errors.New("invalid_grant")
	}
	if nonce != g.lastNonce {
		return auth.ExternalIdentity{}, errors.New("invalid nonce")
	}
	return g.ident, nil
}

type testApp struct {
	server *Server
	conf   *core.Config
	repo   user.Repository
	store  *sessions.MemoryStore
	mails  *emailsvc.ConsoleServiceMock
	google *fakeGoogle
}

type setupOption func(conf *core.Config, deps *ServerDeps)

func withPersonaHeaders(conf *core.Config, _ *ServerDeps) {
	conf.Debug = true
	conf.Auth.DevPersonaFallback = true
}

func withoutGoogle(_ *core.Config, deps *ServerDeps) {
	deps.Google = nil
}

func setup(t *testing.T, opts ...setupOption) *testApp {
	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "API : ", 0), conf)
	logger.Enable(false)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(appfs.FS, logger)
	core.ParseEmailTemplates(appfs.FS, logger, true)

	repo := inmemdb.NewUserRepository(inmemdb.Open())
	mails := emailsvc.NewConsoleServiceMock(conf, logger)
	store := sessions.NewMemoryStore()
	google := &fakeGoogle{ident: auth.ExternalIdentity{Subject: "g-1", Email: "gina@gmail.com", Name: "Gina Google"}}

	deps := ServerDeps{
		Conf:           conf,
		Logger:         logger,
		UserSvc:        user.NewServiceMock(repo, mails, conf),
		AuthStore:      store,
		Google:         google,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	}
	for _, opt := range opts {
		opt(conf, &deps)
	}

	return &testApp{
		server: NewServer(deps),
		conf:   conf,
		repo:   repo,
		store:  store,
		mails:  mails,
		google: google,
	}
}

func (app *testApp) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
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

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newRequest(method, path string, data ...[]byte) *http.Request {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	token, err := GenerateToken(conf, usr)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func getCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "code")
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

type sessionResponse struct {
	User        user.User `json:"user"`
	AccessToken string    `json:"accessToken"`
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var res sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decodeSession() failed: %v; body %s", err, rec.Body.String())
	}
	return res
}

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
