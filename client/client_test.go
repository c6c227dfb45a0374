package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/ieltstutor/core/persona"
	"github.com/trezcool/ieltstutor/core/session"
)

// fakeAuth is an Authorizer with scripted tokens.
type fakeAuth struct {
	mu        sync.Mutex
	token     string
	refreshed string
	refErr    error
	refreshes int32
	clears    int32
}

func (a *fakeAuth) AccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *fakeAuth) RefreshAccessToken(context.Context) (string, error) {
	atomic.AddInt32(&a.refreshes, 1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refErr != nil {
		return "", a.refErr
	}
	a.token = a.refreshed
	return a.refreshed, nil
}

func (a *fakeAuth) ClearSession() {
	atomic.AddInt32(&a.clears, 1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
}

type recordedRequest struct {
	method  string
	path    string
	headers http.Header
	body    string
}

type recorder struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (r *recorder) record(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, recordedRequest{
		method:  req.Method,
		path:    req.URL.RequestURI(),
		headers: req.Header.Clone(),
		body:    string(body),
	})
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.reqs...)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) (*Client, *recorder) {
	rec := new(recorder)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	c, err := New(opts)
	require.NoError(t, err)
	return c, rec
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_ResolveURL(t *testing.T) {
	c, err := New(Options{BaseURL: "http://api.test/"})
	require.NoError(t, err)

	tests := []struct {
		endpoint string
		want     string
	}{
		{endpoint: "/users/me", want: "http://api.test/v1/users/me"},
		{endpoint: "users/me", want: "http://api.test/v1/users/me"},
		{endpoint: "/v1/users/me", want: "http://api.test/v1/users/me"},
		{endpoint: "/v1", want: "http://api.test/v1"},
		{endpoint: "/v10/stats", want: "http://api.test/v1/v10/stats"},
		{endpoint: "/users?ordering=-name", want: "http://api.test/v1/users?ordering=-name"},
		{endpoint: "https://cdn.test/file.json", want: "https://cdn.test/file.json"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ResolveURL(tt.endpoint))
		})
	}
}

func TestClient_BearerToken(t *testing.T) {
	auth := &fakeAuth{token: "tok1"}
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "u1"})
	}, Options{Authorizer: auth})

	var out struct{ ID string }
	require.NoError(t, c.Get(context.Background(), "/users/me", &out))
	assert.Equal(t, "u1", out.ID)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/users/me", reqs[0].path)
	assert.Equal(t, "Bearer tok1", reqs[0].headers.Get("Authorization"))
	assert.Equal(t, "application/json", reqs[0].headers.Get("Content-Type"))
	assert.Empty(t, reqs[0].headers.Get(HeaderUserRole))
}

func TestClient_PersonaHeaders(t *testing.T) {
	teacherSnap := []byte(`{"mode":"persona","token":"persona:teacher","persona":{"basePersona":"teacher","actingPersona":null}}`)
	adminAsStudent := []byte(`{"mode":"persona","token":"persona:admin","persona":{"basePersona":"admin","actingPersona":"student"}}`)
	unknownPersona := []byte(`{"mode":"persona","token":"persona:x","persona":{"basePersona":"wizard"}}`)
	noToken := []byte(`{"mode":"persona","token":null,"persona":{"basePersona":"teacher"}}`)
	live := []byte(`{"mode":"live","token":"tok1","liveUser":{"id":"u1","role":"teacher"}}`)

	tests := []struct {
		name     string
		fallback bool
		stored   []byte
		token    string
		wantID   string
		wantRole string
		wantAuth string
	}{
		{
			name: "fallback on, persona teacher", fallback: true, stored: teacherSnap,
			wantID: persona.Teacher.Fixture().ID, wantRole: "teacher",
		},
		{
			name: "fallback on, admin viewing as student", fallback: true, stored: adminAsStudent,
			wantID: persona.Student.Fixture().ID, wantRole: "student",
		},
		{
			name: "fallback on, unknown persona uses default", fallback: true, stored: unknownPersona,
			wantID: persona.Default.Fixture().ID, wantRole: string(persona.Default),
		},
		{name: "fallback on, persona without token", fallback: true, stored: noToken},
		{name: "fallback on, live snapshot without bearer", fallback: true, stored: live},
		{name: "fallback on, corrupt snapshot", fallback: true, stored: []byte("{nope")},
		{name: "fallback off", stored: teacherSnap},
		{name: "bearer wins", fallback: true, stored: teacherSnap, token: "tok9", wantAuth: "Bearer tok9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := session.NewMemoryStorage()
			require.NoError(t, storage.Set(session.StorageKey, tt.stored))

			c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}, Options{
				Authorizer:         &fakeAuth{token: tt.token},
				Storage:            storage,
				DevPersonaFallback: tt.fallback,
			})
			require.NoError(t, c.Get(context.Background(), "/users/me", nil))

			reqs := rec.all()
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.wantID, reqs[0].headers.Get(HeaderUserID))
			assert.Equal(t, tt.wantRole, reqs[0].headers.Get(HeaderUserRole))
			assert.Equal(t, tt.wantAuth, reqs[0].headers.Get("Authorization"))
		})
	}
}

func TestClient_RefreshAndRetryOnce(t *testing.T) {
	auth := &fakeAuth{token: "expired", refreshed: "fresh"}
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid or expired jwt"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	}, Options{Authorizer: auth})

	var out map[string]string
	err := c.Post(context.Background(), "/essays", map[string]string{"title": "Task 2"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "yes", out["ok"])

	reqs := rec.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer expired", reqs[0].headers.Get("Authorization"))
	assert.Equal(t, "Bearer fresh", reqs[1].headers.Get("Authorization"))
	assert.JSONEq(t, reqs[0].body, reqs[1].body)
	assert.EqualValues(t, 1, atomic.LoadInt32(&auth.refreshes))
	assert.Zero(t, atomic.LoadInt32(&auth.clears))
}

func TestClient_SecondUnauthorizedIsReturned(t *testing.T) {
	auth := &fakeAuth{token: "expired", refreshed: "also-rejected"}
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid or expired jwt"})
	}, Options{Authorizer: auth})

	err := c.Get(context.Background(), "/users/me", nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Len(t, rec.all(), 2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&auth.refreshes))
}

func TestClient_FailedRefreshClearsSession(t *testing.T) {
	tests := []struct {
		name string
		auth *fakeAuth
	}{
		{name: "no token", auth: &fakeAuth{token: "expired"}},
		{name: "refresh error", auth: &fakeAuth{token: "expired", refErr: errors.New("refresh session expired")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid or expired jwt"})
			}, Options{Authorizer: tt.auth})

			err := c.Get(context.Background(), "/users/me", nil)
			apiErr, ok := AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
			assert.Equal(t, "invalid or expired jwt", apiErr.Message)
			assert.Len(t, rec.all(), 1)
			assert.EqualValues(t, 1, atomic.LoadInt32(&tt.auth.clears))
		})
	}
}

func TestClient_SupersededRefreshKeepsSession(t *testing.T) {
	auth := &fakeAuth{token: "expired", refErr: errors.Wrap(ErrRefreshSuperseded, "refreshing")}
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid or expired jwt"})
	}, Options{Authorizer: auth})

	err := c.Get(context.Background(), "/users/me", nil)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Len(t, rec.all(), 1)
	assert.Zero(t, atomic.LoadInt32(&auth.clears))
	assert.Equal(t, "expired", auth.AccessToken())
}

func TestClient_UnauthorizedWithoutBearer(t *testing.T) {
	storage := session.NewMemoryStorage()
	require.NoError(t, session.Save(storage, session.PersonaSession(persona.Teacher)))

	for _, fallback := range []bool{false, true} {
		auth := &fakeAuth{refreshed: "should-not-be-used"}
		c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "user not authenticated"})
		}, Options{Authorizer: auth, Storage: storage, DevPersonaFallback: fallback})

		err := c.Get(context.Background(), "/users/me", nil)
		assert.True(t, IsStatus(err, http.StatusUnauthorized))
		assert.Len(t, rec.all(), 1)
		assert.Zero(t, atomic.LoadInt32(&auth.refreshes))
		assert.Zero(t, atomic.LoadInt32(&auth.clears))
	}
}

func TestClient_ConcurrentUnauthorizedShareRefresh(t *testing.T) {
	bridge := NewBridge()
	var (
		refreshes int32
		mu        sync.Mutex
		token     = "expired"
		release   = make(chan struct{})
		once      sync.Once
		result    string
	)
	// coalesce by hand, the way a session owner does
	bridge.Configure(BridgeHandlers{
		AccessToken: func() string {
			mu.Lock()
			defer mu.Unlock()
			return token
		},
		RefreshAccessToken: func(context.Context) (string, error) {
			once.Do(func() {
				atomic.AddInt32(&refreshes, 1)
				<-release
				mu.Lock()
				token = "fresh"
				result = token
				mu.Unlock()
			})
			mu.Lock()
			defer mu.Unlock()
			return result, nil
		},
	})

	var unauthorized int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer fresh" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		atomic.AddInt32(&unauthorized, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}, Options{Authorizer: bridge})

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Get(context.Background(), "/users/me", nil)
		}(i)
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&unauthorized) == n }, 5*time.Second, 10*time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&refreshes))
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		contentType string
		body        string
		wantMsg     string
		wantPayload interface{}
	}{
		{
			name: "json message", code: http.StatusBadRequest, contentType: "application/json",
			body:    `{"message":"invalid input","fields":{"email":"enter a valid email address"}}`,
			wantMsg: "invalid input",
			wantPayload: map[string]interface{}{
				"message": "invalid input",
				"fields":  map[string]interface{}{"email": "enter a valid email address"},
			},
		},
		{
			name: "json without message", code: http.StatusConflict, contentType: "application/json",
			body: `{"error":"taken"}`, wantMsg: `{"error":"taken"}`,
			wantPayload: map[string]interface{}{"error": "taken"},
		},
		{name: "raw text", code: http.StatusBadGateway, contentType: "text/plain", body: "upstream down", wantMsg: "upstream down", wantPayload: "upstream down"},
		{name: "empty body", code: http.StatusServiceUnavailable, wantMsg: "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.WriteHeader(tt.code)
				_, _ = io.WriteString(w, tt.body)
			}, Options{})

			err := c.Get(context.Background(), "/courses", nil)
			apiErr, ok := AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.wantPayload, apiErr.Payload)
		})
	}
}

func TestAPIError_Fields(t *testing.T) {
	apiErr := newAPIError(http.StatusBadRequest, []byte(`{"message":"invalid input","fields":{"email":"taken"}}`))
	assert.Equal(t, map[string]string{"email": "taken"}, apiErr.Fields())
	assert.True(t, IsClientError(apiErr))
	assert.Nil(t, newAPIError(http.StatusInternalServerError, nil).Fields())
	assert.False(t, IsClientError(newAPIError(http.StatusInternalServerError, nil)))
}

func TestClient_NoContentAndSkipJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/logout" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>not json</html>")
	}, Options{})

	out := map[string]string{"untouched": "yes"}
	require.NoError(t, c.Post(context.Background(), "/auth/logout", nil, &out))
	assert.Equal(t, map[string]string{"untouched": "yes"}, out)

	require.NoError(t, c.Do(context.Background(), "/health", RequestOptions{SkipJSON: true}, &out))
	assert.Error(t, c.Get(context.Background(), "/health", &out))
}

func TestClient_HeaderPrecedence(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, Options{Authorizer: &fakeAuth{token: "tok1"}})

	err := c.Do(context.Background(), "/uploads", RequestOptions{
		Method: http.MethodPut,
		Body:   []byte("raw"),
		Headers: map[string]string{
			"content-type":  "text/plain",
			"Authorization": "Bearer spoofed",
			"X-Request-Id":  "abc",
		},
	}, nil)
	require.NoError(t, err)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].method)
	assert.Equal(t, "raw", reqs[0].body)
	assert.Equal(t, "text/plain", reqs[0].headers.Get("Content-Type"))
	assert.Equal(t, "Bearer tok1", reqs[0].headers.Get("Authorization"))
	assert.Equal(t, "abc", reqs[0].headers.Get("X-Request-Id"))
}

func TestClient_Cancellation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Get(ctx, "/slow", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
