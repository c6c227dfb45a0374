// Package client is the HTTP client every feature uses to talk to the IELTS Tutor API.
//
// It picks the authorization for each request (bearer token, persona headers
// or nothing) and recovers from an expired access token with a single
// refresh and retry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"

	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/session"
)

const (
	apiVersionPrefix = "/v1"

	HeaderUserID   = "x-user-id"
	HeaderUserRole = "x-user-role"

	defaultTimeout = 30 * time.Second
)

type (
	Options struct {
		// BaseURL roots relative endpoints, e.g. `http://localhost:8000`.
		BaseURL string
		// HTTPClient defaults to a client with a cookie jar, which the refresh cookie needs.
		HTTPClient *http.Client
		// Authorizer defaults to an inert Bridge.
		Authorizer Authorizer
		// Storage holds the persisted session snapshot. Only read for persona headers.
		Storage session.Storage
		// DevPersonaFallback sends persona headers when there is no bearer token and a persona session is stored.
		DevPersonaFallback bool
		Logger             core.Logger
	}

	// RequestOptions customize a single call.
	RequestOptions struct {
		Method string // GET when empty
		// Body is sent as JSON. A []byte is sent as is.
		Body    interface{}
		Headers map[string]string
		// SkipJSON skips decoding the response body.
		SkipJSON bool
	}

	Client struct {
		baseURL         string
		http            *http.Client
		auth            Authorizer
		storage         session.Storage
		personaFallback bool
		logger          core.Logger
	}
)

// NewHTTPClient returns an http.Client whose jar keeps cookies per registrable domain.
func NewHTTPClient(jar http.CookieJar, timeout time.Duration) (*http.Client, error) {
	if jar == nil {
		var err error
		if jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err != nil {
			return nil, errors.Wrap(err, "creating cookie jar")
		}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Jar: jar, Timeout: timeout}, nil
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		var err error
		if httpClient, err = NewHTTPClient(nil, defaultTimeout); err != nil {
			return nil, err
		}
	}
	auth := opts.Authorizer
	if auth == nil {
		auth = NewBridge()
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		http:            httpClient,
		auth:            auth,
		storage:         opts.Storage,
		personaFallback: opts.DevPersonaFallback,
		logger:          logger,
	}, nil
}

// WithAuthorizer returns a copy of c using auth. The copy shares the HTTP client and its cookies.
func (c *Client) WithAuthorizer(auth Authorizer) *Client {
	cp := *c
	if auth == nil {
		auth = NewBridge()
	}
	cp.auth = auth
	return &cp
}

// ResolveURL roots a relative endpoint at the API base and the version prefix. Absolute URLs are kept.
func (c *Client) ResolveURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	if !hasVersionPrefix(endpoint) {
		endpoint = apiVersionPrefix + endpoint
	}
	return c.baseURL + endpoint
}

func hasVersionPrefix(p string) bool {
	if !strings.HasPrefix(p, apiVersionPrefix) {
		return false
	}
	rest := p[len(apiVersionPrefix):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}

// authHeaders returns the headers authorizing a request, and whether they carry a bearer token.
func (c *Client) authHeaders() (map[string]string, bool) {
	if token := c.auth.AccessToken(); token != "" {
		return map[string]string{"Authorization": "Bearer " + token}, true
	}
	if !c.personaFallback || c.storage == nil {
		return nil, false
	}

	snap, err := session.Load(c.storage)
	if err != nil {
		c.logger.Debug("reading persisted session for persona headers", err)
	}
	if snap.Mode != session.ModePersona || snap.Token == nil {
		return nil, false
	}
	fixture := snap.Identity.Acting().Fixture()
	return map[string]string{
		HeaderUserID:   fixture.ID,
		HeaderUserRole: fixture.Role,
	}, false
}

// Do sends a request to endpoint and decodes a JSON response into out (when out is not nil).
// A 401 on a bearer authorized request is retried once after refreshing the token.
// Non-2xx responses are returned as *APIError.
func (c *Client) Do(ctx context.Context, endpoint string, opts RequestOptions, out interface{}) error {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.ResolveURL(endpoint)

	var payload []byte
	switch b := opts.Body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}
	authHdrs, bearer := c.authHeaders()
	for k, v := range authHdrs {
		headers.Set(k, v)
	}

	status, body, err := c.send(ctx, method, target, payload, headers)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && bearer {
		token, rErr := c.auth.RefreshAccessToken(ctx)
		if rErr != nil && ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "waiting for token refresh")
		}
		if errors.Cause(rErr) == ErrRefreshSuperseded {
			return newAPIError(status, body)
		}
		if rErr != nil || token == "" {
			if rErr != nil {
				c.logger.Warn("token refresh failed", rErr)
			}
			c.auth.ClearSession()
			return newAPIError(status, body)
		}

		headers.Set("Authorization", "Bearer "+token)
		if status, body, err = c.send(ctx, method, target, payload, headers); err != nil {
			return err
		}
	}

	if status < 200 || status > 299 {
		return newAPIError(status, body)
	}
	if status == http.StatusNoContent || opts.SkipJSON || out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(body, out), "decoding response body")
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte, headers http.Header) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "building request")
	}
	req.Header = headers.Clone()

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s", method, target)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "reading response body")
	}
	return res.StatusCode, data, nil
}

// Get is Do with GET.
func (c *Client) Get(ctx context.Context, endpoint string, out interface{}) error {
	return c.Do(ctx, endpoint, RequestOptions{Method: http.MethodGet}, out)
}

// Post is Do with POST and a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body, out interface{}) error {
	return c.Do(ctx, endpoint, RequestOptions{Method: http.MethodPost, Body: body}, out)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}
