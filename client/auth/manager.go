// Package auth owns the client side session: who is signed in, how, and as whom.
//
// Manager is the only writer of the persisted session snapshot. It plugs
// itself into a client.Bridge so the request client can read the current
// token and trigger refreshes without depending on this package.
package auth

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/ieltstutor/client"
	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/persona"
	"github.com/trezcool/ieltstutor/core/session"
)

const refreshKey = "refresh"

type (
	Options struct {
		// API is the client used for the auth endpoints. Its own Authorizer is ignored.
		API     *client.Client
		Storage session.Storage
		// Bridge is configured with the Manager's handlers. A new one is created when nil.
		Bridge *client.Bridge
		// DevPersonaFallback allows persona sessions when live login fails with demo credentials.
		DevPersonaFallback bool
		Logger             core.Logger
	}

	RegisterPayload struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}

	// CurrentUser is the identity the app acts as.
	CurrentUser struct {
		ID    string
		Email string
		Name  string
		Role  string
		Mode  session.Mode
		// BaseRole differs from Role while an admin persona is viewing as another role.
		BaseRole      string
		Impersonating bool
	}

	Manager struct {
		api             *client.Client
		storage         session.Storage
		bridge          *client.Bridge
		personaFallback bool
		logger          core.Logger

		mu   sync.RWMutex
		snap session.Snapshot
		// gen changes whenever the session is replaced by something other than a refresh,
		// so a refresh that lands late never resurrects a session the user left.
		gen uint64

		refreshGroup singleflight.Group
	}

	credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	sessionResponse struct {
		User        session.LiveUser `json:"user"`
		AccessToken string           `json:"accessToken"`
	}

	googleResponse struct {
		AuthorizationURL string `json:"authorizationUrl"`
	}
)

var errNoAccessToken = errors.New("response has no access token")

// NewManager loads the persisted session and registers the Manager on the bridge.
func NewManager(opts Options) (*Manager, error) {
	if opts.API == nil {
		return nil, errors.New("api client is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("session storage is required")
	}
	bridge := opts.Bridge
	if bridge == nil {
		bridge = client.NewBridge()
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	m := &Manager{
		// auth endpoints are called anonymously, a 401 there must never recurse into a refresh
		api:             opts.API.WithAuthorizer(nil),
		storage:         opts.Storage,
		bridge:          bridge,
		personaFallback: opts.DevPersonaFallback,
		logger:          logger,
	}

	snap, err := session.Load(opts.Storage)
	if err != nil {
		logger.Warn("ignoring unreadable session snapshot", err)
	}
	if snap.Mode == session.ModePersona && snap.IsAuthenticated() && !m.personaFallback {
		logger.Info("dropping persona session: persona fallback is disabled")
		snap = session.Default()
	}
	m.snap = snap

	bridge.Configure(client.BridgeHandlers{
		AccessToken:        m.AccessToken,
		RefreshAccessToken: m.RefreshAccessToken,
		ClearSession:       m.ClearSession,
	})
	return m, nil
}

// Close detaches the Manager from its bridge.
func (m *Manager) Close() {
	m.bridge.Reset()
}

// Bridge returns the bridge the Manager is registered on.
func (m *Manager) Bridge() *client.Bridge { return m.bridge }

// Snapshot returns the current session.
func (m *Manager) Snapshot() session.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Manager) IsAuthenticated() bool {
	return m.Snapshot().IsAuthenticated()
}

// AccessToken returns the live bearer token, or "" outside of a live session.
func (m *Manager) AccessToken() string {
	return m.Snapshot().BearerToken()
}

// CurrentUser returns who the app acts as. ok is false when signed out.
func (m *Manager) CurrentUser() (CurrentUser, bool) {
	snap := m.Snapshot()
	if !snap.IsAuthenticated() {
		return CurrentUser{}, false
	}
	if snap.Mode == session.ModeLive && snap.LiveUser != nil {
		u := snap.LiveUser
		return CurrentUser{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, BaseRole: u.Role, Mode: session.ModeLive}, true
	}

	f := snap.Identity.Acting().Fixture()
	return CurrentUser{
		ID:            f.ID,
		Email:         f.Email,
		Name:          f.Name,
		Role:          f.Role,
		Mode:          session.ModePersona,
		BaseRole:      snap.Identity.Base().String(),
		Impersonating: snap.Identity.IsImpersonating(),
	}, true
}

// replace swaps the whole snapshot and persists it. Must be called with mu held.
func (m *Manager) replace(snap session.Snapshot, bumpGen bool) {
	m.snap = snap
	if bumpGen {
		m.gen++
	}
	if err := session.Save(m.storage, snap); err != nil {
		m.logger.Error("persisting session snapshot", err)
	}
}

func (m *Manager) set(snap session.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replace(snap, true)
}

func (m *Manager) adoptLive(res sessionResponse) {
	m.set(session.Live(res.AccessToken, res.User))
}

// ClearSession signs out locally without telling the backend.
func (m *Manager) ClearSession() {
	m.set(session.Default())
}

// Login exchanges credentials for a live session and returns session.ModeLive.
// Any 4xx yields session.ModeNone and no error, so a wrong password and an unknown email look the same.
// With the persona fallback on, a failed login using a persona's email and the demo password
// starts that persona's session and returns session.ModePersona instead.
func (m *Manager) Login(ctx context.Context, email, password string) (session.Mode, error) {
	var res sessionResponse
	err := m.api.Post(ctx, "/auth/login", credentials{Email: email, Password: password}, &res)
	if err == nil && res.AccessToken == "" {
		err = errNoAccessToken
	}
	if err == nil {
		m.adoptLive(res)
		return session.ModeLive, nil
	}
	if ctx.Err() != nil {
		return session.ModeNone, errors.Wrap(err, "logging in")
	}

	if m.personaFallback {
		if k, ok := persona.MatchCredentials(email, password); ok {
			m.logger.Info("live login failed, using persona "+k.String(), err)
			m.set(session.PersonaSession(k))
			return session.ModePersona, nil
		}
	}

	m.ClearSession()
	if client.IsClientError(err) {
		return session.ModeNone, nil
	}
	return session.ModeNone, errors.Wrap(err, "logging in")
}

// Register creates an account and starts its live session. Validation failures are returned as *client.APIError.
func (m *Manager) Register(ctx context.Context, payload RegisterPayload) (session.LiveUser, error) {
	var res sessionResponse
	if err := m.api.Post(ctx, "/auth/register", payload, &res); err != nil {
		return session.LiveUser{}, errors.Wrap(err, "registering")
	}
	if res.AccessToken == "" {
		return session.LiveUser{}, errors.Wrap(errNoAccessToken, "registering")
	}
	m.adoptLive(res)
	return res.User, nil
}

// LoginWithGoogle returns the Google authorization URL to send the user to.
// Once Google redirects back to the app, CompleteGoogleLogin materializes the session.
func (m *Manager) LoginWithGoogle(ctx context.Context, returnTo string) (string, error) {
	endpoint := "/auth/google"
	if returnTo != "" {
		endpoint += "?" + url.Values{"returnTo": {returnTo}}.Encode()
	}
	var res googleResponse
	if err := m.api.Get(ctx, endpoint, &res); err != nil {
		return "", errors.Wrap(err, "starting google login")
	}
	if res.AuthorizationURL == "" {
		return "", errors.New("starting google login: no authorization url")
	}
	return res.AuthorizationURL, nil
}

// CompleteGoogleLogin picks up the session the Google callback left in the refresh cookie.
func (m *Manager) CompleteGoogleLogin(ctx context.Context) (session.LiveUser, error) {
	res, err := m.sharedRefresh(ctx)
	if err != nil {
		return session.LiveUser{}, &OAuthError{Err: err}
	}
	return res.User, nil
}

// Logout ends the session. The backend is told on a best effort basis; Logout itself never fails.
func (m *Manager) Logout(ctx context.Context) {
	if m.Snapshot().Mode == session.ModeLive {
		if err := m.api.Do(ctx, "/auth/logout", client.RequestOptions{Method: http.MethodPost, SkipJSON: true}, nil); err != nil {
			m.logger.Warn("backend logout failed", err)
		}
	}
	m.ClearSession()
}

// RefreshAccessToken gets a new access token from the refresh cookie.
// Concurrent callers share one request. A failed refresh ends the session.
// Outside of a live session it returns "" without calling the backend.
// When a login or logout lands while the refresh is in flight, the newer session wins:
// its token is returned if it is live, client.ErrRefreshSuperseded otherwise.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	if m.Snapshot().Mode != session.ModeLive {
		return "", nil
	}
	res, err := m.sharedRefresh(ctx)
	if errors.Cause(err) == client.ErrRefreshSuperseded {
		if token := m.AccessToken(); token != "" {
			return token, nil
		}
		return "", err
	}
	if err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

// sharedRefresh runs at most one refresh at a time. The request is detached from ctx so one caller
// giving up does not fail the others; ctx only bounds how long this caller waits.
func (m *Manager) sharedRefresh(ctx context.Context) (sessionResponse, error) {
	m.mu.RLock()
	gen := m.gen
	m.mu.RUnlock()

	ch := m.refreshGroup.DoChan(refreshKey, func() (interface{}, error) {
		return m.refresh(context.WithoutCancel(ctx), gen)
	})
	select {
	case <-ctx.Done():
		return sessionResponse{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return sessionResponse{}, r.Err
		}
		return r.Val.(sessionResponse), nil
	}
}

func (m *Manager) refresh(ctx context.Context, gen uint64) (sessionResponse, error) {
	var res sessionResponse
	err := m.api.Post(ctx, "/auth/refresh", nil, &res)
	if err == nil && res.AccessToken == "" {
		err = errNoAccessToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		return sessionResponse{}, client.ErrRefreshSuperseded
	}
	if err != nil {
		m.logger.Warn("refreshing access token", err)
		m.replace(session.Default(), true)
		return sessionResponse{}, errors.Wrap(err, "refreshing access token")
	}
	m.replace(session.Live(res.AccessToken, res.User), false)
	return res, nil
}

// ViewAs makes an admin persona act as role. It reports whether anything changed;
// outside of an admin persona session it does nothing.
func (m *Manager) ViewAs(role persona.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap.Mode != session.ModePersona || !m.snap.IsAuthenticated() {
		return false
	}
	id, ok := m.snap.Identity.Impersonate(role)
	if !ok {
		return false
	}
	m.replace(m.snap.WithIdentity(id), false)
	return true
}

// SwitchRole is ViewAs.
func (m *Manager) SwitchRole(role persona.Key) bool {
	return m.ViewAs(role)
}

// StopImpersonating returns an admin persona to acting as admin.
func (m *Manager) StopImpersonating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap.Mode != session.ModePersona || !m.snap.Identity.IsImpersonating() {
		return false
	}
	m.replace(m.snap.WithIdentity(m.snap.Identity.StopImpersonating()), false)
	return true
}
