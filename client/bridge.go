package client

import (
	"context"
	"sync"
)

// Authorizer supplies and recovers the bearer token used by Client.
type Authorizer interface {
	// AccessToken returns the current bearer token, or "" when there is none.
	AccessToken() string
	// RefreshAccessToken obtains a new token. It returns "" when no session could be refreshed.
	RefreshAccessToken(ctx context.Context) (string, error)
	// ClearSession drops the local session after an unrecoverable 401.
	ClearSession()
}

// BridgeHandlers are the functions a Bridge delegates to. Nil fields are left untouched by Configure.
type BridgeHandlers struct {
	AccessToken        func() string
	RefreshAccessToken func(ctx context.Context) (string, error)
	ClearSession       func()
}

// Bridge is an Authorizer whose behavior is plugged in by the session owner.
// Until configured it has no token, refreshes to nothing and clears nothing.
type Bridge struct {
	mu       sync.RWMutex
	handlers BridgeHandlers
}

var _ Authorizer = (*Bridge)(nil)

func NewBridge() *Bridge {
	return &Bridge{handlers: inertHandlers()}
}

func inertHandlers() BridgeHandlers {
	return BridgeHandlers{
		AccessToken:        func() string { return "" },
		RefreshAccessToken: func(context.Context) (string, error) { return "", nil },
		ClearSession:       func() {},
	}
}

// Configure overrides the given handlers and keeps the others.
func (b *Bridge) Configure(h BridgeHandlers) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h.AccessToken != nil {
		b.handlers.AccessToken = h.AccessToken
	}
	if h.RefreshAccessToken != nil {
		b.handlers.RefreshAccessToken = h.RefreshAccessToken
	}
	if h.ClearSession != nil {
		b.handlers.ClearSession = h.ClearSession
	}
}

// Reset restores the inert handlers so a torn down owner is never called again.
func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = inertHandlers()
}

func (b *Bridge) current() BridgeHandlers {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers
}

func (b *Bridge) AccessToken() string {
	return b.current().AccessToken()
}

func (b *Bridge) RefreshAccessToken(ctx context.Context) (string, error) {
	return b.current().RefreshAccessToken(ctx)
}

func (b *Bridge) ClearSession() {
	b.current().ClearSession()
}
