// Package auth models the server side of a login: refresh sessions and pending Google sign-ins.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// OAuthStateTTL bounds how long a user may take on the Google consent screen.
const OAuthStateTTL = 10 * time.Minute

var ErrNotFound = errors.New("not found")

type (
	// RefreshSession backs the refresh cookie. Its ID is the cookie value.
	RefreshSession struct {
		ID           string    `json:"id"`
		UserID       string    `json:"userId"`
		OrigIssuedAt time.Time `json:"origIssuedAt"`
		ExpiresAt    time.Time `json:"expiresAt"`
	}

	// OAuthState is kept between the authorization redirect and the Google callback.
	OAuthState struct {
		State     string    `json:"state"`
		Nonce     string    `json:"nonce"`
		ReturnTo  string    `json:"returnTo"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	// Store persists refresh sessions and OAuth states until they expire.
	Store interface {
		SaveSession(ctx context.Context, sess RefreshSession) error
		// GetSession fails with ErrNotFound for unknown and expired sessions.
		GetSession(ctx context.Context, id string) (RefreshSession, error)
		DeleteSession(ctx context.Context, id string) error
		SaveState(ctx context.Context, state OAuthState) error
		// PopState returns the state and deletes it, so a callback can only be replayed once.
		PopState(ctx context.Context, state string) (OAuthState, error)
	}
)

// NewRefreshSession starts a refresh window of ttl for userID.
func NewRefreshSession(userID string, ttl time.Duration) RefreshSession {
	now := time.Now().UTC()
	return RefreshSession{
		ID:           uuid.New().String(),
		UserID:       userID,
		OrigIssuedAt: now,
		ExpiresAt:    now.Add(ttl),
	}
}

func (s RefreshSession) Expired() bool { return !time.Now().Before(s.ExpiresAt) }

func (s OAuthState) Expired() bool { return !time.Now().Before(s.ExpiresAt) }

type (
	// ExternalIdentity is who an identity provider says signed in.
	ExternalIdentity struct {
		Subject string
		Email   string
		Name    string
	}

	// IdentityProvider runs the authorization code flow of an OpenID provider.
	IdentityProvider interface {
		// AuthCodeURL returns where to send the user. nonce is echoed back in the ID token.
		AuthCodeURL(state, nonce string) string
		// Exchange trades an authorization code for the verified identity. The ID token must carry nonce.
		Exchange(ctx context.Context, code, nonce string) (ExternalIdentity, error)
	}
)
