// Package googlesvc signs users in with Google.
package googlesvc

import (
	"context"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/auth"
)

var (
	scopes = []string{gooidc.ScopeOpenID, "email", "profile"}

	errInvalidNonce       = errors.New("invalid nonce")
	errEmailNotVerified   = errors.New("email not verified")
	errMissingIDToken     = errors.New("missing id_token in token response")
	errMissingCode        = errors.New("authorization code is required")
	errMissingNonce       = errors.New("nonce is required")
	errProviderNotEnabled = errors.New("google sign-in is not configured")
)

// Provider is the auth.IdentityProvider for Google, or any OpenID provider at IssuerURL.
type Provider struct {
	config     *oauth2.Config
	verifier   *gooidc.IDTokenVerifier
	httpClient *http.Client
}

var _ auth.IdentityProvider = (*Provider)(nil)

type idTokenClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Nonce         string `json:"nonce"`
}

// NewProvider discovers the provider's endpoints. httpClient may be nil.
// ctx must outlive the Provider: signing keys are fetched with it.
func NewProvider(ctx context.Context, conf core.GoogleConfig, httpClient *http.Client) (*Provider, error) {
	if conf.ClientID == "" || conf.ClientSecret == "" || conf.RedirectURL == "" {
		return nil, errProviderNotEnabled
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	ctx = gooidc.ClientContext(ctx, httpClient)
	op, err := gooidc.NewProvider(ctx, strings.TrimSuffix(conf.IssuerURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "discovering openid provider")
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     conf.ClientID,
			ClientSecret: conf.ClientSecret,
			RedirectURL:  conf.RedirectURL,
			Scopes:       scopes,
			Endpoint:     op.Endpoint(),
		},
		verifier:   op.Verifier(&gooidc.Config{ClientID: conf.ClientID}),
		httpClient: httpClient,
	}, nil
}

func (p *Provider) AuthCodeURL(state, nonce string) string {
	return p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

func (p *Provider) Exchange(ctx context.Context, code, nonce string) (auth.ExternalIdentity, error) {
	if code == "" {
		return auth.ExternalIdentity{}, errMissingCode
	}
	if nonce == "" {
		return auth.ExternalIdentity{}, errMissingNonce
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return auth.ExternalIdentity{}, errors.Wrap(err, "exchanging code for token")
	}
	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return auth.ExternalIdentity{}, errMissingIDToken
	}

	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return auth.ExternalIdentity{}, errors.Wrap(err, "verifying id_token")
	}
	var claims idTokenClaims
	if err = idTok.Claims(&claims); err != nil {
		return auth.ExternalIdentity{}, errors.Wrap(err, "parsing id_token claims")
	}
	if claims.Nonce != nonce {
		return auth.ExternalIdentity{}, errInvalidNonce
	}
	if claims.Email == "" || !claims.EmailVerified {
		return auth.ExternalIdentity{}, errEmailNotVerified
	}

	return auth.ExternalIdentity{
		Subject: claims.Subject,
		Email:   core.CleanString(claims.Email, true /* lower */),
		Name:    core.CleanString(claims.Name),
	}, nil
}
