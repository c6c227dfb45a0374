package echoapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/auth"
	"github.com/trezcool/ieltstutor/core/user"
)

const (
	refreshCookieName = "tutor_refresh"
	refreshCookiePath = "/v1/auth"
)

var errGoogleFailed = echo.NewHTTPError(http.StatusBadRequest, "google sign-in failed")

type (
	authApi struct {
		deps   ServerDeps
		tokens *tokenIssuer
	}

	SessionResponse struct {
		User        user.User `json:"user"`
		AccessToken string    `json:"accessToken"`
	}

	GoogleResponse struct {
		AuthorizationURL string `json:"authorizationUrl"`
	}
)

func registerAuthAPI(g *echo.Group, deps ServerDeps, tokens *tokenIssuer) {
	api := authApi{deps: deps, tokens: tokens}

	ag := g.Group("/auth")
	ag.POST("/login", api.login)
	ag.POST("/register", api.register)
	ag.POST("/refresh", api.refresh)
	ag.POST("/logout", api.logout)
	ag.GET("/google", api.google)
	ag.GET("/google/callback", api.googleCallback)
}

// Handlers

func (api *authApi) login(ctx echo.Context) error {
	var data user.Credentials
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Credentials")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	usr, err := api.deps.UserSvc.Authenticate(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		switch errors.Cause(err) {
		case user.ErrInvalidCredentials:
			return errAuthenticationFailed
		case user.ErrAccountDeactivated:
			return errAccountDeactivated
		}
		return errors.Wrap(err, "authenticating")
	}
	return api.startSession(ctx, http.StatusOK, usr)
}

func (api *authApi) register(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	reqCtx := ctx.Request().Context()
	if err := data.Validate(reqCtx, api.deps.Validate, api.deps.UserSvc); err != nil {
		return err
	}

	usr, err := api.deps.UserSvc.Register(reqCtx, data)
	if err != nil {
		if errors.Cause(err) == user.ErrEmailExists {
			return core.NewValidationError(nil, core.FieldError{Field: "email", Error: user.ErrEmailExists.Error()})
		}
		return errors.Wrap(err, "registering user")
	}
	return api.startSession(ctx, http.StatusCreated, usr)
}

func (api *authApi) refresh(ctx echo.Context) error {
	cookie, err := ctx.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return errRefreshExpired
	}

	reqCtx := ctx.Request().Context()
	sess, err := api.deps.AuthStore.GetSession(reqCtx, cookie.Value)
	if err != nil {
		if errors.Cause(err) == auth.ErrNotFound {
			api.clearCookie(ctx)
			return errRefreshExpired
		}
		return errors.Wrap(err, "getting refresh session")
	}

	usr, err := api.deps.UserSvc.GetByID(reqCtx, sess.UserID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			api.endSession(ctx, sess.ID)
			return errRefreshExpired
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		api.endSession(ctx, sess.ID)
		return errAccountDeactivated
	}

	token, err := api.tokens.sign(api.tokens.claims(usr, sess.OrigIssuedAt))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, SessionResponse{User: usr, AccessToken: token})
}

func (api *authApi) logout(ctx echo.Context) error {
	if cookie, err := ctx.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		api.endSession(ctx, cookie.Value)
	} else {
		api.clearCookie(ctx)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authApi) google(ctx echo.Context) error {
	if api.deps.Google == nil {
		return errGoogleDisabled
	}

	nonce, err := randomString(32)
	if err != nil {
		return errors.Wrap(err, "generating nonce")
	}
	state := auth.OAuthState{
		State:     uuid.New().String(),
		Nonce:     nonce,
		ReturnTo:  api.safeReturnTo(ctx.QueryParam("returnTo")),
		ExpiresAt: time.Now().UTC().Add(auth.OAuthStateTTL),
	}
	if err = api.deps.AuthStore.SaveState(ctx.Request().Context(), state); err != nil {
		return errors.Wrap(err, "saving oauth state")
	}

	return ctx.JSON(http.StatusOK, GoogleResponse{
		AuthorizationURL: api.deps.Google.AuthCodeURL(state.State, state.Nonce),
	})
}

func (api *authApi) googleCallback(ctx echo.Context) error {
	if api.deps.Google == nil {
		return errGoogleDisabled
	}

	reqCtx := ctx.Request().Context()
	state, err := api.deps.AuthStore.PopState(reqCtx, ctx.QueryParam("state"))
	if err != nil {
		if errors.Cause(err) == auth.ErrNotFound {
			return errInvalidOAuthState
		}
		return errors.Wrap(err, "popping oauth state")
	}
	if ctx.QueryParam("error") != "" {
		return errGoogleFailed
	}

	ident, err := api.deps.Google.Exchange(reqCtx, ctx.QueryParam("code"), state.Nonce)
	if err != nil {
		api.deps.Logger.Warn("google code exchange failed", err)
		return errGoogleFailed
	}

	usr, created, err := api.deps.UserSvc.FindOrCreateByEmail(reqCtx, ident.Email, ident.Name)
	if err != nil {
		return errors.Wrap(err, "finding or creating google user")
	}
	if !usr.IsActive {
		return errAccountDeactivated
	}
	if created {
		api.deps.Logger.Info("created user from google sign-in", usr)
	}
	if usr, err = api.deps.UserSvc.SetLastLogin(reqCtx, usr); err != nil {
		return errors.Wrap(err, "setting lastLogin")
	}

	if _, err = api.newRefreshSession(ctx, usr); err != nil {
		return err
	}
	return ctx.Redirect(http.StatusFound, state.ReturnTo)
}

// Helpers

// startSession opens a refresh window for usr and answers with a fresh access token.
func (api *authApi) startSession(ctx echo.Context, code int, usr user.User) error {
	sess, err := api.newRefreshSession(ctx, usr)
	if err != nil {
		return err
	}
	token, err := api.tokens.sign(api.tokens.claims(usr, sess.OrigIssuedAt))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(code, SessionResponse{User: usr, AccessToken: token})
}

func (api *authApi) newRefreshSession(ctx echo.Context, usr user.User) (auth.RefreshSession, error) {
	sess := auth.NewRefreshSession(usr.ID, api.deps.Conf.Server.JWTRefreshExpirationDelta)
	if err := api.deps.AuthStore.SaveSession(ctx.Request().Context(), sess); err != nil {
		return auth.RefreshSession{}, errors.Wrap(err, "saving refresh session")
	}
	ctx.SetCookie(api.cookie(sess.ID, sess.ExpiresAt))
	return sess, nil
}

// endSession is best effort: the cookie is always cleared.
func (api *authApi) endSession(ctx echo.Context, id string) {
	if err := api.deps.AuthStore.DeleteSession(ctx.Request().Context(), id); err != nil {
		api.deps.Logger.Warn("deleting refresh session", err)
	}
	api.clearCookie(ctx)
}

func (api *authApi) clearCookie(ctx echo.Context) {
	cookie := api.cookie("", time.Unix(0, 0))
	cookie.MaxAge = -1
	ctx.SetCookie(cookie)
}

func (api *authApi) cookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     refreshCookiePath,
		Expires:  expires,
		HttpOnly: true,
		Secure:   api.deps.Conf.Server.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// safeReturnTo keeps redirects on the frontend. Relative paths are resolved against it.
func (api *authApi) safeReturnTo(returnTo string) string {
	base := strings.TrimSuffix(api.deps.Conf.FrontendBaseURL, "/")
	switch {
	case returnTo == "":
		return base
	case strings.HasPrefix(returnTo, "/") && !strings.HasPrefix(returnTo, "//"):
		return base + returnTo
	case returnTo == base || strings.HasPrefix(returnTo, base+"/"):
		return returnTo
	}
	return base
}
