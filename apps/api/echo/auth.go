package echoapi

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/ieltstutor/core"
	"github.com/trezcool/ieltstutor/core/persona"
	"github.com/trezcool/ieltstutor/core/user"
)

const (
	contextTokenKey   = "userToken"
	contextUserKey    = "user"
	contextPersonaKey = "persona"

	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"

	tokenAudience = "ielts-tutor"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
}

type tokenIssuer struct {
	conf       *core.Config
	signingKey []byte
}

func newTokenIssuer(conf *core.Config) *tokenIssuer {
	return &tokenIssuer{conf: conf, signingKey: []byte(conf.SecretKey)}
}

func (ti *tokenIssuer) middlewareConfig() middleware.JWTConfig {
	return middleware.JWTConfig{
		// persona requests are already authenticated
		Skipper: func(ctx echo.Context) bool {
			_, ok := ctx.Get(contextUserKey).(user.User)
			return ok
		},
		SigningKey:    ti.signingKey,
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

// claims builds the token claims for usr. origIat is the start of the refresh window.
func (ti *tokenIssuer) claims(usr user.User, origIat time.Time) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    ti.conf.AppName,
			Subject:   usr.ID,
			Audience:  tokenAudience,
			ExpiresAt: now.Add(ti.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: origIat.Unix(),
		Name:         usr.Name,
		Email:        usr.Email,
		Role:         usr.Role,
	}
}

func (ti *tokenIssuer) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(middleware.AlgorithmHS256), claims)
	ss, err := token.SignedString(ti.signingKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// GenerateToken signs an access token for usr with the server's secret.
func GenerateToken(conf *core.Config, usr user.User) (string, error) {
	ti := newTokenIssuer(conf)
	return ti.sign(ti.claims(usr, time.Now()))
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextUser returns the persona user or the (still active) owner of the JWT.
func getContextUser(ctx echo.Context, svc user.Service) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.User{}, err
	}
	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return user.User{}, errAccountDeactivated
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

func personaUser(f persona.Fixture) user.User {
	return user.User{ID: f.ID, Name: f.Name, Email: f.Email, Role: f.Role, IsActive: true}
}

// personaMiddleware authenticates requests that carry persona headers instead of a bearer token.
// It is a no-op unless enabled.
func personaMiddleware(enabled bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			if !enabled || req.Header.Get(echo.HeaderAuthorization) != "" {
				return next(ctx)
			}
			role := req.Header.Get(headerUserRole)
			if role == "" {
				return next(ctx)
			}

			key, ok := persona.Parse(role)
			if !ok {
				return errUnauthorized
			}
			fixture := key.Fixture()
			if id := req.Header.Get(headerUserID); id != "" && id != fixture.ID {
				return errUnauthorized
			}
			ctx.Set(contextUserKey, personaUser(fixture))
			ctx.Set(contextPersonaKey, key)
			return next(ctx)
		}
	}
}

func adminMiddleware(svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if !usr.IsAdmin() {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

// randomString returns n random bytes, base64url encoded.
func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "reading random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
