package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ErrUnauthorized is the cause carried by every rejected request.
var ErrUnauthorized = errors.New("unauthorized")

// Revoker reports whether a token id has been revoked.
type Revoker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// SignJWT issues an HS256 token for subject with a fresh token id.
func SignJWT(subject string, secret []byte, ttl time.Duration) (string, jwt.RegisteredClaims, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", jwt.RegisteredClaims{}, err
	}
	return signed, claims, nil
}

// ParseJWT verifies tok and returns its claims. Only HS256 is accepted and
// the subject must be a user id.
func ParseJWT(tok string, secret []byte) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// EchoAuthMiddleware validates the token from the Authorization header or
// the auth cookie and stores the subject on the request context. rev may
// be nil.
func EchoAuthMiddleware(secret []byte, cookieName string, rev Revoker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c, cookieName)
			if tok == "" {
				return unauthorized("missing token")
			}
			claims, err := ParseJWT(tok, secret)
			if err != nil {
				return unauthorized("invalid token")
			}
			if rev != nil && claims.ID != "" {
				revoked, err := rev.IsRevoked(c.Request().Context(), claims.ID)
				if err != nil {
					return err
				}
				if revoked {
					return unauthorized("token revoked")
				}
			}
			withClaims(c, claims)
			return next(c)
		}
	}
}

// EchoOptionalAuth stores the claims of a valid token when one is
// presented and lets every request through.
func EchoOptionalAuth(secret []byte, cookieName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tok := extractToken(c, cookieName); tok != "" {
				if claims, err := ParseJWT(tok, secret); err == nil {
					withClaims(c, claims)
				}
			}
			return next(c)
		}
	}
}

func withClaims(c echo.Context, claims *jwt.RegisteredClaims) {
	reqCtx := context.WithValue(c.Request().Context(), subjectKey{}, claims.Subject)
	reqCtx = context.WithValue(reqCtx, claimsKey{}, claims)
	c.Set("user_id", claims.Subject)
	c.SetRequest(c.Request().WithContext(reqCtx))
}

func unauthorized(msg string) error {
	return echo.NewHTTPError(http.StatusUnauthorized, msg).SetInternal(ErrUnauthorized)
}

func extractToken(c echo.Context, cookieName string) string {
	if h := c.Request().Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if cookieName == "" {
		return ""
	}
	if ck, err := c.Cookie(cookieName); err == nil {
		return ck.Value
	}
	return ""
}

type subjectKey struct{}

type claimsKey struct{}

// SubjectFromContext returns the JWT subject if stored in context via middleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v := ctx.Value(subjectKey{}); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// ClaimsFromContext returns the verified token claims of the request.
func ClaimsFromContext(ctx context.Context) (*jwt.RegisteredClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsKey{}).(*jwt.RegisteredClaims)
	return claims, ok
}
