package server

import (
	"context"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/wellsession/internal/runtime"
	"github.com/mohammad-safakhou/wellsession/internal/session"
	"github.com/mohammad-safakhou/wellsession/internal/store"
)

const (
	minPasswordLen = 6
	// bcrypt only reads the first 72 bytes and rejects anything longer.
	maxPasswordBytes = 72
)

// UserStore is the account persistence the auth handlers need.
type UserStore interface {
	CreateUser(ctx context.Context, u store.User) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, bool, error)
	GetUserByID(ctx context.Context, id string) (store.User, bool, error)
}

// TokenRevoker revokes issued tokens until they expire.
type TokenRevoker interface {
	runtime.Revoker
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// LoginThrottle limits repeated failed logins per email.
type LoginThrottle interface {
	Locked(ctx context.Context, email string) (bool, time.Duration, error)
	Fail(ctx context.Context, email string) error
	Reset(ctx context.Context, email string) error
}

type AuthHandler struct {
	Store        UserStore
	Secret       []byte
	TTL          time.Duration
	CookieName   string
	SecureCookie bool
	Revoker      TokenRevoker  // optional
	Throttle     LoginThrottle // optional
	Logger       zerolog.Logger
}

func (a *AuthHandler) Register(g *echo.Group, authMW echo.MiddlewareFunc) {
	g.POST("/register", a.register)
	g.POST("/login", a.login)
	g.POST("/logout", a.logout, runtime.EchoOptionalAuth(a.Secret, a.CookieName))
	g.GET("/me", a.me, authMW)
}

// Register
//
//	@Summary		User registration
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AuthRegisterRequest	true	"Register payload"
//	@Success		201		{object}	TokenResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		409		{object}	HTTPError
//	@Router			/api/v1/register [post]
func (a *AuthHandler) register(c echo.Context) error {
	var req AuthRegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = normalizeEmail(req.Email)

	fields := map[string]string{}
	if req.FirstName == "" {
		fields["first_name"] = "first name is required"
	}
	if req.LastName == "" {
		fields["last_name"] = "last name is required"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil || req.Email == "" {
		fields["email"] = "must be a valid email"
	}
	switch {
	case len(req.Password) < minPasswordLen:
		fields["password"] = "password must be at least " + strconv.Itoa(minPasswordLen) + " characters"
	case len(req.Password) > maxPasswordBytes:
		fields["password"] = "password must be at most " + strconv.Itoa(maxPasswordBytes) + " bytes"
	}
	if len(fields) > 0 {
		return &session.ValidationError{Fields: fields}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u, err := a.Store.CreateUser(c.Request().Context(), store.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return err
	}
	a.Logger.Info().Str("user_id", u.ID).Msg("user registered")
	return a.issue(c, http.StatusCreated, u)
}

// Login
//
//	@Summary		Login
//	@Description	Returns the JWT in an httpOnly cookie and in the body for Bearer flows
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AuthLoginRequest	true	"Login payload"
//	@Success		200		{object}	TokenResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		429		{object}	HTTPError
//	@Router			/api/v1/login [post]
func (a *AuthHandler) login(c echo.Context) error {
	var req AuthLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	ctx := c.Request().Context()

	if a.Throttle != nil {
		locked, wait, err := a.Throttle.Locked(ctx, email)
		if err != nil {
			return err
		}
		if locked {
			if wait > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second).Seconds())))
			}
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed login attempts")
		}
	}

	u, ok, err := a.Store.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		if a.Throttle != nil {
			if err := a.Throttle.Fail(ctx, email); err != nil {
				a.Logger.Warn().Err(err).Msg("record failed login")
			}
		}
		return echo.NewHTTPError(http.StatusBadRequest, "email or password do not match")
	}
	if a.Throttle != nil {
		if err := a.Throttle.Reset(ctx, email); err != nil {
			a.Logger.Warn().Err(err).Msg("reset failed logins")
		}
	}
	return a.issue(c, http.StatusOK, u)
}

func (a *AuthHandler) issue(c echo.Context, status int, u store.User) error {
	signed, claims, err := runtime.SignJWT(u.ID, a.Secret, a.TTL)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     a.CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		HttpOnly: true,
		Secure:   a.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	c.Response().Header().Set("Authorization", "Bearer "+signed)
	return c.JSON(status, TokenResponse{Success: true, AccessToken: signed, User: toUserResponse(u)})
}

// Logout
//
//	@Summary	Logout
//	@Description	Revokes the presented token and clears the cookie
//	@Tags		auth
//	@Produce	json
//	@Success	200	{object}	map[string]bool
//	@Router		/api/v1/logout [post]
func (a *AuthHandler) logout(c echo.Context) error {
	if claims, ok := runtime.ClaimsFromContext(c.Request().Context()); ok && a.Revoker != nil && claims.ExpiresAt != nil {
		if err := a.Revoker.Revoke(c.Request().Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			return err
		}
	}
	c.SetCookie(&http.Cookie{
		Name:     a.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// Me
//
//	@Summary	Current user
//	@Tags		auth
//	@Produce	json
//	@Success	200	{object}	MeResponse
//	@Failure	401	{object}	HTTPError
//	@Router		/api/v1/me [get]
func (a *AuthHandler) me(c echo.Context) error {
	userID, err := ownerID(c)
	if err != nil {
		return err
	}
	u, ok, err := a.Store.GetUserByID(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown user").SetInternal(runtime.ErrUnauthorized)
	}
	return c.JSON(http.StatusOK, MeResponse{Success: true, User: toUserResponse(u)})
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ownerID is the authenticated caller, set by the auth middleware.
func ownerID(c echo.Context) (string, error) {
	if id, ok := runtime.SubjectFromContext(c.Request().Context()); ok {
		return id, nil
	}
	if id, ok := c.Get("user_id").(string); ok && id != "" {
		return id, nil
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, "unauthorized").SetInternal(runtime.ErrUnauthorized)
}
