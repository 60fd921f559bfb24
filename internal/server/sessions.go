package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/wellsession/internal/pagination"
	"github.com/mohammad-safakhou/wellsession/internal/session"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// SessionService is the session store as seen by the handlers.
type SessionService interface {
	SaveDraft(ctx context.Context, ownerID string, d session.Draft) (session.Session, error)
	Publish(ctx context.Context, id, ownerID string) (session.Session, error)
	GetOwned(ctx context.Context, id, ownerID string) (session.Session, error)
	ListOwned(ctx context.Context, ownerID string, req pagination.Request) (pagination.Page[session.Session], error)
	ListPublished(ctx context.Context, req pagination.Request) (pagination.Page[session.Session], error)
	Search(ctx context.Context, query string, limit int) ([]session.Session, error)
}

type SessionsHandler struct {
	Sessions SessionService
	Limits   pagination.Limits
}

// Register mounts the session routes. Every route requires authentication.
func (h *SessionsHandler) Register(g *echo.Group, authMW echo.MiddlewareFunc) {
	mine := g.Group("/my-sessions", authMW)
	mine.POST("/save-draft", h.saveDraft)
	mine.POST("/publish", h.publish)
	mine.GET("", h.listOwned)
	mine.GET("/:id", h.getOwned)

	public := g.Group("/sessions", authMW)
	public.GET("", h.listPublished)
	public.GET("/search", h.search)
}

// SaveDraft
//
//	@Summary		Save a draft
//	@Description	Creates a draft, or updates the caller's session in place and returns it to draft
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		SaveDraftRequest	true	"Draft payload"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		404		{object}	HTTPError
//	@Router			/api/v1/my-sessions/save-draft [post]
func (h *SessionsHandler) saveDraft(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	var req SaveDraftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s, err := h.Sessions.SaveDraft(c.Request().Context(), owner, req.draft())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionResponse{Success: true, Session: s})
}

// Publish
//
//	@Summary	Publish a session
//	@Tags		sessions
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		PublishRequest	true	"Publish payload"
//	@Success	200		{object}	SessionResponse
//	@Failure	400		{object}	HTTPError
//	@Failure	404		{object}	HTTPError
//	@Router		/api/v1/my-sessions/publish [post]
func (h *SessionsHandler) publish(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	var req PublishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	s, err := h.Sessions.Publish(c.Request().Context(), strings.TrimSpace(req.SessionID), owner)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionResponse{Success: true, Session: s})
}

func (h *SessionsHandler) getOwned(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	s, err := h.Sessions.GetOwned(c.Request().Context(), c.Param("id"), owner)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionResponse{Success: true, Session: s})
}

// ListOwned
//
//	@Summary	List the caller's sessions
//	@Tags		sessions
//	@Produce	json
//	@Param		cursor	query		string	false	"cursor from a previous page"
//	@Param		limit	query		int		false	"page size"
//	@Success	200		{object}	SessionPageResponse
//	@Router		/api/v1/my-sessions [get]
func (h *SessionsHandler) listOwned(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	req, err := pagination.NewRequest(c.QueryParam("cursor"), c.QueryParam("limit"), h.Limits)
	if err != nil {
		return err
	}
	page, err := h.Sessions.ListOwned(c.Request().Context(), owner, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPageResponse(page))
}

// ListPublished
//
//	@Summary	List published sessions
//	@Tags		sessions
//	@Produce	json
//	@Param		cursor	query		string	false	"cursor from a previous page"
//	@Param		limit	query		int		false	"page size"
//	@Success	200		{object}	SessionPageResponse
//	@Router		/api/v1/sessions [get]
func (h *SessionsHandler) listPublished(c echo.Context) error {
	req, err := pagination.NewRequest(c.QueryParam("cursor"), c.QueryParam("limit"), h.Limits)
	if err != nil {
		return err
	}
	page, err := h.Sessions.ListPublished(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPageResponse(page))
}

func (h *SessionsHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	limit := defaultSearchLimit
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		limit = n
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	hits, err := h.Sessions.Search(c.Request().Context(), q, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SearchResponse{Success: true, Sessions: hits})
}
