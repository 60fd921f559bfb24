package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/wellsession/internal/pagination"
	"github.com/mohammad-safakhou/wellsession/internal/runtime"
	"github.com/mohammad-safakhou/wellsession/internal/session"
	"github.com/mohammad-safakhou/wellsession/internal/store"
)

// errorHandler maps domain errors to the JSON error envelope. Only server
// faults are logged with their cause; the client sees a generic message.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		body := toHTTPError(err)
		req := c.Request()
		if body.Code >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("ip", c.RealIP()).
				Int("status", body.Code).
				Msg("request failed")
		} else {
			logger.Debug().Err(err).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", body.Code).
				Msg("request rejected")
		}
		if req.Method == http.MethodHead {
			_ = c.NoContent(body.Code)
			return
		}
		_ = c.JSON(body.Code, body)
	}
}

func toHTTPError(err error) HTTPError {
	var (
		ve    *session.ValidationError
		infra *session.InfrastructureError
		he    *echo.HTTPError
	)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return HTTPError{Error: session.ErrNotFound.Error(), Code: http.StatusNotFound}
	case errors.As(err, &ve):
		return HTTPError{Error: "validation failed", Code: http.StatusBadRequest, Fields: ve.Fields}
	case errors.Is(err, pagination.ErrInvalidCursor):
		return HTTPError{Error: "invalid cursor", Code: http.StatusBadRequest, Fields: map[string]string{"cursor": "invalid cursor"}}
	case errors.Is(err, store.ErrEmailTaken):
		return HTTPError{Error: "email already registered", Code: http.StatusConflict}
	case errors.As(err, &infra):
		return HTTPError{Error: http.StatusText(http.StatusInternalServerError), Code: http.StatusInternalServerError}
	case errors.As(err, &he):
		code := he.Code
		msg := http.StatusText(code)
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		if code >= http.StatusInternalServerError {
			msg = http.StatusText(code)
		}
		return HTTPError{Error: msg, Code: code}
	case errors.Is(err, runtime.ErrUnauthorized):
		return HTTPError{Error: "unauthorized", Code: http.StatusUnauthorized}
	default:
		return HTTPError{Error: http.StatusText(http.StatusInternalServerError), Code: http.StatusInternalServerError}
	}
}
