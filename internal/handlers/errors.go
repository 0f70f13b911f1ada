// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/taxijobs/internal/templates"
	"github.com/labstack/echo/v4"
)

// ErrorHandler renders error pages for errors returned by handlers and
// middleware.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
	}

	if code >= http.StatusInternalServerError {
		slog.Error("request_failed", "path", c.Request().URL.Path, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}

	if renderErr := Render(c, code, templates.Error(templates.ErrorPage{
		Code:      code,
		MessageID: errorMessageID(code),
	})); renderErr != nil {
		slog.Error("failed to render error page", "error", renderErr)
		_ = c.String(code, http.StatusText(code))
	}
}

func errorMessageID(code int) string {
	switch code {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return "error_not_found"
	case http.StatusUnauthorized:
		return "signin_required"
	case http.StatusForbidden, http.StatusBadRequest:
		return "error_forbidden"
	default:
		return "error_internal"
	}
}
