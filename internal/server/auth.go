// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"log/slog"
	"net/url"

	"codeberg.org/oliverandrich/taxijobs/internal/appcontext"
	"codeberg.org/oliverandrich/taxijobs/internal/handlers"
	"codeberg.org/oliverandrich/taxijobs/internal/htmx"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/services/session"
	"github.com/labstack/echo/v4"
)

// sessionMiddleware decodes the session cookie into the request context so
// templates can render the signed-in navigation. The session is not checked
// against the identity backend here.
func sessionMiddleware(sessions *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if data := sessions.Parse(c.Request()); data != nil {
				appcontext.SetSession(c, data.Session())
			}
			return next(c)
		}
	}
}

// RequireSession admits only requests whose session the identity backend
// confirms. Any doubt clears the cookie and sends the visitor to sign in.
func RequireSession(sessions *session.Manager, idp identity.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			data := sessions.Parse(c.Request())
			if data == nil {
				return redirectToSignIn(c)
			}

			s, err := idp.GetCurrentSession(c.Request().Context(), data.AccessToken)
			if err != nil || s == nil {
				if err != nil {
					slog.Warn("session_check_failed", "user_id", data.UserID, "error", err)
				}
				c.SetCookie(sessions.Clear())
				appcontext.SetSession(c, nil)
				return redirectToSignIn(c)
			}
			if s.Email == "" {
				s.Email = data.Email
			}

			appcontext.SetSession(c, s)
			return next(c)
		}
	}
}

func redirectToSignIn(c echo.Context) error {
	target := handlers.SignInPath + "?next=" + url.QueryEscape(c.Request().URL.RequestURI())
	return htmx.Redirect(c, target)
}
