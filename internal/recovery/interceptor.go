// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"github.com/labstack/echo/v4"
)

// Interceptor redirects recovery links arriving on an entry path to the
// canonical update page. It must be registered with echo's Pre so it runs
// before routing. It never contacts the identity backend.
func Interceptor(rules Rules) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			code := c.QueryParam("code")
			if code == "" || !rules.Match(c.Request().URL.Path) {
				return next(c)
			}

			codeType := c.QueryParam("type")
			slog.Info("recovery_redirect",
				"path", c.Request().URL.Path,
				"code", identity.MaskCode(code),
				"type", codeType,
			)
			// The code is in Location; keep it out of caches and Referer.
			h := c.Response().Header()
			h.Set(echo.HeaderCacheControl, "no-store")
			h.Set(echo.HeaderReferrerPolicy, "no-referrer")
			return c.Redirect(http.StatusSeeOther, rules.Target(code, codeType))
		}
	}
}
