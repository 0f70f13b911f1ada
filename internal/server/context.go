// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"log/slog"

	"codeberg.org/oliverandrich/taxijobs/internal/appcontext"
	"codeberg.org/oliverandrich/taxijobs/internal/assets"
	"codeberg.org/oliverandrich/taxijobs/internal/htmx"
	"github.com/labstack/echo/v4"
)

// findAssets resolves the fingerprinted paths of the embedded static files.
func findAssets() *appcontext.Assets {
	a := &appcontext.Assets{
		CSSPath: assets.CSSPath(),
		JSPath:  assets.JSPath(),
	}
	slog.Debug("assets_resolved", "css", a.CSSPath, "js", a.JSPath)
	return a
}

// customContext hands handlers an *appcontext.Context carrying the parsed
// htmx headers and asset paths. Views read the asset paths from the request
// context instead.
func customContext(a *appcontext.Assets) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := context.WithValue(req.Context(), appcontext.CSSPath{}, a.CSSPath)
			ctx = context.WithValue(ctx, appcontext.JSPath{}, a.JSPath)
			c.SetRequest(req.WithContext(ctx))

			return next(&appcontext.Context{
				Context: c,
				Htmx:    htmx.ParseRequest(c.Request()),
				Assets:  a,
			})
		}
	}
}
