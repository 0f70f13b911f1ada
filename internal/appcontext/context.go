// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package appcontext provides the custom Echo context and context keys.
package appcontext

import (
	"context"

	"codeberg.org/oliverandrich/taxijobs/internal/htmx"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"github.com/labstack/echo/v4"
)

// Context keys for storing values in context.Context.
type (
	// CSRFToken is the context key for the CSRF token.
	CSRFToken struct{}
	// CSSPath is the context key for the CSS path.
	CSSPath struct{}
	// JSPath is the context key for the script path.
	JSPath struct{}
	// Session is the context key for the identity session.
	Session struct{}
)

// Assets holds paths to static assets.
type Assets struct {
	CSSPath string
	JSPath  string
}

// Context is a custom Echo context with typed fields for htmx, assets, and
// the identity session.
type Context struct {
	echo.Context
	Htmx    *htmx.Request
	Assets  *Assets
	Session *identity.Session // nil if not signed in
}

// GetSession returns the identity session, or nil if not signed in.
func (c *Context) GetSession() *identity.Session {
	return c.Session
}

// IsAuthenticated returns true if a session is present.
func (c *Context) IsAuthenticated() bool {
	return c.Session != nil
}

// SetSession stores s on the echo context and in the request context so
// templates can reach it.
func SetSession(c echo.Context, s *identity.Session) {
	if cc, ok := c.(*Context); ok {
		cc.Session = s
	}
	ctx := context.WithValue(c.Request().Context(), Session{}, s)
	c.SetRequest(c.Request().WithContext(ctx))
}

// SessionFrom returns the session stored by SetSession, or nil.
func SessionFrom(c echo.Context) *identity.Session {
	if cc, ok := c.(*Context); ok && cc.Session != nil {
		return cc.Session
	}
	return SessionFromContext(c.Request().Context())
}

// SessionFromContext returns the session stored in ctx, or nil.
func SessionFromContext(ctx context.Context) *identity.Session {
	if s, ok := ctx.Value(Session{}).(*identity.Session); ok {
		return s
	}
	return nil
}
