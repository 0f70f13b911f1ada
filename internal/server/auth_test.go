// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/oliverandrich/taxijobs/internal/appcontext"
	"codeberg.org/oliverandrich/taxijobs/internal/config"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/services/session"
	"codeberg.org/oliverandrich/taxijobs/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHashKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestSessions(t *testing.T) *session.Manager {
	t.Helper()
	sessMgr, err := session.NewManager(&config.SessionConfig{
		CookieName: "_session",
		MaxAge:     3600,
		HashKey:    testHashKey,
	}, false)
	require.NoError(t, err)
	return sessMgr
}

func sessionCookie(t *testing.T, sessMgr *session.Manager, token string) *http.Cookie {
	t.Helper()
	cookie, err := sessMgr.Create(testutil.TestSession(token))
	require.NoError(t, err)
	return cookie
}

// newGatedEcho serves /protected behind RequireSession and records the
// session the handler saw.
func newGatedEcho(sessMgr *session.Manager, idp identity.Service, seen **identity.Session) *echo.Echo {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&appcontext.Context{Context: c})
		}
	})
	e.GET("/protected", func(c echo.Context) error {
		*seen = appcontext.SessionFrom(c)
		return c.String(http.StatusOK, "protected content")
	}, RequireSession(sessMgr, idp))
	return e
}

func TestRequireSession_NoCookie(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	var seen *identity.Session
	e := newGatedEcho(newTestSessions(t), idp, &seen)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/signin?next=%2Fprotected", rec.Header().Get("Location"))
	assert.Equal(t, 0, idp.Calls("GetCurrentSession"))
	assert.Nil(t, seen)
}

func TestRequireSession_NoCookieHtmx(t *testing.T) {
	var seen *identity.Session
	e := newGatedEcho(newTestSessions(t), testutil.NewFakeIdentity(), &seen)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/auth/signin?next=%2Fprotected", rec.Header().Get("HX-Redirect"))
	assert.NotContains(t, rec.Body.String(), "protected content")
}

func TestRequireSession_Valid(t *testing.T) {
	sessMgr := newTestSessions(t)
	idp := testutil.NewFakeIdentity()
	var seen *identity.Session
	e := newGatedEcho(sessMgr, idp, &seen)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(sessionCookie(t, sessMgr, "live-token"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "protected content", rec.Body.String())
	assert.Equal(t, 1, idp.Calls("GetCurrentSession"))
	require.NotNil(t, seen)
	assert.Equal(t, "live-token", seen.AccessToken)
}

func TestRequireSession_RevokedSession(t *testing.T) {
	sessMgr := newTestSessions(t)
	idp := testutil.NewFakeIdentity()
	idp.SessionFunc = func(_ context.Context, _ string) (*identity.Session, error) {
		return nil, nil
	}
	var seen *identity.Session
	e := newGatedEcho(sessMgr, idp, &seen)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(sessionCookie(t, sessMgr, "revoked-token"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Nil(t, seen)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, "_session", cleared[0].Name)
	assert.Negative(t, cleared[0].MaxAge)
}

func TestRequireSession_BackendErrorFailsClosed(t *testing.T) {
	sessMgr := newTestSessions(t)
	idp := testutil.NewFakeIdentity()
	idp.SessionFunc = func(_ context.Context, _ string) (*identity.Session, error) {
		return nil, errors.New("connection refused")
	}
	var seen *identity.Session
	e := newGatedEcho(sessMgr, idp, &seen)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(sessionCookie(t, sessMgr, "token"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.NotContains(t, rec.Body.String(), "protected content")
	assert.Nil(t, seen)
}

func TestRequireSession_TamperedCookie(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	var seen *identity.Session
	e := newGatedEcho(newTestSessions(t), idp, &seen)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "_session", Value: "invalid-cookie-data"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 0, idp.Calls("GetCurrentSession"))
}

func TestSessionMiddleware(t *testing.T) {
	sessMgr := newTestSessions(t)

	e := echo.New()
	e.Use(sessionMiddleware(sessMgr))

	var seen *identity.Session
	e.GET("/", func(c echo.Context) error {
		seen = appcontext.SessionFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	t.Run("with cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(sessionCookie(t, sessMgr, "token"))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.NotNil(t, seen)
		assert.Equal(t, "driver@example.com", seen.Email)
	})

	t.Run("without cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Nil(t, seen)
	})
}
