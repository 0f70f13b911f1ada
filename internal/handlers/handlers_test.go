// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/appcontext"
	"codeberg.org/oliverandrich/taxijobs/internal/config"
	"codeberg.org/oliverandrich/taxijobs/internal/handlers"
	"codeberg.org/oliverandrich/taxijobs/internal/i18n"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/services/session"
	"codeberg.org/oliverandrich/taxijobs/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func init() {
	// Initialize i18n for template rendering
	_ = i18n.Init()
}

const testHashKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = handlers.NewValidator()
	return e
}

// newContext creates an echo context for an English request.
func newContext(e *echo.Echo, method, target string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := testutil.NewRequest(method, target, body)
	req = req.WithContext(i18n.WithLocale(req.Context(), language.English))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func newSessions(t *testing.T) *session.Manager {
	t.Helper()
	mgr, err := session.NewManager(&config.SessionConfig{
		CookieName: "_session",
		MaxAge:     3600,
		HashKey:    testHashKey,
	}, false)
	require.NoError(t, err)
	return mgr
}

func TestNew(t *testing.T) {
	db, _ := testutil.NewTestDB(t)

	h := handlers.New(db)

	assert.NotNil(t, h)
}

func TestHealth(t *testing.T) {
	h := handlers.New(nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Health(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_Database(t *testing.T) {
	db, _ := testutil.NewTestDB(t)
	h := handlers.New(db)

	c, rec := newContext(echo.New(), http.MethodGet, "/health", nil)

	require.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_DatabaseDown(t *testing.T) {
	db, _ := testutil.NewTestDB(t)
	require.NoError(t, db.Close())
	h := handlers.New(db)

	c, rec := newContext(echo.New(), http.MethodGet, "/health", nil)

	require.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestHome(t *testing.T) {
	h := handlers.New(nil)
	c, rec := newContext(echo.New(), http.MethodGet, "/", nil)

	err := h.Home(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<!doctype html>")
}

func TestJobsPost(t *testing.T) {
	h := handlers.New(nil)
	c, rec := newContext(echo.New(), http.MethodGet, "/jobs/post", nil)
	appcontext.SetSession(c, testutil.TestSession("token"))

	require.NoError(t, h.JobsPost(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Signed in as driver@example.com.")
}

func TestJobsPost_NoSession(t *testing.T) {
	h := handlers.New(nil)
	c, _ := newContext(echo.New(), http.MethodGet, "/jobs/post", nil)

	err := h.JobsPost(c)

	assert.ErrorIs(t, err, echo.ErrUnauthorized)
}

func TestProfile(t *testing.T) {
	h := handlers.New(nil)
	c, rec := newContext(echo.New(), http.MethodGet, "/profile", nil)
	appcontext.SetSession(c, &identity.Session{
		AccessToken: "token",
		UserID:      "7",
		Email:       "owner@example.com",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	require.NoError(t, h.Profile(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "owner@example.com")
}

func TestErrorHandler_NotFound(t *testing.T) {
	c, rec := newContext(echo.New(), http.MethodGet, "/missing", nil)

	handlers.ErrorHandler(echo.ErrNotFound, c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not exist")
}

func TestErrorHandler_InternalError(t *testing.T) {
	c, rec := newContext(echo.New(), http.MethodGet, "/", nil)

	handlers.ErrorHandler(errors.New("boom"), c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestErrorHandler_Head(t *testing.T) {
	c, rec := newContext(echo.New(), http.MethodHead, "/missing", nil)

	handlers.ErrorHandler(echo.ErrNotFound, c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestErrorHandler_Committed(t *testing.T) {
	c, rec := newContext(echo.New(), http.MethodGet, "/", nil)
	require.NoError(t, c.String(http.StatusOK, "done"))

	handlers.ErrorHandler(echo.ErrNotFound, c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Body.String())
}

func TestValidator(t *testing.T) {
	v := handlers.NewValidator()

	assert.NoError(t, v.Validate(&handlers.ResetForm{Email: "driver@example.com"}))
	assert.Error(t, v.Validate(&handlers.ResetForm{Email: "not-an-email"}))
	assert.Error(t, v.Validate(&handlers.ResetForm{}))
}
