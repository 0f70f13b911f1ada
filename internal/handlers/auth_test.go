// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"codeberg.org/oliverandrich/taxijobs/internal/handlers"
	"codeberg.org/oliverandrich/taxijobs/internal/htmx"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signInBody(email, password, next string) *strings.Reader {
	form := url.Values{"email": {email}, "password": {password}}
	if next != "" {
		form.Set("next", next)
	}
	return strings.NewReader(form.Encode())
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSignInPage(t *testing.T) {
	h := handlers.NewAuth(testutil.NewFakeIdentity(), newSessions(t))
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/signin", nil)

	require.NoError(t, h.SignInPage(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/auth/signin"`)
	assert.Contains(t, rec.Body.String(), `href="/auth/reset-password"`)
}

func TestSignInPage_PasswordUpdatedNotice(t *testing.T) {
	h := handlers.NewAuth(testutil.NewFakeIdentity(), newSessions(t))
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/signin?message=password_updated", nil)

	require.NoError(t, h.SignInPage(c))

	assert.Contains(t, rec.Body.String(), "Your password has been updated.")
}

func TestSignInPage_ConfirmFailedNotice(t *testing.T) {
	h := handlers.NewAuth(testutil.NewFakeIdentity(), newSessions(t))
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/signin?message=confirm_failed", nil)

	require.NoError(t, h.SignInPage(c))

	assert.Contains(t, rec.Body.String(), "We could not confirm your email address.")
	assert.Contains(t, rec.Body.String(), `class="error"`)
}

func TestSignInPage_UnknownMessageIgnored(t *testing.T) {
	h := handlers.NewAuth(testutil.NewFakeIdentity(), newSessions(t))
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/signin?message=bogus", nil)

	require.NoError(t, h.SignInPage(c))

	assert.NotContains(t, rec.Body.String(), "bogus")
	assert.NotContains(t, rec.Body.String(), `class="notice"`)
}

func TestSignInPage_AlreadySignedIn(t *testing.T) {
	sessions := newSessions(t)
	h := handlers.NewAuth(testutil.NewFakeIdentity(), sessions)
	cookie, err := sessions.Create(testutil.TestSession("token"))
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodGet, "/auth/signin?next=/profile", nil)
	c.Request().AddCookie(cookie)

	require.NoError(t, h.SignInPage(c))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/profile", rec.Header().Get(echo.HeaderLocation))
}

func TestSignIn_Success(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h := handlers.NewAuth(idp, newSessions(t))
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signin", signInBody("driver@example.com", "secret-password", "/jobs/post"))

	require.NoError(t, h.SignIn(c))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/jobs/post", rec.Header().Get(echo.HeaderLocation))
	cookie := findCookie(rec.Result().Cookies(), "_session")
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 1, idp.Calls("SignInWithPassword"))
}

func TestSignIn_UnsafeNext(t *testing.T) {
	h := handlers.NewAuth(testutil.NewFakeIdentity(), newSessions(t))
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signin", signInBody("driver@example.com", "secret-password", "//evil.example.com"))

	require.NoError(t, h.SignIn(c))

	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
}

func TestSignIn_Htmx(t *testing.T) {
	h := handlers.NewAuth(testutil.NewFakeIdentity(), newSessions(t))
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signin", signInBody("driver@example.com", "secret-password", ""))
	c.Request().Header.Set(htmx.HeaderRequest, "true")

	require.NoError(t, h.SignIn(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", rec.Header().Get(htmx.HeaderRedirect))
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.SignInFunc = func(_ context.Context, _, _ string) (*identity.Session, error) {
		return nil, identity.ErrInvalidCredentials
	}
	h := handlers.NewAuth(idp, newSessions(t))
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signin", signInBody("driver@example.com", "wrong-password", ""))

	require.NoError(t, h.SignIn(c))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "The email address or password is incorrect.")
	assert.Contains(t, rec.Body.String(), `value="driver@example.com"`)
	assert.Nil(t, findCookie(rec.Result().Cookies(), "_session"))
}

func TestSignIn_EmailNotConfirmed(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.SignInFunc = func(_ context.Context, _, _ string) (*identity.Session, error) {
		return nil, identity.ErrEmailNotConfirmed
	}
	h := handlers.NewAuth(idp, newSessions(t))
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signin", signInBody("fleet@example.com", "fleet-password", ""))

	require.NoError(t, h.SignIn(c))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please confirm your email address first.")
	assert.Nil(t, findCookie(rec.Result().Cookies(), "_session"))
}

func TestSignIn_ValidationSkipsBackend(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h := handlers.NewAuth(idp, newSessions(t))
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signin", signInBody("not-an-email", "", ""))

	require.NoError(t, h.SignIn(c))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, idp.Calls("SignInWithPassword"))
}

func TestSignIn_BackendFailure(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.SignInFunc = func(_ context.Context, _, _ string) (*identity.Session, error) {
		return nil, errors.New("connection refused")
	}
	h := handlers.NewAuth(idp, newSessions(t))
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signin", signInBody("driver@example.com", "secret-password", ""))

	require.NoError(t, h.SignIn(c))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign in failed.")
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestSignOut(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	sessions := newSessions(t)
	h := handlers.NewAuth(idp, sessions)
	cookie, err := sessions.Create(testutil.TestSession("token"))
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signout", nil)
	c.Request().AddCookie(cookie)

	require.NoError(t, h.SignOut(c))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/signin?message=signed_out", rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, 1, idp.Calls("SignOut"))
	cleared := findCookie(rec.Result().Cookies(), "_session")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)
}

func TestSignOut_WithoutSession(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h := handlers.NewAuth(idp, newSessions(t))
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signout", nil)

	require.NoError(t, h.SignOut(c))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 0, idp.Calls("SignOut"))
}

func TestSignOut_BackendFailureStillClears(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.SignOutFunc = func(_ context.Context, _ *identity.Session) error {
		return errors.New("timeout")
	}
	sessions := newSessions(t)
	h := handlers.NewAuth(idp, sessions)
	cookie, err := sessions.Create(testutil.TestSession("token"))
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/signout", nil)
	c.Request().AddCookie(cookie)

	require.NoError(t, h.SignOut(c))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.NotNil(t, findCookie(rec.Result().Cookies(), "_session"))
}
