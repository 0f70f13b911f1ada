// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/config"
	"codeberg.org/oliverandrich/taxijobs/internal/handlers"
	"codeberg.org/oliverandrich/taxijobs/internal/htmx"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/recovery"
	"codeberg.org/oliverandrich/taxijobs/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recoveryConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{BaseURL: "http://localhost:8080"},
		Recovery: config.RecoveryConfig{FailureRedirectDelay: 5 * time.Second},
	}
}

func newRecoveryHandlers(t *testing.T, idp identity.Service) (*handlers.RecoveryHandlers, *recovery.Exchanger) {
	t.Helper()
	store := recovery.NewStore(recovery.DefaultFlowTTL, time.Minute)
	t.Cleanup(store.Close)
	ex := recovery.NewExchanger(idp, store)
	return handlers.NewRecovery(idp, ex, recoveryConfig()), ex
}

func resetBody(email string) *strings.Reader {
	return strings.NewReader(url.Values{"email": {email}}.Encode())
}

func passwordBody(flowID, password, confirm string) *strings.Reader {
	return strings.NewReader(url.Values{
		"flow_id":          {flowID},
		"new_password":     {password},
		"confirm_password": {confirm},
	}.Encode())
}

func TestResetPage(t *testing.T) {
	h, _ := newRecoveryHandlers(t, testutil.NewFakeIdentity())
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/reset-password", nil)

	require.NoError(t, h.ResetPage(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="email"`)
}

func TestReset_Success(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/reset-password", resetBody(" driver@example.com "))

	require.NoError(t, h.Reset(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a password reset email is on its way")
	assert.Equal(t, "driver@example.com", idp.LastResetEmail)
	assert.Equal(t, "http://localhost:8080"+config.UpdatePasswordPath, idp.LastRedirect)
	cookie := findCookie(rec.Result().Cookies(), "_reset_cooldown")
	require.NotNil(t, cookie)
	assert.Equal(t, 60, cookie.MaxAge)
}

func TestReset_UnknownUserLooksLikeSuccess(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.ResetFunc = func(_ context.Context, _, _ string) error {
		return identity.ErrUserNotFound
	}
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/reset-password", resetBody("nobody@example.com"))

	require.NoError(t, h.Reset(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a password reset email is on its way")
}

func TestReset_InvalidEmail(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/reset-password", resetBody("not-an-email"))

	require.NoError(t, h.Reset(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please enter a valid email address.")
	assert.Equal(t, 0, idp.Calls("RequestPasswordReset"))
}

func TestReset_RateLimited(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.ResetFunc = func(_ context.Context, _, _ string) error {
		return identity.ErrRateLimited
	}
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/reset-password", resetBody("driver@example.com"))

	require.NoError(t, h.Reset(c))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Too many attempts.")
}

func TestReset_BackendFailure(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.ResetFunc = func(_ context.Context, _, _ string) error {
		return errors.New("smtp: connection refused")
	}
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/reset-password", resetBody("driver@example.com"))

	require.NoError(t, h.Reset(c))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sending the password reset email failed.")
	assert.Nil(t, findCookie(rec.Result().Cookies(), "_reset_cooldown"))
}

func TestReset_Cooldown(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/reset-password", resetBody("driver@example.com"))
	c.Request().AddCookie(&http.Cookie{
		Name:  "_reset_cooldown",
		Value: strconv.FormatInt(time.Now().Add(30*time.Second).Unix(), 10),
	})

	require.NoError(t, h.Reset(c))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please wait")
	assert.Equal(t, 0, idp.Calls("RequestPasswordReset"))
}

func TestReset_ExpiredCooldownIgnored(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/reset-password", resetBody("driver@example.com"))
	c.Request().AddCookie(&http.Cookie{
		Name:  "_reset_cooldown",
		Value: strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10),
	})

	require.NoError(t, h.Reset(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, idp.Calls("RequestPasswordReset"))
}

func TestUpdatePasswordPage_NoCode(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/update-password", nil)

	require.NoError(t, h.UpdatePasswordPage(c))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/signin", rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, 0, idp.Calls("ExchangeRecoveryCode"))
}

func TestUpdatePasswordPage_Verified(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/update-password?code=abc123def456&type=recovery", nil)

	require.NoError(t, h.UpdatePasswordPage(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
	assert.Equal(t, "no-referrer", rec.Header().Get(echo.HeaderReferrerPolicy))
	assert.Contains(t, rec.Body.String(), `name="flow_id"`)
	assert.Contains(t, rec.Body.String(), "driver@example.com")
	assert.NotContains(t, rec.Body.String(), "abc123def456")
	assert.Equal(t, 1, idp.Calls("ExchangeRecoveryCode"))
}

func TestUpdatePasswordPage_VerifyFailed(t *testing.T) {
	tests := []struct {
		err      error
		name     string
		expected string
	}{
		{identity.ErrCodeExpired, "expired", "This reset link has expired."},
		{identity.ErrCodeInvalid, "invalid", "This reset link is invalid or has already been used."},
		{errors.New("dial tcp: timeout"), "network", "We could not verify your reset link."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := testutil.NewFakeIdentity()
			idp.ExchangeFunc = func(_ context.Context, _, _ string) (*identity.Session, error) {
				return nil, tt.err
			}
			h, _ := newRecoveryHandlers(t, idp)
			c, rec := newContext(newEcho(), http.MethodGet, "/auth/update-password?code=abc123def456", nil)

			require.NoError(t, h.UpdatePasswordPage(c))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expected)
			assert.Equal(t, "5; url=/auth/signin", rec.Header().Get("Refresh"))
			assert.NotContains(t, rec.Body.String(), `name="new_password"`)
		})
	}
}

func TestUpdatePasswordPage_NoRefreshWhenDisabled(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.ExchangeFunc = func(_ context.Context, _, _ string) (*identity.Session, error) {
		return nil, identity.ErrCodeExpired
	}
	store := recovery.NewStore(recovery.DefaultFlowTTL, time.Minute)
	t.Cleanup(store.Close)
	cfg := recoveryConfig()
	cfg.Recovery.FailureRedirectDelay = 0
	h := handlers.NewRecovery(idp, recovery.NewExchanger(idp, store), cfg)
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/update-password?code=abc123def456", nil)

	require.NoError(t, h.UpdatePasswordPage(c))

	assert.Empty(t, rec.Header().Get("Refresh"))
}

func TestUpdatePassword_Success(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, ex := newRecoveryHandlers(t, idp)
	flow, err := ex.Begin(context.Background(), "abc123def456", identity.RecoveryType)
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "new-password-1", "new-password-1"))

	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/signin?message=password_updated", rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, "new-password-1", idp.LastPassword)
	assert.Equal(t, recovery.Success, flow.State())
}

func TestUpdatePassword_SuccessHtmx(t *testing.T) {
	h, ex := newRecoveryHandlers(t, testutil.NewFakeIdentity())
	flow, err := ex.Begin(context.Background(), "abc123def456", identity.RecoveryType)
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "new-password-1", "new-password-1"))
	c.Request().Header.Set(htmx.HeaderRequest, "true")

	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/auth/signin?message=password_updated", rec.Header().Get(htmx.HeaderRedirect))
}

func TestUpdatePassword_Mismatch(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, ex := newRecoveryHandlers(t, idp)
	flow, err := ex.Begin(context.Background(), "abc123def456", identity.RecoveryType)
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "new-password-1", "new-password-2"))

	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "The passwords do not match.")
	assert.Contains(t, rec.Body.String(), flow.ID())
	assert.Equal(t, 0, idp.Calls("UpdateCurrentPassword"))
	assert.Equal(t, recovery.Verified, flow.State())
}

func TestUpdatePassword_HtmxErrorIsSwappable(t *testing.T) {
	h, ex := newRecoveryHandlers(t, testutil.NewFakeIdentity())
	flow, err := ex.Begin(context.Background(), "abc123def456", identity.RecoveryType)
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "short", "short"))
	c.Request().Header.Set(htmx.HeaderRequest, "true")

	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least 8 characters")
}

func TestUpdatePassword_RejectedThenRetry(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.UpdateFunc = func(_ context.Context, _ *identity.Session, pw string) error {
		if pw == "same-as-before" {
			return identity.ErrPasswordRejected
		}
		return nil
	}
	h, ex := newRecoveryHandlers(t, idp)
	flow, err := ex.Begin(context.Background(), "abc123def456", identity.RecoveryType)
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "same-as-before", "same-as-before"))
	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "This password cannot be used.")

	c, rec = newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "brand-new-pass", "brand-new-pass"))
	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 2, idp.Calls("UpdateCurrentPassword"))
}

func TestUpdatePassword_BackendFailure(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.UpdateFunc = func(_ context.Context, _ *identity.Session, _ string) error {
		return errors.New("503 service unavailable")
	}
	h, ex := newRecoveryHandlers(t, idp)
	flow, err := ex.Begin(context.Background(), "abc123def456", identity.RecoveryType)
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "new-password-1", "new-password-1"))
	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Updating your password failed.")
	assert.NotContains(t, rec.Body.String(), " disabled>")
}

func TestUpdatePassword_SessionExpired(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	idp.UpdateFunc = func(_ context.Context, _ *identity.Session, _ string) error {
		return identity.ErrNoSession
	}
	h, ex := newRecoveryHandlers(t, idp)
	flow, err := ex.Begin(context.Background(), "abc123def456", identity.RecoveryType)
	require.NoError(t, err)

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "new-password-1", "new-password-1"))
	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), "This reset link has expired.")
	assert.Equal(t, "5; url=/auth/signin", rec.Header().Get("Refresh"))
}

func TestUpdatePassword_UnknownFlow(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody("missing", "new-password-1", "new-password-1"))

	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
	assert.Contains(t, rec.Body.String(), "This reset link has expired.")
	assert.Equal(t, 0, idp.Calls("UpdateCurrentPassword"))
}

func TestUpdatePassword_SecondSubmitAfterSuccess(t *testing.T) {
	idp := testutil.NewFakeIdentity()
	h, ex := newRecoveryHandlers(t, idp)
	flow, err := ex.Begin(context.Background(), "abc123def456", identity.RecoveryType)
	require.NoError(t, err)

	c, _ := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "new-password-1", "new-password-1"))
	require.NoError(t, h.UpdatePassword(c))

	c, rec := newContext(newEcho(), http.MethodPost, "/auth/update-password", passwordBody(flow.ID(), "new-password-1", "new-password-1"))
	require.NoError(t, h.UpdatePassword(c))

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, 1, idp.Calls("UpdateCurrentPassword"))
}

func TestReset_PKCE(t *testing.T) {
	idp := testutil.NewFakePKCE()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodPost, "/auth/reset-password", resetBody("driver@example.com"))

	require.NoError(t, h.Reset(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "driver@example.com", idp.LastResetEmail)
	cookie := findCookie(rec.Result().Cookies(), "_code_verifier")
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, idp.LastChallenge)
	assert.NotEqual(t, cookie.Value, idp.LastChallenge)
}

func TestUpdatePasswordPage_PKCEAuthCode(t *testing.T) {
	idp := testutil.NewFakePKCE()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/update-password?code=auth-code", nil)
	c.Request().AddCookie(&http.Cookie{Name: "_code_verifier", Value: "verifier-123"})

	require.NoError(t, h.UpdatePasswordPage(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="flow_id"`)
	assert.Equal(t, 1, idp.Calls("ExchangeAuthCode"))
	assert.Equal(t, 0, idp.Calls("ExchangeRecoveryCode"))
	assert.Equal(t, "verifier-123", idp.LastVerifier)
	cleared := findCookie(rec.Result().Cookies(), "_code_verifier")
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
}

func TestUpdatePasswordPage_PKCETypedCodeUsesTokenHash(t *testing.T) {
	idp := testutil.NewFakePKCE()
	h, _ := newRecoveryHandlers(t, idp)
	c, rec := newContext(newEcho(), http.MethodGet, "/auth/update-password?code=token-hash&type=recovery", nil)
	c.Request().AddCookie(&http.Cookie{Name: "_code_verifier", Value: "verifier-123"})

	require.NoError(t, h.UpdatePasswordPage(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, idp.Calls("ExchangeAuthCode"))
	assert.Equal(t, 1, idp.Calls("ExchangeRecoveryCode"))
}
