// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/config"
	"codeberg.org/oliverandrich/taxijobs/internal/htmx"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/recovery"
	"codeberg.org/oliverandrich/taxijobs/internal/templates"
	"github.com/labstack/echo/v4"
)

const (
	resetCooldownCookie = "_reset_cooldown"
	resetCooldown       = 60 * time.Second
)

// RecoveryHandlers serves the reset request and update password pages.
type RecoveryHandlers struct {
	idp       identity.Service
	exchanger *recovery.Exchanger
	cfg       *config.Config
	now       func() time.Time
}

// NewRecovery creates a new RecoveryHandlers instance.
func NewRecovery(idp identity.Service, exchanger *recovery.Exchanger, cfg *config.Config) *RecoveryHandlers {
	return &RecoveryHandlers{idp: idp, exchanger: exchanger, cfg: cfg, now: time.Now}
}

// ResetForm is the submitted reset request form.
type ResetForm struct {
	Email string `form:"email" validate:"required,email"`
}

func (f *ResetForm) normalize() {
	f.Email = strings.TrimSpace(f.Email)
}

// ResetPage renders the reset request page.
func (h *RecoveryHandlers) ResetPage(c echo.Context) error {
	return Render(c, http.StatusOK, templates.ResetPassword(templates.ResetPage{}))
}

// Reset asks the identity backend to mail a recovery link. The response never
// reveals whether an account exists for the address.
func (h *RecoveryHandlers) Reset(c echo.Context) error {
	var form ResetForm
	if err := bindAndValidate(c, &form); err != nil {
		return h.resetError(c, form, &templates.Notice{ID: "reset_invalid_email", Error: true})
	}

	if remaining := h.cooldownRemaining(c.Request()); remaining > 0 {
		return h.resetError(c, form, &templates.Notice{
			ID:    "reset_wait",
			Data:  map[string]any{"Seconds": remaining},
			Error: true,
		})
	}

	redirectURL := h.cfg.Server.BaseURL + config.UpdatePasswordPath
	var err error
	if pkce, ok := h.idp.(identity.PKCE); ok {
		challenge := newCodeChallenge(c, h.cfg.SecureCookies())
		err = pkce.RequestPasswordResetPKCE(c.Request().Context(), form.Email, redirectURL, challenge)
	} else {
		err = h.idp.RequestPasswordReset(c.Request().Context(), form.Email, redirectURL)
	}
	switch {
	case err == nil, errors.Is(err, identity.ErrUserNotFound):
	case errors.Is(err, identity.ErrRateLimited):
		return h.resetError(c, form, &templates.Notice{ID: "too_many_requests", Error: true})
	default:
		slog.Error("reset_request_failed", "error", err)
		return h.resetError(c, form, &templates.Notice{ID: "reset_failed", Error: true})
	}

	c.SetCookie(&http.Cookie{
		Name:     resetCooldownCookie,
		Value:    strconv.FormatInt(h.now().Add(resetCooldown).Unix(), 10),
		Path:     "/auth/reset-password",
		MaxAge:   int(resetCooldown / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	return Render(c, http.StatusOK, templates.ResetPassword(templates.ResetPage{
		Sent:   true,
		Notice: &templates.Notice{ID: "reset_sent"},
	}))
}

func (h *RecoveryHandlers) resetError(c echo.Context, form ResetForm, notice *templates.Notice) error {
	return Render(c, pageStatus(c, statusFor(notice.ID)), templates.ResetPassword(templates.ResetPage{
		Email:  form.Email,
		Notice: notice,
	}))
}

// cooldownRemaining returns the seconds left before another reset mail may
// be requested from this browser.
func (h *RecoveryHandlers) cooldownRemaining(r *http.Request) int {
	cookie, err := r.Cookie(resetCooldownCookie)
	if err != nil {
		return 0
	}
	until, err := strconv.ParseInt(cookie.Value, 10, 64)
	if err != nil {
		return 0
	}
	remaining := time.Unix(until, 0).Sub(h.now())
	if remaining <= 0 {
		return 0
	}
	if remaining > resetCooldown {
		remaining = resetCooldown
	}
	return int((remaining + time.Second - 1) / time.Second)
}

// UpdatePasswordPage exchanges the recovery code of the link and renders the
// resulting state. Every load is an independent attempt.
func (h *RecoveryHandlers) UpdatePasswordPage(c echo.Context) error {
	noStore(c)

	code := c.QueryParam("code")
	var verifier string
	if _, ok := h.idp.(identity.PKCE); ok && code != "" {
		verifier = takeCodeVerifier(c, h.cfg.SecureCookies())
	}

	flow, err := h.exchanger.BeginWithVerifier(c.Request().Context(), code, c.QueryParam("type"), verifier)
	if errors.Is(err, recovery.ErrNoCode) {
		return c.Redirect(http.StatusSeeOther, SignInPath)
	}
	if err != nil {
		return err
	}
	return h.renderFlow(c, http.StatusOK, flow)
}

// UpdatePassword submits the new password of a verified flow.
func (h *RecoveryHandlers) UpdatePassword(c echo.Context) error {
	noStore(c)

	var form recovery.PasswordForm
	if err := c.Bind(&form); err != nil {
		return echo.ErrBadRequest
	}

	flow, err := h.exchanger.Submit(c.Request().Context(), form)
	switch {
	case err == nil:
		return htmx.Redirect(c, SignInPath+"?message=password_updated")
	case errors.Is(err, recovery.ErrFlowNotFound):
		page := templates.UpdatePasswordPage{
			State:     recovery.VerifyFailed.String(),
			FailureID: recovery.FailureMessageID(identity.ReasonExpired),
		}
		page.RedirectSeconds = h.setFailureRefresh(c)
		return Render(c, pageStatus(c, http.StatusGone), templates.UpdatePassword(page))
	case errors.Is(err, recovery.ErrNotAccepting):
		return h.renderFlow(c, http.StatusConflict, flow)
	case flow.State() == recovery.VerifyFailed:
		return h.renderFlow(c, http.StatusGone, flow)
	default:
		return h.renderFlow(c, statusFor(recovery.UpdateErrorMessageID(err)), flow)
	}
}

func (h *RecoveryHandlers) renderFlow(c echo.Context, status int, flow *recovery.Flow) error {
	state := flow.State()
	page := templates.UpdatePasswordPage{
		FlowID:    flow.ID(),
		State:     state.String(),
		Email:     flow.Email(),
		CanSubmit: state == recovery.Verified,
	}

	switch {
	case state == recovery.VerifyFailed:
		page.FlowID = ""
		page.FailureID = recovery.FailureMessageID(flow.Reason())
		page.RedirectSeconds = h.setFailureRefresh(c)
	case flow.Err() != nil:
		page.ErrorID = recovery.UpdateErrorMessageID(flow.Err())
	}

	return Render(c, pageStatus(c, status), templates.UpdatePassword(page))
}

// setFailureRefresh schedules the redirect to sign-in after a failed
// verification and returns the delay in seconds, or 0 when disabled.
func (h *RecoveryHandlers) setFailureRefresh(c echo.Context) int {
	delay := h.cfg.Recovery.FailureRedirectDelay
	if delay <= 0 {
		return 0
	}
	seconds := max(int(delay.Round(time.Second)/time.Second), 1)
	c.Response().Header().Set("Refresh", fmt.Sprintf("%d; url=%s", seconds, SignInPath))
	return seconds
}
