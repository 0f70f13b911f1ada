// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"codeberg.org/oliverandrich/taxijobs/internal/htmx"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/services/session"
	"codeberg.org/oliverandrich/taxijobs/internal/templates"
	"github.com/labstack/echo/v4"
)

// SignInPath is where unauthenticated visitors are sent.
const SignInPath = "/auth/signin"

// signInNotices maps the ?message= values accepted by the sign-in page.
var signInNotices = map[string]*templates.Notice{
	"password_updated": {ID: "signin_password_updated"},
	"signed_out":       {ID: "signin_signed_out"},
	"required":         {ID: "signin_required"},
	"confirm_failed":   {ID: "signin_confirm_failed", Error: true},
}

// AuthHandlers contains handlers for password sign-in and sign-out.
type AuthHandlers struct {
	idp      identity.Service
	sessions *session.Manager
}

// NewAuth creates a new AuthHandlers instance.
func NewAuth(idp identity.Service, sessions *session.Manager) *AuthHandlers {
	return &AuthHandlers{idp: idp, sessions: sessions}
}

// SignInForm is the submitted sign-in form.
type SignInForm struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
	Next     string `form:"next"`
}

func (f *SignInForm) normalize() {
	f.Email = strings.TrimSpace(f.Email)
}

// SignInPage renders the sign-in page.
func (h *AuthHandlers) SignInPage(c echo.Context) error {
	next := c.QueryParam("next")
	if data := h.sessions.Parse(c.Request()); data != nil {
		return c.Redirect(http.StatusSeeOther, safeNext(next))
	}

	page := templates.SignInPage{Next: next}
	if notice, ok := signInNotices[c.QueryParam("message")]; ok {
		page.Notice = &templates.Notice{ID: notice.ID, Error: notice.Error}
	}
	return Render(c, http.StatusOK, templates.SignIn(page))
}

// SignIn authenticates with email and password.
func (h *AuthHandlers) SignIn(c echo.Context) error {
	var form SignInForm
	if err := bindAndValidate(c, &form); err != nil {
		return h.signInError(c, form, "signin_invalid")
	}

	s, err := h.idp.SignInWithPassword(c.Request().Context(), form.Email, form.Password)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrInvalidCredentials):
		return h.signInError(c, form, "signin_invalid")
	case errors.Is(err, identity.ErrEmailNotConfirmed):
		return h.signInError(c, form, "signin_unconfirmed")
	case errors.Is(err, identity.ErrRateLimited):
		return h.signInError(c, form, "too_many_requests")
	default:
		slog.Error("signin_failed", "error", err)
		return h.signInError(c, form, "signin_failed")
	}

	cookie, err := h.sessions.Create(s)
	if err != nil {
		slog.Error("failed to create session cookie", "error", err)
		return h.signInError(c, form, "signin_failed")
	}
	c.SetCookie(cookie)

	slog.Info("signed_in", "user_id", s.UserID)
	return htmx.Redirect(c, safeNext(form.Next))
}

func (h *AuthHandlers) signInError(c echo.Context, form SignInForm, messageID string) error {
	return Render(c, pageStatus(c, statusFor(messageID)), templates.SignIn(templates.SignInPage{
		Email:  form.Email,
		Next:   form.Next,
		Notice: &templates.Notice{ID: messageID, Error: true},
	}))
}

// SignOut ends the backend session and clears the cookie.
func (h *AuthHandlers) SignOut(c echo.Context) error {
	if data := h.sessions.Parse(c.Request()); data != nil {
		if err := h.idp.SignOut(c.Request().Context(), data.Session()); err != nil {
			slog.Warn("signout_failed", "user_id", data.UserID, "error", err)
		}
	}
	c.SetCookie(h.sessions.Clear())
	return htmx.Redirect(c, SignInPath+"?message=signed_out")
}
