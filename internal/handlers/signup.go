// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"codeberg.org/oliverandrich/taxijobs/internal/config"
	"codeberg.org/oliverandrich/taxijobs/internal/htmx"
	"codeberg.org/oliverandrich/taxijobs/internal/identity"
	"codeberg.org/oliverandrich/taxijobs/internal/recovery"
	"codeberg.org/oliverandrich/taxijobs/internal/services/session"
	"codeberg.org/oliverandrich/taxijobs/internal/templates"
	"github.com/labstack/echo/v4"
)

// VerifyPath tells a new user to check the inbox.
const VerifyPath = "/auth/verify"

// SignupHandlers serves account creation and the confirmation callback.
type SignupHandlers struct {
	idp      identity.Service
	sessions *session.Manager
	cfg      *config.Config
}

// NewSignup creates a new SignupHandlers instance.
func NewSignup(idp identity.Service, sessions *session.Manager, cfg *config.Config) *SignupHandlers {
	return &SignupHandlers{idp: idp, sessions: sessions, cfg: cfg}
}

// SignUpForm is the submitted sign up form.
type SignUpForm struct {
	Email           string `form:"email" validate:"required,email"`
	Password        string `form:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=Password"`
	Role            string `form:"role" validate:"required,oneof=job_seeker company"`
}

func (f *SignUpForm) normalize() {
	f.Email = strings.TrimSpace(f.Email)
}

// SignUpPage renders the sign up form.
func (h *SignupHandlers) SignUpPage(c echo.Context) error {
	if data := h.sessions.Parse(c.Request()); data != nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	return Render(c, http.StatusOK, templates.SignUp(templates.SignUpPage{Role: identity.RoleJobSeeker}))
}

// SignUp registers the account and sends the visitor to the verify page. An
// address that is already registered gets the same answer.
func (h *SignupHandlers) SignUp(c echo.Context) error {
	var form SignUpForm
	if err := bindAndValidate(c, &form); err != nil {
		id := "signup_invalid"
		if form.Password != form.ConfirmPassword {
			id = "password_mismatch"
		}
		return h.signUpError(c, form, id)
	}

	ctx := c.Request().Context()
	redirectURL := h.cfg.Server.BaseURL + config.CallbackPath
	var err error
	if pkce, ok := h.idp.(identity.PKCE); ok {
		challenge := newCodeChallenge(c, h.cfg.SecureCookies())
		err = pkce.SignUpPKCE(ctx, form.Email, form.Password, form.Role, redirectURL, challenge)
	} else {
		err = h.idp.SignUp(ctx, form.Email, form.Password, form.Role, redirectURL)
	}
	switch {
	case err == nil, errors.Is(err, identity.ErrUserExists):
	case errors.Is(err, identity.ErrRateLimited):
		return h.signUpError(c, form, "too_many_requests")
	case errors.Is(err, identity.ErrPasswordRejected):
		return h.signUpError(c, form, "password_rejected")
	default:
		slog.Error("signup_failed", "error", err)
		return h.signUpError(c, form, "signup_failed")
	}

	slog.Info("signup_submitted", "role", form.Role)
	return htmx.Redirect(c, VerifyPath)
}

func (h *SignupHandlers) signUpError(c echo.Context, form SignUpForm, messageID string) error {
	role := form.Role
	if !identity.ValidRole(role) {
		role = identity.RoleJobSeeker
	}
	return Render(c, pageStatus(c, statusFor(messageID)), templates.SignUp(templates.SignUpPage{
		Email:  form.Email,
		Role:   role,
		Notice: &templates.Notice{ID: messageID, Error: true},
	}))
}

// VerifyPage asks the new user to open the confirmation mail.
func (h *SignupHandlers) VerifyPage(c echo.Context) error {
	return Render(c, http.StatusOK, templates.Verify())
}

// Callback receives emailed links. Recovery codes continue to the update
// page; any other code confirms a sign up, signs the user in and lands on
// the home page.
func (h *SignupHandlers) Callback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return c.Redirect(http.StatusSeeOther, SignInPath)
	}
	noStore(c)

	codeType := c.QueryParam("type")
	if codeType == identity.RecoveryType {
		target := recovery.Rules{Destination: config.UpdatePasswordPath}.Target(code, codeType)
		return c.Redirect(http.StatusSeeOther, target)
	}

	ctx := c.Request().Context()
	var s *identity.Session
	var err error
	pkce, ok := h.idp.(identity.PKCE)
	verifier := ""
	if ok {
		verifier = takeCodeVerifier(c, h.cfg.SecureCookies())
	}
	if ok && verifier != "" && codeType == "" {
		s, err = pkce.ExchangeAuthCode(ctx, code, verifier)
	} else {
		s, err = h.idp.ConfirmSignUp(ctx, code, codeType)
	}
	if err == nil && s == nil {
		err = errors.New("identity backend returned no session")
	}
	if err != nil {
		slog.Warn("signup_confirm_failed",
			"code", identity.MaskCode(code),
			"reason", string(identity.ReasonOf(err)),
			"error", err,
		)
		return c.Redirect(http.StatusSeeOther, SignInPath+"?message=confirm_failed")
	}

	cookie, err := h.sessions.Create(s)
	if err != nil {
		slog.Error("failed to create session cookie", "error", err)
		return c.Redirect(http.StatusSeeOther, SignInPath+"?message=confirm_failed")
	}
	c.SetCookie(cookie)

	slog.Info("signed_in", "user_id", s.UserID, "via", "signup_confirmation")
	return c.Redirect(http.StatusSeeOther, "/")
}
