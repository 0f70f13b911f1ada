// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"codeberg.org/oliverandrich/taxijobs/internal/htmx"
	"github.com/a-h/templ"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Render renders a templ component with the given status code.
func Render(c echo.Context, statusCode int, component templ.Component) error {
	buf := templ.GetBuffer()
	defer templ.ReleaseBuffer(buf)

	if err := component.Render(c.Request().Context(), buf); err != nil {
		return err
	}

	return c.HTML(statusCode, buf.String())
}

// noStore marks a response that must not be cached or leak its URL.
func noStore(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderCacheControl, "no-store")
	h.Set(echo.HeaderReferrerPolicy, "no-referrer")
}

// safeNext returns next if it is a local path, otherwise "/".
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return next
}

// Validator adapts go-playground/validator to echo.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate validates struct tags of i.
func (v *Validator) Validate(i any) error {
	return v.validate.Struct(i)
}

type normalizer interface {
	normalize()
}

// bindAndValidate binds the request into form, normalizes it and validates
// it with the echo validator when one is configured.
func bindAndValidate(c echo.Context, form any) error {
	if err := c.Bind(form); err != nil {
		return err
	}
	if n, ok := form.(normalizer); ok {
		n.normalize()
	}
	if c.Echo().Validator == nil {
		return nil
	}
	return c.Validate(form)
}

// statusFor maps a message ID to the status of the page showing it.
func statusFor(messageID string) int {
	switch messageID {
	case "too_many_requests", "reset_wait":
		return http.StatusTooManyRequests
	case "password_update_failed", "reset_failed", "signin_failed", "signup_failed":
		return http.StatusBadGateway
	case "signin_invalid":
		return http.StatusUnauthorized
	case "signin_unconfirmed":
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}

// pageStatus returns status, or 200 for htmx requests since htmx does not
// swap error responses into the page.
func pageStatus(c echo.Context, status int) int {
	if htmx.ParseRequest(c.Request()).IsHtmx {
		return http.StatusOK
	}
	return status
}
