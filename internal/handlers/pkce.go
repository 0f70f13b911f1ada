// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"
)

const (
	codeVerifierCookie = "_code_verifier"
	codeVerifierMaxAge = 3600
	codeVerifierPath   = "/auth"
)

// newCodeChallenge stores a fresh PKCE verifier in a cookie and returns its
// S256 challenge. Only the browser that asked for the mail can redeem the
// code it carries.
func newCodeChallenge(c echo.Context, secure bool) string {
	verifier := oauth2.GenerateVerifier()
	c.SetCookie(&http.Cookie{
		Name:     codeVerifierCookie,
		Value:    verifier,
		Path:     codeVerifierPath,
		MaxAge:   codeVerifierMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// takeCodeVerifier returns the stored verifier and clears the cookie. A
// verifier is good for one exchange.
func takeCodeVerifier(c echo.Context, secure bool) string {
	cookie, err := c.Cookie(codeVerifierCookie)
	if err != nil || cookie.Value == "" {
		return ""
	}
	c.SetCookie(&http.Cookie{
		Name:     codeVerifierCookie,
		Path:     codeVerifierPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return cookie.Value
}
