// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package htmx provides types and helpers for htmx integration.
package htmx

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Header constants for htmx request headers.
const (
	HeaderRequest        = "HX-Request"
	HeaderBoosted        = "HX-Boosted"
	HeaderCurrentURL     = "HX-Current-URL"
	HeaderHistoryRestore = "HX-History-Restore-Request"
	HeaderTarget         = "HX-Target"
)

// Header constants for htmx response headers.
const (
	HeaderRedirect = "HX-Redirect"
	HeaderRefresh  = "HX-Refresh"
)

// Request contains information about an htmx request.
type Request struct { //nolint:govet // fieldalignment not critical
	// IsHtmx is true if this is an htmx request (HX-Request header is "true").
	IsHtmx bool

	// IsBoosted is true if this is a boosted request (HX-Boosted header is "true").
	IsBoosted bool

	// CurrentURL is the current URL of the browser (HX-Current-URL header).
	CurrentURL string

	// IsHistoryRestore is true if this is a history restore request.
	IsHistoryRestore bool

	// Target is the ID of the target element (HX-Target header).
	Target string
}

// ParseRequest extracts htmx information from request headers.
func ParseRequest(r *http.Request) *Request {
	return &Request{
		IsHtmx:           r.Header.Get(HeaderRequest) == "true",
		IsBoosted:        r.Header.Get(HeaderBoosted) == "true",
		CurrentURL:       r.Header.Get(HeaderCurrentURL),
		IsHistoryRestore: r.Header.Get(HeaderHistoryRestore) == "true",
		Target:           r.Header.Get(HeaderTarget),
	}
}

// Redirect sends the client to url. htmx requests get an HX-Redirect header
// so the browser navigates instead of swapping the response in; boosted
// requests follow plain redirects.
func Redirect(c echo.Context, url string) error {
	req := ParseRequest(c.Request())
	if req.IsHtmx && !req.IsBoosted {
		c.Response().Header().Set(HeaderRedirect, url)
		return c.NoContent(http.StatusOK)
	}
	return c.Redirect(http.StatusSeeOther, url)
}
