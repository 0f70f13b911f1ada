// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/taxijobs/internal/appcontext"
	"codeberg.org/oliverandrich/taxijobs/internal/database"
	"codeberg.org/oliverandrich/taxijobs/internal/templates"
	"github.com/labstack/echo/v4"
	"github.com/vinovest/sqlx"
)

// Handlers contains the site's page handlers.
type Handlers struct {
	db *sqlx.DB
}

// New creates a new Handlers instance. db may be nil when the identity
// backend is remote and no local database is opened.
func New(db *sqlx.DB) *Handlers {
	return &Handlers{db: db}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	if h.db != nil {
		if err := database.Ping(c.Request().Context(), h.db); err != nil {
			slog.Error("health_check_failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Home renders the home page.
func (h *Handlers) Home(c echo.Context) error {
	return Render(c, http.StatusOK, templates.Home())
}

// JobsPost renders the job posting page. Requires a validated session.
func (h *Handlers) JobsPost(c echo.Context) error {
	s := appcontext.SessionFrom(c)
	if s == nil {
		return echo.ErrUnauthorized
	}
	return Render(c, http.StatusOK, templates.JobsPost(templates.JobsPostPage{Email: s.Email}))
}

// Profile renders the profile page. Requires a validated session.
func (h *Handlers) Profile(c echo.Context) error {
	s := appcontext.SessionFrom(c)
	if s == nil {
		return echo.ErrUnauthorized
	}
	return Render(c, http.StatusOK, templates.Profile(templates.ProfilePage{
		Email:     s.Email,
		UserID:    s.UserID,
		Role:      s.Role,
		ExpiresAt: s.ExpiresAt,
	}))
}
