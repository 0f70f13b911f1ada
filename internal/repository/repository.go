// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package repository provides sqlx backed access to the local identity store.
package repository

import (
	"time"

	"github.com/vinovest/sqlx"
)

// Repository wraps sqlx for database operations.
type Repository struct {
	db *sqlx.DB
}

// New creates a new Repository instance.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying sqlx DB for direct access.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// utc normalizes timestamps before they are written so stored values compare
// consistently.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
