// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package models holds the rows of the local identity store.
package models

import (
	"strconv"
	"time"
)

// DefaultRole is the role of accounts created without one, matching the
// column default.
const DefaultRole = "job_seeker"

// User is an account of the local identity backend.
type User struct { //nolint:govet // fieldalignment: readability over optimization
	ID           int64      `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         string     `db:"role" json:"role"`
	ConfirmedAt  *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// IDString returns the user ID in the form exposed to identity callers.
func (u *User) IDString() string {
	return strconv.FormatInt(u.ID, 10)
}

// Confirmed reports whether the user has confirmed the email address.
func (u *User) Confirmed() bool {
	return u.ConfirmedAt != nil
}
