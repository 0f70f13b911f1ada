// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// Kinds of mailed codes.
const (
	CodeKindRecovery = "recovery"
	CodeKindSignup   = "signup"
)

// RecoveryCode stores the SHA-256 hash of a mailed single-use code, either a
// password recovery code or a sign up confirmation.
type RecoveryCode struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	CodeHash  string     `db:"code_hash" json:"-"`
	Kind      string     `db:"kind" json:"kind"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Used reports whether the code has already been redeemed.
func (c *RecoveryCode) Used() bool {
	return c.UsedAt != nil
}

// Expired reports whether the code is past its expiry at now.
func (c *RecoveryCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
