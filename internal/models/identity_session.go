// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// Session kinds issued by the local identity backend.
const (
	SessionKindPassword = "password"
	SessionKindRecovery = "recovery"
)

// IdentitySession stores the SHA-256 hash of an issued access token.
type IdentitySession struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	TokenHash string    `db:"token_hash" json:"-"`
	Kind      string    `db:"kind" json:"kind"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
