// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/models"
)

// CreateIdentitySession stores the hash of an issued access token.
func (r *Repository) CreateIdentitySession(ctx context.Context, userID int64, tokenHash, kind string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identity_sessions (user_id, token_hash, kind, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, tokenHash, kind, utc(expiresAt), utc(time.Now()))
	return err
}

// GetIdentitySessionByHash retrieves a session by its token hash.
func (r *Repository) GetIdentitySessionByHash(ctx context.Context, tokenHash string) (*models.IdentitySession, error) {
	var s models.IdentitySession
	err := r.db.GetContext(ctx, &s, `SELECT * FROM identity_sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteIdentitySession deletes a session by its token hash.
func (r *Repository) DeleteIdentitySession(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM identity_sessions WHERE token_hash = ?`, tokenHash)
	return err
}

// DeleteOtherIdentitySessions deletes every session of a user except the one
// identified by keepHash.
func (r *Repository) DeleteOtherIdentitySessions(ctx context.Context, userID int64, keepHash string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM identity_sessions WHERE user_id = ? AND token_hash != ?`, userID, keepHash)
	return err
}

// DeleteUserIdentitySessions deletes every session of a user.
func (r *Repository) DeleteUserIdentitySessions(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM identity_sessions WHERE user_id = ?`, userID)
	return err
}

// DeleteExpiredIdentitySessions deletes sessions whose expiry is before now.
func (r *Repository) DeleteExpiredIdentitySessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identity_sessions WHERE expires_at < ?`, utc(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
