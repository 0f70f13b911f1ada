// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/models"
)

// CreateRecoveryCode stores the hash of a newly issued recovery code.
func (r *Repository) CreateRecoveryCode(ctx context.Context, userID int64, codeHash string, expiresAt time.Time) error {
	return r.CreateCode(ctx, userID, models.CodeKindRecovery, codeHash, expiresAt)
}

// CreateCode stores the hash of a newly issued code of the given kind.
func (r *Repository) CreateCode(ctx context.Context, userID int64, kind, codeHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recovery_codes (user_id, kind, code_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, kind, codeHash, utc(expiresAt), utc(time.Now()))
	return err
}

// GetRecoveryCodeByHash retrieves a recovery code by its hash.
func (r *Repository) GetRecoveryCodeByHash(ctx context.Context, codeHash string) (*models.RecoveryCode, error) {
	var code models.RecoveryCode
	err := r.db.GetContext(ctx, &code, `SELECT * FROM recovery_codes WHERE code_hash = ?`, codeHash)
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// MarkRecoveryCodeUsed redeems a recovery code. It reports false when the
// code had already been redeemed, so concurrent redemptions succeed once.
func (r *Repository) MarkRecoveryCodeUsed(ctx context.Context, codeID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		utc(time.Now()), codeID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LatestRecoveryCodeTime returns when the newest recovery code of a user was
// issued. It returns sql.ErrNoRows when none exists.
func (r *Repository) LatestRecoveryCodeTime(ctx context.Context, userID int64) (time.Time, error) {
	return r.LatestCodeTime(ctx, userID, models.CodeKindRecovery)
}

// LatestCodeTime returns when the newest code of a kind was issued to a user.
// It returns sql.ErrNoRows when none exists.
func (r *Repository) LatestCodeTime(ctx context.Context, userID int64, kind string) (time.Time, error) {
	var createdAt time.Time
	err := r.db.GetContext(ctx, &createdAt,
		`SELECT created_at FROM recovery_codes WHERE user_id = ? AND kind = ? ORDER BY id DESC LIMIT 1`, userID, kind)
	return createdAt, err
}

// DeleteUserRecoveryCodes deletes all recovery codes of a user.
func (r *Repository) DeleteUserRecoveryCodes(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = ?`, userID)
	return err
}
