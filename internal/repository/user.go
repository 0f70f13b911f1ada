// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"strings"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/models"
)

// CreateUser creates a confirmed job seeker with an already hashed password.
func (r *Repository) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	now := utc(time.Now())
	return r.insertUser(ctx, email, passwordHash, models.DefaultRole, &now)
}

// CreatePendingUser creates a user that has not confirmed the email address.
func (r *Repository) CreatePendingUser(ctx context.Context, email, passwordHash, role string) (*models.User, error) {
	return r.insertUser(ctx, email, passwordHash, role, nil)
}

func (r *Repository) insertUser(ctx context.Context, email, passwordHash, role string, confirmedAt *time.Time) (*models.User, error) {
	now := utc(time.Now())
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, role, confirmed_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		normalizeEmail(email), passwordHash, role, confirmedAt, now, now)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email address, ignoring case.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = ?`, normalizeEmail(email)); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserPassword replaces the password hash of a user.
func (r *Repository) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, utc(time.Now()), id)
	return err
}

// ConfirmUser marks the email address of a user as confirmed. Confirming
// twice keeps the first timestamp.
func (r *Repository) ConfirmUser(ctx context.Context, id int64) error {
	now := utc(time.Now())
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET confirmed_at = ?, updated_at = ? WHERE id = ? AND confirmed_at IS NULL`,
		now, now, id)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
