// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"database/sql"
	"testing"

	"codeberg.org/oliverandrich/taxijobs/internal/models"
	"codeberg.org/oliverandrich/taxijobs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	db, repo := testutil.NewTestDB(t)

	assert.NotNil(t, repo)
	assert.Same(t, db, repo.DB())
}

func TestCreateUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, "Driver@Example.com ", "hash")

	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "driver@example.com", user.Email)
	assert.Equal(t, "hash", user.PasswordHash)
	assert.NotZero(t, user.CreatedAt)
	assert.Equal(t, models.DefaultRole, user.Role)
	assert.True(t, user.Confirmed())
}

func TestCreatePendingUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user, err := repo.CreatePendingUser(ctx, "fleet@example.com", "hash", "company")

	require.NoError(t, err)
	assert.Equal(t, "company", user.Role)
	assert.False(t, user.Confirmed())
}

func TestConfirmUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user, err := repo.CreatePendingUser(ctx, "fleet@example.com", "hash", "company")
	require.NoError(t, err)

	require.NoError(t, repo.ConfirmUser(ctx, user.ID))
	confirmed, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, confirmed.Confirmed())
	first := *confirmed.ConfirmedAt

	require.NoError(t, repo.ConfirmUser(ctx, user.ID))
	again, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*again.ConfirmedAt))
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := repo.CreateUser(ctx, "driver@example.com", "hash")
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, "DRIVER@example.com", "hash")

	assert.Error(t, err)
}

func TestGetUserByID(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	created := testutil.NewTestUser(t, repo, "driver@example.com")

	retrieved, err := repo.GetUserByID(ctx, created.ID)

	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)
	assert.Equal(t, created.Email, retrieved.Email)
}

func TestGetUserByID_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := repo.GetUserByID(ctx, 999)

	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetUserByEmail(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	created := testutil.NewTestUser(t, repo, "driver@example.com")

	retrieved, err := repo.GetUserByEmail(ctx, "Driver@Example.com")

	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)
}

func TestGetUserByEmail_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	_, err := repo.GetUserByEmail(ctx, "nobody@example.com")

	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateUserPassword(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "driver@example.com")

	err := repo.UpdateUserPassword(ctx, user.ID, "new-hash")
	require.NoError(t, err)

	updated, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", updated.PasswordHash)
	assert.False(t, updated.UpdatedAt.Before(user.UpdatedAt))
}
