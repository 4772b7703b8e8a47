package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.users.GetOrCreateByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", created.Email)

	again, err := f.users.GetOrCreateByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	_, err = f.users.GetOrCreateByEmail(ctx, "")
	assert.True(t, IsValidationError(err))
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.users.GetUser(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, f.owner.Email, got.Email)

	_, err = f.users.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
