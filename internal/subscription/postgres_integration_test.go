//go:build integration

package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/sol_hook/internal/db/dbtest"
)

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgresRepository(dbtest.StartPostgres(t))

	created, err := repo.Create(ctx, NewSubscription{
		Owner:     "alice",
		Name:      "transfers",
		URL:       "https://example.com/hook",
		EventType: "token_transfer",
		Filters:   Filters{"mint": "X"},
		Secret:    "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, Filters{"mint": "X"}, created.Filters)
	assert.Equal(t, "s3cret", created.Secret)
	assert.True(t, created.Active)

	noSecret, err := repo.Create(ctx, newInput("alice", "token_transfer", nil))
	require.NoError(t, err)
	assert.False(t, noSecret.HasSecret())
	assert.Equal(t, Filters{}, noSecret.Filters)

	active, err := repo.FindActiveByEvent(ctx, "token_transfer")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = repo.FindByID(ctx, "bob", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	off := false
	cleared := ""
	updated, err := repo.Update(ctx, "alice", created.ID, Patch{Active: &off, Secret: &cleared})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.False(t, updated.HasSecret())
	assert.Equal(t, "transfers", updated.Name)

	active, err = repo.FindActiveByEvent(ctx, "token_transfer")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	list, err := repo.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, repo.Delete(ctx, "alice", created.ID))
	assert.ErrorIs(t, repo.Delete(ctx, "alice", created.ID), ErrNotFound)
}
