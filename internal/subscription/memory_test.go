package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInput(owner, event string, filters Filters) NewSubscription {
	return NewSubscription{
		Owner:     owner,
		Name:      "hook",
		URL:       "https://example.com/hook",
		EventType: event,
		Filters:   filters,
	}
}

func TestMemoryRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	created, err := repo.Create(ctx, NewSubscription{
		Owner:     "alice",
		Name:      "transfers",
		URL:       "https://example.com/hook",
		EventType: "token_transfer",
		Filters:   Filters{"mint": "X"},
		Secret:    "s3cret",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active)
	assert.True(t, created.HasSecret())

	got, err := repo.FindByID(ctx, "alice", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	// other owners can't see or touch it
	_, err = repo.FindByID(ctx, "bob", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Update(ctx, "bob", created.ID, Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "bob", created.ID), ErrNotFound)

	inactive := false
	name := "renamed"
	updated, err := repo.Update(ctx, "alice", created.ID, Patch{Name: &name, Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.Active)
	assert.Equal(t, "https://example.com/hook", updated.URL)

	list, err := repo.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, "alice", created.ID))
	_, err = repo.FindByID(ctx, "alice", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_CreateRejectsInvalid(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.Create(context.Background(), newInput("alice", "token_transfer", nil).withURL("example.com"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func (n NewSubscription) withURL(u string) NewSubscription {
	n.URL = u
	return n
}

func TestMemoryRepository_FindActiveByEvent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	first, err := repo.Create(ctx, newInput("alice", "token_transfer", Filters{"mint": "X"}))
	require.NoError(t, err)
	second, err := repo.Create(ctx, newInput("bob", "token_transfer", nil))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newInput("bob", "account_update", nil))
	require.NoError(t, err)
	off := false
	_, err = repo.Update(ctx, "bob", second.ID, Patch{Active: &off})
	require.NoError(t, err)

	subs, err := repo.FindActiveByEvent(ctx, "token_transfer")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, first.ID, subs[0].ID)

	// callers get copies
	subs[0].Filters["mint"] = "mutated"
	again, err := repo.FindByID(ctx, "alice", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "X", again.Filters["mint"])
}

func TestMemoryRepository_ListByOwnerEmpty(t *testing.T) {
	list, err := NewMemoryRepository().ListByOwner(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}
