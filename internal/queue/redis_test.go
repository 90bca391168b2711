package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBackend(client, "test"), mr
}

func TestQueueRedisContract(t *testing.T) {
	runContract(t, func(t *testing.T) Backend {
		b, _ := newRedisBackend(t)
		return b
	})
}

func TestRedisBackend_Keys(t *testing.T) {
	b, mr := newRedisBackend(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000).UTC()

	job := testJob("k1")
	job.NextEligibleAt = now
	require.NoError(t, b.Push(ctx, job))

	assert.True(t, mr.Exists("test:queue:ready"))
	assert.True(t, mr.Exists("test:queue:jobs"))

	_, ok, err := b.Claim(ctx, now, now.Add(time.Minute), "tok")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "tok", mr.HGet("test:queue:leases", "k1"))
	members, err := mr.ZMembers("test:queue:inflight")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, members)

	// wrong token can't touch the job
	assert.ErrorIs(t, b.Complete(ctx, "k1", "other"), ErrLeaseLost)
	require.NoError(t, b.Exhaust(ctx, job, "tok"))

	exhausted, err := b.Exhausted(ctx, 10)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "k1", exhausted[0].ID)
	assert.Equal(t, "", mr.HGet("test:queue:leases", "k1"))
}

func TestRedisBackend_NextVisible(t *testing.T) {
	b, _ := newRedisBackend(t)
	ctx := context.Background()

	_, ok, err := b.NextVisible(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.UnixMilli(1_700_000_123_000).UTC()
	job := testJob("n1")
	job.NextEligibleAt = at
	require.NoError(t, b.Push(ctx, job))

	got, ok, err := b.NextVisible(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(got), "NextVisible() = %v, want %v", got, at)
}

func TestRedisBackend_StoreDown(t *testing.T) {
	b, mr := newRedisBackend(t)
	mr.Close()

	q := New(b, Options{})
	assert.Error(t, q.Enqueue(context.Background(), testJob("x")))
	_, _, err := q.TryDequeue(context.Background())
	assert.Error(t, err)
}

func TestRedisBackend_PayloadNumbersRoundTrip(t *testing.T) {
	b, _ := newRedisBackend(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000).UTC()

	job := testJob("big")
	job.NextEligibleAt = now
	job.Payload = map[string]any{"amount": json.Number("9007199254740993"), "mint": "X"}
	require.NoError(t, b.Push(ctx, job))

	claimed, ok, err := b.Claim(ctx, now, now.Add(time.Minute), "tok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, json.Number("9007199254740993"), claimed.Payload["amount"])

	require.NoError(t, b.Exhaust(ctx, claimed, "tok"))
	exhausted, err := b.Exhausted(ctx, 1)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, json.Number("9007199254740993"), exhausted[0].Payload["amount"])
}
