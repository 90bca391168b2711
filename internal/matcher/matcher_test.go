package matcher

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/sol_hook/internal/logging"
	"github.com/austindbirch/sol_hook/internal/queue"
	"github.com/austindbirch/sol_hook/internal/subscription"
)

func seed(t *testing.T, repo *subscription.MemoryRepository, owner, event string, filters subscription.Filters) subscription.Subscription {
	t.Helper()
	s, err := repo.Create(context.Background(), subscription.NewSubscription{
		Owner:     owner,
		Name:      "hook",
		URL:       "https://example.com/" + owner,
		EventType: event,
		Filters:   filters,
		Secret:    "secret-" + owner,
	})
	require.NoError(t, err)
	return s
}

func quietLogger() *logging.Logger {
	return logging.NewWithOutput("test", io.Discard)
}

func TestMatch(t *testing.T) {
	ctx := context.Background()
	repo := subscription.NewMemoryRepository()
	all := seed(t, repo, "a", "token_transfer", nil)
	onlyX := seed(t, repo, "b", "token_transfer", subscription.Filters{"mint": "X"})
	seed(t, repo, "c", "token_transfer", subscription.Filters{"mint": "Y"})
	seed(t, repo, "d", "account_update", nil)

	m := New(repo)

	tests := []struct {
		name    string
		event   string
		fields  subscription.Fields
		wantIDs []string
	}{
		{name: "filter X", event: "token_transfer", fields: subscription.Fields{"mint": "X"}, wantIDs: []string{all.ID, onlyX.ID}},
		{name: "no mint field", event: "token_transfer", fields: subscription.Fields{}, wantIDs: []string{all.ID}},
		{name: "unknown event", event: "swap", fields: subscription.Fields{"mint": "X"}, wantIDs: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match(ctx, tt.event, tt.fields)
			require.NoError(t, err)
			var ids []string
			for _, s := range got {
				ids = append(ids, s.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

type failingFinder struct{}

func (failingFinder) FindActiveByEvent(context.Context, string) ([]subscription.Subscription, error) {
	return nil, errors.New("db down")
}

func TestMatch_RepositoryError(t *testing.T) {
	_, err := New(failingFinder{}).Match(context.Background(), "token_transfer", nil)
	assert.ErrorContains(t, err, "db down")
}

func TestNotify_OneJobPerMatch(t *testing.T) {
	ctx := context.Background()
	repo := subscription.NewMemoryRepository()
	x := seed(t, repo, "alice", "token_transfer", subscription.Filters{"mint": "X"})
	seed(t, repo, "bob", "token_transfer", subscription.Filters{"mint": "Y"})

	q := queue.New(queue.NewMemoryBackend(), queue.Options{})
	d := NewDispatcher(New(repo), q, 5, quietLogger())

	n, err := d.Notify(ctx, "token_transfer", map[string]any{"mint": "X", "amount": 10.0})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Ready)

	lease, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	job := lease.Job
	assert.Equal(t, x.ID, job.SubscriptionID)
	assert.Equal(t, "alice", job.Owner)
	assert.Equal(t, x.URL, job.TargetURL)
	assert.Equal(t, "secret-alice", job.Secret)
	assert.Equal(t, "token_transfer", job.EventType)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, 10.0, job.Payload["amount"])
}

func TestNotify_NoMatches(t *testing.T) {
	q := queue.New(queue.NewMemoryBackend(), queue.Options{})
	d := NewDispatcher(New(subscription.NewMemoryRepository()), q, 5, quietLogger())

	n, err := d.Notify(context.Background(), "token_transfer", map[string]any{"mint": "X"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

type flakyQueue struct {
	calls int
	jobs  []queue.Job
}

func (f *flakyQueue) Enqueue(_ context.Context, job queue.Job) error {
	f.calls++
	if f.calls == 1 {
		return errors.New("redis timeout")
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func TestNotify_PartialEnqueueFailure(t *testing.T) {
	repo := subscription.NewMemoryRepository()
	seed(t, repo, "a", "swap", nil)
	seed(t, repo, "b", "swap", nil)
	seed(t, repo, "c", "swap", nil)

	q := &flakyQueue{}
	d := NewDispatcher(New(repo), q, 5, quietLogger())

	n, err := d.Notify(context.Background(), "swap", nil)
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, q.jobs, 2)
	assert.NotEqual(t, q.jobs[0].ID, q.jobs[1].ID)
}
