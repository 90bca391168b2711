package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
)

// Options configures a Queue. Zero values are replaced by the defaults below.
type Options struct {
	MaxAttempts  int           // default 5
	BaseDelay    time.Duration // delay before attempt 2, default 1s
	MaxDelay     time.Duration // backoff cap, default 1h
	Jitter       bool          // pick a random delay between BaseDelay and the computed one
	LeaseTimeout time.Duration // default 30s
	PollInterval time.Duration // upper bound on how long Dequeue sleeps between claims, default 250ms
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = time.Hour
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Queue implements enqueue/dequeue/ack/reschedule over an injected Backend
type Queue struct {
	backend Backend
	opts    Options
	backoff *backoff.Backoff

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func New(backend Backend, opts Options) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		backend: backend,
		opts:    opts,
		backoff: &backoff.Backoff{
			Min:    opts.BaseDelay,
			Max:    opts.MaxDelay,
			Factor: 2,
			Jitter: opts.Jitter,
		},
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// MaxAttempts is the attempt limit stamped on new jobs
func (q *Queue) MaxAttempts() int {
	return q.opts.MaxAttempts
}

// BackoffDelay is the wait before attempt (attempt >= 2): base * 2^(attempt-2),
// capped at MaxDelay.
func (q *Queue) BackoffDelay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	return q.backoff.ForAttempt(float64(attempt - 2))
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue stores a new job. Missing ID, attempt, max attempts and times are filled in.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	now := q.opts.Now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	if job.MaxAttempts < 1 {
		job.MaxAttempts = q.opts.MaxAttempts
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	if job.NextEligibleAt.IsZero() {
		job.NextEligibleAt = now
	}
	if err := q.backend.Push(ctx, job); err != nil {
		return errors.Wrapf(err, "enqueue job %s", job.ID)
	}
	q.signal()
	return nil
}

// TryDequeue claims the earliest visible job without waiting
func (q *Queue) TryDequeue(ctx context.Context) (*Lease, bool, error) {
	now := q.opts.Now()
	token := uuid.NewString()
	deadline := now.Add(q.opts.LeaseTimeout)
	job, ok, err := q.backend.Claim(ctx, now, deadline, token)
	if err != nil {
		return nil, false, errors.Wrap(err, "claim job")
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{Job: job, Token: token, Deadline: deadline}, true, nil
}

// Dequeue blocks until a job is visible, ctx is done or the queue is closed
func (q *Queue) Dequeue(ctx context.Context) (*Lease, error) {
	for {
		select {
		case <-q.closed:
			return nil, ErrClosed
		default:
		}

		lease, ok, err := q.TryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}

		wait := q.opts.PollInterval
		if next, ok, err := q.backend.NextVisible(ctx); err == nil && ok {
			if d := next.Sub(q.opts.Now()); d < wait {
				wait = d
			}
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.closed:
			timer.Stop()
			return nil, ErrClosed
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack marks a leased job delivered and removes it from the queue
func (q *Queue) Ack(ctx context.Context, lease *Lease) error {
	if err := q.backend.Complete(ctx, lease.Job.ID, lease.Token); err != nil {
		return errors.Wrapf(err, "ack job %s", lease.Job.ID)
	}
	return nil
}

// Reschedule makes a leased job visible again after the backoff for its next
// attempt and returns that delay. When the job has used its last attempt it
// is moved to the exhausted set and ErrExhausted is returned.
func (q *Queue) Reschedule(ctx context.Context, lease *Lease) (time.Duration, error) {
	job := lease.Job
	next := job.Attempt + 1
	if next > job.MaxAttempts {
		if err := q.backend.Exhaust(ctx, job, lease.Token); err != nil {
			return 0, errors.Wrapf(err, "exhaust job %s", job.ID)
		}
		return 0, ErrExhausted
	}

	delay := q.BackoffDelay(next)
	job.Attempt = next
	job.NextEligibleAt = q.opts.Now().Add(delay)
	if err := q.backend.Release(ctx, job, lease.Token); err != nil {
		return 0, errors.Wrapf(err, "reschedule job %s", job.ID)
	}
	q.signal()
	return delay, nil
}

// Reclaim makes jobs whose lease expired visible again without consuming an attempt
func (q *Queue) Reclaim(ctx context.Context) (int, error) {
	n, err := q.backend.Reap(ctx, q.opts.Now())
	if err != nil {
		return 0, errors.Wrap(err, "reclaim expired leases")
	}
	if n > 0 {
		q.signal()
	}
	return n, nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	st, err := q.backend.Stats(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "queue stats")
	}
	return st, nil
}

// Close wakes every blocked Dequeue with ErrClosed. Stored jobs are untouched.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
