// Package queue is the delivery work queue: jobs become visible at their
// next-eligible time, are leased to exactly one worker at a time, and are
// either acked, rescheduled with exponential backoff, or exhausted.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrLeaseLost means the caller no longer owns the job: the lease expired
	// and was reclaimed, or the job already left the in-flight set.
	ErrLeaseLost = errors.New("lease lost")
	// ErrClosed is returned by Dequeue after Close
	ErrClosed = errors.New("queue closed")
	// ErrExhausted is returned by Reschedule when the job used its last attempt
	ErrExhausted = errors.New("delivery attempts exhausted")
)

// Job is one delivery of one event to one subscription. URL and secret are
// snapshotted when the event is matched.
type Job struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	Owner          string            `json:"owner"`
	TargetURL      string            `json:"target_url"`
	Secret         string            `json:"secret,omitempty"`
	EventType      string            `json:"event_type"`
	Payload        map[string]any    `json:"payload"`
	Attempt        int               `json:"attempt"`
	MaxAttempts    int               `json:"max_attempts"`
	NextEligibleAt time.Time         `json:"next_eligible_at"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
	TraceHeaders   map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

// decodeJob reads a stored job, keeping payload numbers as json.Number
func decodeJob(body []byte) (Job, error) {
	var job Job
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Lease is a dequeued job plus the token proving ownership
type Lease struct {
	Job      Job
	Token    string
	Deadline time.Time
}

type Stats struct {
	Ready     int64 `json:"ready"`
	InFlight  int64 `json:"in_flight"`
	Exhausted int64 `json:"exhausted"`
}

// Backend is the store behind a Queue. Every method must be atomic with
// respect to the others; that is what makes a lease single-owner.
type Backend interface {
	// Push stores job and makes it visible at job.NextEligibleAt
	Push(ctx context.Context, job Job) error
	// Claim takes the earliest job visible at now, hides it until deadline
	// and records token as its owner. ok is false when nothing is ready.
	Claim(ctx context.Context, now, deadline time.Time, token string) (job Job, ok bool, err error)
	// Complete removes an in-flight job owned by token
	Complete(ctx context.Context, jobID, token string) error
	// Release stores the updated job and makes it visible at job.NextEligibleAt
	Release(ctx context.Context, job Job, token string) error
	// Exhaust removes an in-flight job and records it as exhausted
	Exhaust(ctx context.Context, job Job, token string) error
	// Reap makes in-flight jobs whose lease deadline is before now visible again
	Reap(ctx context.Context, now time.Time) (int, error)
	// NextVisible returns when the earliest ready job becomes visible
	NextVisible(ctx context.Context) (time.Time, bool, error)
	Stats(ctx context.Context) (Stats, error)
}
