// Package ledger is the append-only audit trail of delivery attempts.
// Records are diagnostic: they are never updated or deleted and delivery
// correctness does not depend on them.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Record is one delivery attempt
type Record struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	JobID          string         `json:"job_id"`
	EventType      string         `json:"event_type"`
	Status         Status         `json:"status"`
	Payload        map[string]any `json:"payload"`
	Error          *string        `json:"error"`
	Attempt        int            `json:"attempt"`
	HTTPStatus     int            `json:"http_status,omitempty"`
	LatencyMs      int64          `json:"latency_ms"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Appender is the write side used by delivery workers
type Appender interface {
	Append(ctx context.Context, rec Record) error
}

type Ledger interface {
	Appender
	// ListBySubscription returns the newest records first
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]Record, error)
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ClampLimit maps a requested page size onto [1, MaxListLimit]; zero or
// negative means DefaultListLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// ErrorText returns a pointer suitable for Record.Error; nil when err is nil
func ErrorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func (r *Record) fillDefaults(now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}
