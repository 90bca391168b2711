// Package matcher routes a domain event to the subscriptions that asked for
// it and turns every match into a delivery job.
package matcher

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/austindbirch/sol_hook/internal/logging"
	"github.com/austindbirch/sol_hook/internal/metrics"
	"github.com/austindbirch/sol_hook/internal/queue"
	"github.com/austindbirch/sol_hook/internal/subscription"
	"github.com/austindbirch/sol_hook/internal/tracing"
)

// Matcher selects active subscriptions for an event. It has no side effects.
type Matcher struct {
	finder subscription.Finder
}

func New(finder subscription.Finder) *Matcher {
	return &Matcher{finder: finder}
}

// Match returns every active subscription for eventType whose filters all
// equal the corresponding fields
func (m *Matcher) Match(ctx context.Context, eventType string, fields subscription.Fields) ([]subscription.Subscription, error) {
	candidates, err := m.finder.FindActiveByEvent(ctx, eventType)
	if err != nil {
		return nil, errors.Wrapf(err, "find subscriptions for %s", eventType)
	}
	var out []subscription.Subscription
	for _, s := range candidates {
		if s.Matches(eventType, fields) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Enqueuer is the queue side of the dispatcher
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Dispatcher is the entry point for ingestion: Notify matches an event and
// enqueues one job per matched subscription.
type Dispatcher struct {
	matcher     *Matcher
	queue       Enqueuer
	maxAttempts int
	logger      *logging.Logger
	now         func() time.Time
}

func NewDispatcher(m *Matcher, q Enqueuer, maxAttempts int, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.New("solhook-matcher")
	}
	return &Dispatcher{
		matcher:     m,
		queue:       q,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Notify returns the number of jobs enqueued. A failed enqueue does not stop
// the others; all failures are returned together.
func (d *Dispatcher) Notify(ctx context.Context, eventType string, payload map[string]any) (int, error) {
	ctx, span := tracing.StartNotifySpan(ctx, eventType)
	defer span.End()

	matches, err := d.matcher.Match(ctx, eventType, subscription.Flatten(payload))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		d.logger.WithContext(ctx).WithEvent(eventType).WithError(err).Error("match failed")
		return 0, err
	}
	tracing.RecordMatches(ctx, len(matches))

	traceHeaders := tracing.InjectJobHeaders(ctx)
	now := d.now()
	var (
		enqueued int
		errs     error
	)
	for _, s := range matches {
		job := queue.Job{
			ID:             uuid.NewString(),
			SubscriptionID: s.ID,
			Owner:          s.Owner,
			TargetURL:      s.URL,
			Secret:         s.Secret,
			EventType:      eventType,
			Payload:        payload,
			Attempt:        1,
			MaxAttempts:    d.maxAttempts,
			NextEligibleAt: now,
			EnqueuedAt:     now,
			TraceHeaders:   traceHeaders,
		}
		if err := d.queue.Enqueue(ctx, job); err != nil {
			d.logger.WithContext(ctx).WithSubscription(s.ID).WithEvent(eventType).WithError(err).Error("enqueue failed")
			errs = errors.CombineErrors(errs, err)
			continue
		}
		enqueued++
		d.logger.WithContext(ctx).WithSubscription(s.ID).WithJob(job.ID).WithEvent(eventType).Debug("job enqueued")
	}

	metrics.RecordEventNotified(eventType, enqueued)
	if errs != nil {
		tracing.SetSpanError(ctx, errs)
	}
	return enqueued, errs
}
