package delivery

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/austindbirch/sol_hook/internal/ledger"
	"github.com/austindbirch/sol_hook/internal/logging"
	"github.com/austindbirch/sol_hook/internal/metrics"
	"github.com/austindbirch/sol_hook/internal/queue"
	"github.com/austindbirch/sol_hook/internal/tracing"
)

// JobSource is the queue side of the pool
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Lease, error)
	Ack(ctx context.Context, lease *queue.Lease) error
	Reschedule(ctx context.Context, lease *queue.Lease) (time.Duration, error)
}

// Outcome is what happened to a job after one attempt
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeRetry     Outcome = "retry"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeLeaseLost Outcome = "lease_lost"
	OutcomeError     Outcome = "error"
)

type PoolOptions struct {
	Size         int                 // concurrent workers, default 10
	DeadLetters  DeadLetterPublisher // optional
	Logger       *logging.Logger
	ErrorBackoff time.Duration // pause after a failed dequeue, default 1s
}

// Pool runs a fixed number of workers. Each worker takes one job, finishes
// it completely, then takes the next.
type Pool struct {
	source       JobSource
	sender       *Sender
	ledger       ledger.Appender
	deadLetters  DeadLetterPublisher
	size         int
	errorBackoff time.Duration
	logger       *logging.Logger
}

func NewPool(source JobSource, sender *Sender, led ledger.Appender, opts PoolOptions) *Pool {
	if opts.Size <= 0 {
		opts.Size = 10
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("solhook-worker")
	}
	return &Pool{
		source:       source,
		sender:       sender,
		ledger:       led,
		deadLetters:  opts.DeadLetters,
		size:         opts.Size,
		errorBackoff: opts.ErrorBackoff,
		logger:       opts.Logger,
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Run blocks until ctx is cancelled or the queue is closed. A job already
// taken when that happens is finished first; its HTTP call is bounded by the
// sender's timeout.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		worker := i
		g.Go(func() error {
			return p.work(gctx, worker)
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, worker int) error {
	for {
		lease, err := p.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			p.logger.WithContext(ctx).WithField("worker", worker).WithError(err).Error("dequeue failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.errorBackoff):
			}
			continue
		}
		p.Handle(context.WithoutCancel(ctx), lease)
	}
}

// Handle performs one attempt for a leased job and settles it: ack on
// success, reschedule or exhaust on failure. Ledger writes happen before
// Handle returns.
func (p *Pool) Handle(ctx context.Context, lease *queue.Lease) Outcome {
	job := lease.Job

	ctx, span := tracing.StartDeliverySpan(ctx, job.TraceHeaders, job.ID, job.SubscriptionID, job.EventType, job.Attempt)
	defer span.End()

	log := func() *logging.LogEntry {
		return p.logger.WithContext(ctx).
			WithSubscription(job.SubscriptionID).
			WithJob(job.ID).
			WithEvent(job.EventType).
			WithField("attempt", job.Attempt)
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	res := p.sender.Send(ctx, job)
	tracing.RecordHTTPResult(ctx, res.StatusCode, res.Latency)

	if res.OK() {
		if err := p.source.Ack(ctx, lease); err != nil {
			// someone else may own the job now; a delivered record here could
			// duplicate theirs
			tracing.SetSpanError(ctx, err)
			if errors.Is(err, queue.ErrLeaseLost) {
				metrics.RecordLeaseLost()
				tracing.RecordOutcome(ctx, string(OutcomeLeaseLost), "")
				log().WithError(err).Warn("delivered but lease was lost, not recording")
				return OutcomeLeaseLost
			}
			log().WithError(err).Error("ack failed")
			return OutcomeError
		}
		p.append(ctx, job, ledger.StatusDelivered, res, log)
		metrics.RecordDelivery(string(ledger.StatusDelivered), res.Latency)
		tracing.RecordOutcome(ctx, string(OutcomeDelivered), "")
		return OutcomeDelivered
	}

	p.append(ctx, job, ledger.StatusFailed, res, log)
	metrics.RecordDelivery(string(ledger.StatusFailed), res.Latency)

	delay, err := p.source.Reschedule(ctx, lease)
	switch {
	case errors.Is(err, queue.ErrExhausted):
		metrics.RecordDLQ(res.Reason)
		tracing.RecordOutcome(ctx, string(OutcomeExhausted), res.Reason)
		log().WithError(res.Err).WithField("reason", res.Reason).Warn("delivery attempts exhausted")
		p.publishDeadLetter(ctx, job, res, log)
		return OutcomeExhausted
	case errors.Is(err, queue.ErrLeaseLost):
		metrics.RecordLeaseLost()
		tracing.RecordOutcome(ctx, string(OutcomeLeaseLost), res.Reason)
		log().WithError(err).Warn("reschedule rejected, lease was lost")
		return OutcomeLeaseLost
	case err != nil:
		tracing.SetSpanError(ctx, err)
		log().WithError(err).Error("reschedule failed")
		return OutcomeError
	}

	metrics.RecordRetry(res.Reason)
	tracing.RecordOutcome(ctx, string(OutcomeRetry), res.Reason)
	tracing.AddSpanEvent(ctx, "delivery.requeue",
		tracing.AttrAttempt.Int(job.Attempt+1),
		attribute.String("delay", delay.String()),
	)
	log().WithError(res.Err).WithFields(map[string]any{
		"reason": res.Reason,
		"delay":  delay.String(),
	}).Info("delivery failed, rescheduled")
	return OutcomeRetry
}

func (p *Pool) append(ctx context.Context, job queue.Job, status ledger.Status, res Result, log func() *logging.LogEntry) {
	rec := ledger.Record{
		SubscriptionID: job.SubscriptionID,
		JobID:          job.ID,
		EventType:      job.EventType,
		Status:         status,
		Payload:        job.Payload,
		Error:          ledger.ErrorText(res.Err),
		Attempt:        job.Attempt,
		HTTPStatus:     res.StatusCode,
		LatencyMs:      res.Latency.Milliseconds(),
	}
	tracing.AddSpanEvent(ctx, "ledger.append", attribute.String("status", string(status)))
	if err := p.ledger.Append(ctx, rec); err != nil {
		log().WithError(err).Error("ledger append failed")
	}
}

func (p *Pool) publishDeadLetter(ctx context.Context, job queue.Job, res Result, log func() *logging.LogEntry) {
	if p.deadLetters == nil {
		return
	}
	dl := NewDeadLetter(job, res.StatusCode, errString(res.Err), res.Reason)
	if err := p.deadLetters.PublishDeadLetter(ctx, dl); err != nil {
		tracing.SetSpanError(ctx, err)
		log().WithError(err).Error("dlq publish failed")
		return
	}
	tracing.AddSpanEvent(ctx, "dlq.published")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
