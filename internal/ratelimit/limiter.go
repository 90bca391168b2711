// Package ratelimit is a fixed-window point limiter over a shared counter
// store. When the store is unreachable it fails open by default.
package ratelimit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/austindbirch/sol_hook/internal/logging"
	"github.com/austindbirch/sol_hook/internal/metrics"
)

// ErrStoreUnavailable marks counter store failures. It never reaches API callers.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Policy is a point budget per fixed window
type Policy struct {
	Points int64
	Window time.Duration
}

type Config struct {
	Default   Policy
	Tiers     map[string]Policy // overrides by tier name
	KeyPrefix string            // default "rate"

	// FailClosed denies requests while the store is unreachable. The zero
	// value admits them.
	FailClosed bool
}

// Result of one Consume call
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration // time until the window resets
	FailOpen   bool          // allowed only because the store failed
	Err        error         // store error, marked ErrStoreUnavailable
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds; at least 1 when denied
func (r Result) RetryAfterSeconds() int64 {
	secs := int64((r.RetryAfter + time.Second - 1) / time.Second)
	if !r.Allowed && secs < 1 {
		secs = 1
	}
	return secs
}

type Limiter struct {
	store  Store
	cfg    Config
	logger *logging.Logger
}

func New(store Store, cfg Config, logger *logging.Logger) *Limiter {
	if cfg.Default.Points <= 0 {
		cfg.Default.Points = 1000
	}
	if cfg.Default.Window <= 0 {
		cfg.Default.Window = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rate"
	}
	if logger == nil {
		logger = logging.New("solhook-ratelimit")
	}
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

// PolicyFor returns the tier's policy, or the default for unknown tiers
func (l *Limiter) PolicyFor(tier string) Policy {
	if p, ok := l.cfg.Tiers[tier]; ok && p.Points > 0 && p.Window > 0 {
		return p
	}
	return l.cfg.Default
}

func (l *Limiter) key(identity string) string {
	return l.cfg.KeyPrefix + ":" + identity
}

// Consume charges cost points to identity under its tier's policy
func (l *Limiter) Consume(ctx context.Context, identity, tier string, cost int64) Result {
	if cost <= 0 {
		cost = 1
	}
	policy := l.PolicyFor(tier)

	count, ttl, err := l.store.Incr(ctx, l.key(identity), cost, policy.Window)
	if err != nil {
		err = errors.Mark(errors.Wrap(err, "increment rate counter"), ErrStoreUnavailable)
		metrics.RecordRateLimitStoreError()
		entry := l.logger.WithContext(ctx).WithOwner(identity).WithError(err)
		if !l.cfg.FailClosed {
			metrics.RecordRateLimit("fail_open")
			entry.Warn("rate limit store unavailable, allowing request")
			return Result{Allowed: true, Limit: policy.Points, Remaining: policy.Points, FailOpen: true, Err: err}
		}
		metrics.RecordRateLimit("fail_closed")
		entry.Warn("rate limit store unavailable, denying request")
		return Result{Allowed: false, Limit: policy.Points, RetryAfter: policy.Window, Err: err}
	}

	remaining := policy.Points - count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:    count <= policy.Points,
		Limit:      policy.Points,
		Remaining:  remaining,
		RetryAfter: ttl,
	}
	if res.Allowed {
		metrics.RecordRateLimit("allowed")
	} else {
		metrics.RecordRateLimit("denied")
	}
	return res
}
