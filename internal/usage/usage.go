// Package usage keeps non-authoritative per-identity API usage telemetry:
// a daily request counter and a last-used timestamp. Writes are best effort.
// A full buffer or a store failure drops the hit and counts the drop.
package usage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/austindbirch/sol_hook/internal/logging"
	"github.com/austindbirch/sol_hook/internal/metrics"
)

const (
	dayLayout        = "2006-01-02"
	fieldLastUsed    = "last_used"
	defaultBuffer    = 1024
	writeTimeout     = 2 * time.Second
	counterRetention = 90 * 24 * time.Hour
)

type hit struct {
	identity string
	at       time.Time
}

// Recorder buffers hits and writes them from a single background goroutine
type Recorder struct {
	client redis.UniversalClient
	prefix string
	hits   chan hit
	logger *logging.Logger
	now    func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func NewRecorder(client redis.UniversalClient, prefix string, bufferSize int, logger *logging.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	if prefix == "" {
		prefix = "solhook"
	}
	if logger == nil {
		logger = logging.New("solhook-usage")
	}
	return &Recorder{
		client: client,
		prefix: prefix,
		hits:   make(chan hit, bufferSize),
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Key is the usage hash for identity
func (r *Recorder) Key(identity string) string {
	return r.prefix + ":usage:" + identity
}

// Record queues a hit without blocking
func (r *Recorder) Record(identity string) {
	if identity == "" {
		return
	}
	select {
	case r.hits <- hit{identity: identity, at: r.now().UTC()}:
	default:
		metrics.RecordUsageDropped("buffer_full")
	}
}

// Run drains the buffer until ctx is cancelled or Close is called, then
// flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case h := <-r.hits:
			r.write(ctx, h)
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			return
		case <-r.done:
			r.flush(ctx)
			return
		}
	}
}

func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Recorder) flush(ctx context.Context) {
	for {
		select {
		case h := <-r.hits:
			r.write(ctx, h)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, h hit) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	key := r.Key(h.identity)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, h.at.Format(dayLayout), 1)
		p.HSet(ctx, key, fieldLastUsed, h.at.Format(time.RFC3339))
		p.Expire(ctx, key, counterRetention)
		return nil
	})
	if err != nil {
		metrics.RecordUsageDropped("store_error")
		r.logger.WithContext(ctx).WithOwner(h.identity).WithError(err).Warn("usage write failed")
	}
}

// Snapshot is the stored usage of one identity
type Snapshot struct {
	LastUsed time.Time        `json:"last_used"`
	Daily    map[string]int64 `json:"daily"` // YYYY-MM-DD -> requests
}

func (r *Recorder) Get(ctx context.Context, identity string) (Snapshot, error) {
	vals, err := r.client.HGetAll(ctx, r.Key(identity)).Result()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Daily: make(map[string]int64)}
	for k, v := range vals {
		if k == fieldLastUsed {
			snap.LastUsed, _ = time.Parse(time.RFC3339, v)
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			snap.Daily[k] = n
		}
	}
	return snap, nil
}
