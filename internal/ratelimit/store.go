package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store is the shared counter behind the limiter. Incr adds cost to key,
// starting a window of the given length if the key does not exist, and
// returns the new count and the time left in the window.
type Store interface {
	Incr(ctx context.Context, key string, cost int64, window time.Duration) (count int64, ttl time.Duration, err error)
}

// The expiry is only set when the key has none, so repeated hits never
// extend a window.
var incrScript = redis.NewScript(`
local count = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {count, ttl}
`)

// RedisStore keeps fixed-window counters in Redis
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, cost int64, window time.Duration) (int64, time.Duration, error) {
	vals, err := incrScript.Run(ctx, s.client, []string{key}, cost, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	return vals[0], time.Duration(vals[1]) * time.Millisecond, nil
}

type memWindow struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a single-process Store for tests and local runs
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memWindow), now: time.Now}
}

func (m *MemoryStore) Incr(_ context.Context, key string, cost int64, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &memWindow{expiresAt: now.Add(window)}
		m.windows[key] = w
	}
	w.count += cost
	return w.count, w.expiresAt.Sub(now), nil
}
