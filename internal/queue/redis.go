package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
)

const exhaustedKeep = 1000

// Keys: ready and inflight are sorted sets scored by unix millis (visibility
// time and lease deadline), jobs and leases are hashes keyed by job id.
var (
	claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then return false end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local body = redis.call('HGET', KEYS[3], id)
if not body then return false end
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', KEYS[4], id, ARGV[3])
return body
`)

	completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)

	releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
return 1
`)

	exhaustScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('LPUSH', KEYS[4], ARGV[3])
redis.call('LTRIM', KEYS[4], 0, tonumber(ARGV[4]) - 1)
return 1
`)

	reapScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', KEYS[2], id)
  redis.call('ZADD', KEYS[3], ARGV[1], id)
end
return #ids
`)
)

// RedisBackend shares one queue between every process pointed at the same
// Redis and prefix. Lua scripts make claim/ack/release/exhaust atomic.
type RedisBackend struct {
	client    redis.UniversalClient
	ready     string
	inflight  string
	jobs      string
	leases    string
	exhausted string
}

func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "solhook"
	}
	p := prefix + ":queue:"
	return &RedisBackend{
		client:    client,
		ready:     p + "ready",
		inflight:  p + "inflight",
		jobs:      p + "jobs",
		leases:    p + "leases",
		exhausted: p + "exhausted",
	}
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func (r *RedisBackend) Push(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.jobs, job.ID, body)
		pipe.ZAdd(ctx, r.ready, &redis.Z{Score: float64(millis(job.NextEligibleAt)), Member: job.ID})
		return nil
	})
	return err
}

func (r *RedisBackend) Claim(ctx context.Context, now, deadline time.Time, token string) (Job, bool, error) {
	body, err := claimScript.Run(ctx, r.client,
		[]string{r.ready, r.inflight, r.jobs, r.leases},
		millis(now), millis(deadline), token,
	).Text()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	job, err := decodeJob([]byte(body))
	if err != nil {
		return Job{}, false, errors.Wrap(err, "decode job")
	}
	return job, true, nil
}

func leaseResult(n int64, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *RedisBackend) Complete(ctx context.Context, jobID, token string) error {
	return leaseResult(completeScript.Run(ctx, r.client,
		[]string{r.inflight, r.leases, r.jobs},
		jobID, token,
	).Int64())
}

func (r *RedisBackend) Release(ctx context.Context, job Job, token string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	return leaseResult(releaseScript.Run(ctx, r.client,
		[]string{r.inflight, r.leases, r.jobs, r.ready},
		job.ID, token, body, millis(job.NextEligibleAt),
	).Int64())
}

func (r *RedisBackend) Exhaust(ctx context.Context, job Job, token string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	return leaseResult(exhaustScript.Run(ctx, r.client,
		[]string{r.inflight, r.leases, r.jobs, r.exhausted},
		job.ID, token, body, exhaustedKeep,
	).Int64())
}

func (r *RedisBackend) Reap(ctx context.Context, now time.Time) (int, error) {
	n, err := reapScript.Run(ctx, r.client,
		[]string{r.inflight, r.leases, r.ready},
		millis(now),
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RedisBackend) NextVisible(ctx context.Context) (time.Time, bool, error) {
	zs, err := r.client.ZRangeWithScores(ctx, r.ready, 0, 0).Result()
	if err != nil {
		return time.Time{}, false, err
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(zs[0].Score)).UTC(), true, nil
}

func (r *RedisBackend) Stats(ctx context.Context) (Stats, error) {
	var ready, inflight, exhausted *redis.IntCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.ZCard(ctx, r.ready)
		inflight = pipe.ZCard(ctx, r.inflight)
		exhausted = pipe.LLen(ctx, r.exhausted)
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{Ready: ready.Val(), InFlight: inflight.Val(), Exhausted: exhausted.Val()}, nil
}

// Exhausted returns up to limit of the most recently exhausted jobs
func (r *RedisBackend) Exhausted(ctx context.Context, limit int64) ([]Job, error) {
	raw, err := r.client.LRange(ctx, r.exhausted, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raw))
	for _, s := range raw {
		job, err := decodeJob([]byte(s))
		if err != nil {
			return nil, errors.Wrap(err, "decode exhausted job")
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
