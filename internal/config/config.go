package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Redis struct {
	URL       string // e.g. redis://redis:6379/0
	KeyPrefix string // prefix for queue/usage keys
}

type NSQ struct {
	NsqdTCPAddr string // e.g. nsqd:4150
	DLQTopic    string // dead letter topic for exhausted jobs
	PublishDLQ  bool   // whether exhausted jobs are published to DLQTopic
}

type Delivery struct {
	PoolSize        int           // number of concurrent workers
	MaxAttempts     int           // attempts before a job is exhausted
	BaseDelay       time.Duration // backoff before attempt 2
	MaxDelay        time.Duration // backoff cap
	Jitter          bool          // randomize backoff between base and computed delay
	HTTPTimeout     time.Duration // outbound webhook timeout
	LeaseTimeout    time.Duration // how long a dequeued job stays invisible
	PollInterval    time.Duration // dequeue poll interval against the shared store
	ReclaimSchedule string        // cron spec for expired lease reclaim
	HTTPPort        string        // worker metrics port
}

// RateTier is a per-tier point budget over a fixed window.
type RateTier struct {
	Points int64
	Window time.Duration
}

type RateLimit struct {
	Points    int64
	Window    time.Duration
	KeyPrefix string
	FailOpen  bool
	Tiers     map[string]RateTier
}

type Auth struct {
	PublicKeyPEM string
	Issuer       string
	Audience     string
}

type Ingest struct {
	Enabled  bool
	Channels map[string]string // pub/sub pattern -> event type
}

type Usage struct {
	BufferSize int
}

type FakeReceiver struct {
	FailFirstN      int           // Number of requests to fail initially
	EndpointSecret  string        // Secret for webhook signature verification
	ResponseDelayMS int           // Simulated response delay in milliseconds
	Port            string        // Server listen port
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080
	GRPCPort     string // :50051
	DB           DB
	Redis        Redis
	NSQ          NSQ
	Delivery     Delivery
	RateLimit    RateLimit
	Auth         Auth
	Ingest       Ingest
	Usage        Usage
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseRateTiers parses "pro=5000/60s,free=1000/1m". Malformed entries are skipped.
func parseRateTiers(s string) map[string]RateTier {
	tiers := make(map[string]RateTier)
	if s == "" {
		return tiers
	}
	for _, part := range strings.Split(s, ",") {
		name, spec, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		pts, win, ok := strings.Cut(spec, "/")
		if !ok {
			continue
		}
		points, err := strconv.ParseInt(strings.TrimSpace(pts), 10, 64)
		if err != nil || points <= 0 {
			continue
		}
		window, err := time.ParseDuration(strings.TrimSpace(win))
		if err != nil || window <= 0 {
			continue
		}
		tiers[strings.TrimSpace(name)] = RateTier{Points: points, Window: window}
	}
	return tiers
}

var defaultIngestChannels = map[string]string{
	"token_transfer:*": "token_transfer",
	"account:*":        "account_update",
	"tx:account:*":     "transaction",
}

// parseIngestChannels parses "token_transfer:*=token_transfer,account:*=account_update".
func parseIngestChannels(s string) map[string]string {
	if s == "" {
		out := make(map[string]string, len(defaultIngestChannels))
		for k, v := range defaultIngestChannels {
			out[k] = v
		}
		return out
	}
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		pattern, event, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || pattern == "" || event == "" {
			continue
		}
		out[pattern] = event
	}
	return out
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "solhook"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		GRPCPort: getenv("GRPC_PORT", ":50051"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "solhook"),
		},
		Redis: Redis{
			URL:       getenv("REDIS_URL", "redis://redis:6379/0"),
			KeyPrefix: getenv("REDIS_KEY_PREFIX", "solhook"),
		},
		NSQ: NSQ{
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			DLQTopic:    getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			PublishDLQ:  getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		Delivery: Delivery{
			PoolSize:        getenvInt("DELIVERY_POOL_SIZE", 10),
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 5),
			BaseDelay:       getenvDuration("BACKOFF_BASE_DELAY", time.Second),
			MaxDelay:        getenvDuration("BACKOFF_MAX_DELAY", time.Hour),
			Jitter:          getenvBool("BACKOFF_JITTER", false),
			HTTPTimeout:     getenvDuration("DELIVERY_HTTP_TIMEOUT", 10*time.Second),
			LeaseTimeout:    getenvDuration("DELIVERY_LEASE_TIMEOUT", 30*time.Second),
			PollInterval:    getenvDuration("DELIVERY_POLL_INTERVAL", 250*time.Millisecond),
			ReclaimSchedule: getenv("DELIVERY_RECLAIM_SCHEDULE", "@every 5s"),
			HTTPPort:        ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		RateLimit: RateLimit{
			Points:    getenvInt64("RATE_LIMIT_POINTS", 1000),
			Window:    getenvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			KeyPrefix: getenv("RATE_LIMIT_KEY_PREFIX", "rate"),
			FailOpen:  getenvBool("RATE_LIMIT_FAIL_OPEN", true),
			Tiers:     parseRateTiers(getenv("RATE_LIMIT_TIERS", "")),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("JWT_PUBLIC_KEY", ""),
			Issuer:       getenv("JWT_ISSUER", "solhook"),
			Audience:     getenv("JWT_AUDIENCE", "solhook-api"),
		},
		Ingest: Ingest{
			Enabled:  getenvBool("INGEST_ENABLED", true),
			Channels: parseIngestChannels(getenv("INGEST_CHANNELS", "")),
		},
		Usage: Usage{
			BufferSize: getenvInt("USAGE_BUFFER_SIZE", 1024),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			EndpointSecret:  getenv("ENDPOINT_SECRET", ""),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
