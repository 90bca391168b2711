package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPinger adapts a redis client to Pinger
type RedisPinger struct {
	Client redis.UniversalClient
}

func (p RedisPinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

type Status struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Database bool   `json:"database"`
	Redis    bool   `json:"redis"`
}

// Checker pings the process dependencies. A nil dependency counts as healthy.
type Checker struct {
	DB      Pinger
	Redis   Pinger
	Timeout time.Duration
}

func (c Checker) Check(ctx context.Context) Status {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st := Status{OK: true, Message: "ok", Database: true, Redis: true}
	if c.DB != nil && c.DB.Ping(ctx) != nil {
		st.OK = false
		st.Database = false
		st.Message = "db ping failed"
	}
	if c.Redis != nil && c.Redis.Ping(ctx) != nil {
		st.OK = false
		st.Redis = false
		if st.Message == "ok" {
			st.Message = "redis ping failed"
		} else {
			st.Message = "db and redis ping failed"
		}
	}
	return st
}

// HTTPHandler reports the health status as JSON, 503 when unhealthy
func HTTPHandler(c Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}

// SyncGRPC mirrors the checker into a gRPC health server until ctx is done
func SyncGRPC(ctx context.Context, c Checker, srv *health.Server, service string, interval time.Duration) {
	update := func() {
		st := healthpb.HealthCheckResponse_SERVING
		if !c.Check(ctx).OK {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		srv.SetServingStatus(service, st)
		srv.SetServingStatus("", st)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
