package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(context.Context) error {
	return m.err
}

func TestHTTPHandler(t *testing.T) {
	down := errors.New("down")
	tests := []struct {
		name               string
		checker            Checker
		expectedStatusCode int
		expectedStatus     Status
	}{
		{
			name:               "healthy with no dependencies",
			checker:            Checker{},
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Database: true, Redis: true},
		},
		{
			name:               "healthy with working dependencies",
			checker:            Checker{DB: mockPinger{}, Redis: mockPinger{}},
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Database: true, Redis: true},
		},
		{
			name:               "database down",
			checker:            Checker{DB: mockPinger{err: down}, Redis: mockPinger{}},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "db ping failed", Database: false, Redis: true},
		},
		{
			name:               "redis down",
			checker:            Checker{DB: mockPinger{}, Redis: mockPinger{err: down}},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "redis ping failed", Database: true, Redis: false},
		},
		{
			name:               "both down",
			checker:            Checker{DB: mockPinger{err: down}, Redis: mockPinger{err: down}},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "db and redis ping failed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HTTPHandler(tt.checker)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.expectedStatusCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var got Status
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.expectedStatus, got)
		})
	}
}

func TestRedisPinger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	p := RedisPinger{Client: client}
	assert.NoError(t, p.Ping(context.Background()))
	mr.Close()
	assert.Error(t, p.Ping(context.Background()))
}

func TestSyncGRPC(t *testing.T) {
	srv := health.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SyncGRPC(ctx, Checker{Redis: mockPinger{err: errors.New("down")}}, srv, "solhook.api", 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "solhook.api"})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
