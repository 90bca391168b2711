// Package api is the management HTTP surface: owner-scoped webhook CRUD,
// delivery history and the admin event publish endpoint. Every /v1 route is
// authenticated, rate limited and counted for usage.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/austindbirch/sol_hook/internal/auth"
	"github.com/austindbirch/sol_hook/internal/health"
	"github.com/austindbirch/sol_hook/internal/ledger"
	"github.com/austindbirch/sol_hook/internal/logging"
	"github.com/austindbirch/sol_hook/internal/ratelimit"
	"github.com/austindbirch/sol_hook/internal/subscription"
	"github.com/austindbirch/sol_hook/internal/usage"
)

// Authenticator puts an auth.Identity on the request context or rejects it
type Authenticator interface {
	HTTPMiddleware(next http.Handler) http.Handler
}

// Notifier is the ingestion entry point
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any) (int, error)
}

// UsageRecorder counts authenticated requests and reads the counts back
type UsageRecorder interface {
	Record(identity string)
	Get(ctx context.Context, identity string) (usage.Snapshot, error)
}

type Deps struct {
	Subscriptions subscription.Repository
	Ledger        ledger.Ledger
	Notifier      Notifier
	Auth          Authenticator
	Limiter       *ratelimit.Limiter // optional
	Usage         UsageRecorder      // optional
	Health        health.Checker
	Metrics       http.Handler // optional, served on /metrics
	Logger        *logging.Logger
}

type Server struct {
	deps   Deps
	logger *logging.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.New("solhook-api")
	}
	return &Server{deps: deps, logger: deps.Logger}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", health.HTTPHandler(s.deps.Health)).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.deps.Auth.HTTPMiddleware)
	if s.deps.Limiter != nil {
		v1.Use(ratelimit.Middleware(s.deps.Limiter, identify))
	}
	if s.deps.Usage != nil {
		v1.Use(s.recordUsage)
	}

	v1.HandleFunc("/webhooks", s.listWebhooks).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks", s.createWebhook).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}", s.getWebhook).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}", s.updateWebhook).Methods(http.MethodPatch, http.MethodPut)
	v1.HandleFunc("/webhooks/{id}", s.deleteWebhook).Methods(http.MethodDelete)
	v1.HandleFunc("/webhooks/{id}/enable", s.setActive(true)).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}/disable", s.setActive(false)).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks/{id}/deliveries", s.listDeliveries).Methods(http.MethodGet)
	v1.Handle("/events", auth.RequireAdmin(http.HandlerFunc(s.publishEvent))).Methods(http.MethodPost)
	if s.deps.Usage != nil {
		v1.HandleFunc("/usage", s.getUsage).Methods(http.MethodGet)
	}

	return r
}

func identify(r *http.Request) (string, string, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return "", "", false
	}
	return id.Owner, id.Tier, true
}

func (s *Server) recordUsage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := auth.FromContext(r.Context()); ok {
			s.deps.Usage.Record(id.Owner)
		}
		next.ServeHTTP(w, r)
	})
}

// getUsage returns the caller's own telemetry. The counts are best effort.
func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	id := owner(r)
	snap, err := s.deps.Usage.Get(r.Context(), id)
	if err != nil {
		s.logger.WithContext(r.Context()).WithOwner(id).WithError(err).Warn("usage read failed")
		writeError(w, http.StatusServiceUnavailable, "Usage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": id, "usage": snap})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
