package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/sol_hook/internal/api"
	"github.com/austindbirch/sol_hook/internal/auth"
	"github.com/austindbirch/sol_hook/internal/config"
	"github.com/austindbirch/sol_hook/internal/db"
	"github.com/austindbirch/sol_hook/internal/health"
	"github.com/austindbirch/sol_hook/internal/ingest"
	"github.com/austindbirch/sol_hook/internal/ledger"
	"github.com/austindbirch/sol_hook/internal/logging"
	"github.com/austindbirch/sol_hook/internal/matcher"
	"github.com/austindbirch/sol_hook/internal/metrics"
	"github.com/austindbirch/sol_hook/internal/queue"
	"github.com/austindbirch/sol_hook/internal/ratelimit"
	"github.com/austindbirch/sol_hook/internal/subscription"
	"github.com/austindbirch/sol_hook/internal/tracing"
	"github.com/austindbirch/sol_hook/internal/usage"
)

const (
	serviceName       = "solhook-api"
	grpcHealthService = "solhook.api"
	matchCacheSize    = 1024
	matchCacheTTL     = 5 * time.Second
)

func limiterConfig(cfg config.RateLimit) ratelimit.Config {
	tiers := make(map[string]ratelimit.Policy, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		tiers[name] = ratelimit.Policy{Points: t.Points, Window: t.Window}
	}
	return ratelimit.Config{
		Default:    ratelimit.Policy{Points: cfg.Points, Window: cfg.Window},
		Tiers:      tiers,
		KeyPrefix:  cfg.KeyPrefix,
		FailClosed: !cfg.FailOpen,
	}
}

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger := logging.New(serviceName)

	shutdown, err := tracing.InitTracing(ctx, serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	validator, err := auth.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		logger.Plain().WithError(err).Fatal("jwt validator")
	}

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Plain().WithError(err).Fatal("db migrate failed")
	}

	rdb, err := db.ConnectRedis(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Plain().WithError(err).Fatal("redis connect failed")
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	repo := subscription.NewCachedRepository(subscription.NewPostgresRepository(pool), matchCacheSize, matchCacheTTL)
	q := queue.New(queue.NewRedisBackend(rdb, cfg.Redis.KeyPrefix), queue.Options{MaxAttempts: cfg.Delivery.MaxAttempts})
	defer q.Close()
	dispatcher := matcher.NewDispatcher(matcher.New(repo), q, q.MaxAttempts(), logger)

	recorder := usage.NewRecorder(rdb, cfg.Redis.KeyPrefix, cfg.Usage.BufferSize, logger)
	go recorder.Run(ctx)

	if cfg.Ingest.Enabled {
		listener := ingest.NewListener(rdb, cfg.Ingest.Channels, dispatcher, logger)
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Plain().WithError(err).Error("ingest listener stopped")
			}
		}()
	}

	checker := health.Checker{DB: pool, Redis: health.RedisPinger{Client: rdb}}

	// gRPC health
	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	go health.SyncGRPC(ctx, checker, hs, grpcHealthService, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Plain().WithError(err).Fatal("gRPC listen")
	}
	go func() {
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("api gRPC health listening")
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Plain().WithError(err).Fatal("gRPC serve")
		}
	}()

	srv := api.NewServer(api.Deps{
		Subscriptions: repo,
		Ledger:        ledger.NewPostgresLedger(pool),
		Notifier:      dispatcher,
		Auth:          validator,
		Limiter:       ratelimit.New(ratelimit.NewRedisStore(rdb), limiterConfig(cfg.RateLimit), logger),
		Usage:         recorder,
		Health:        checker,
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:        logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(srv.Router(), "solhook.api"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", cfg.HTTPPort).Info("api HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("HTTP serve")
		}
	}()

	<-ctx.Done()
	logger.Plain().Info("Shutting down api service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	recorder.Close()
	logger.Plain().Info("api stopped")
}
