package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/austindbirch/sol_hook/internal/config"
	"github.com/austindbirch/sol_hook/internal/db"
	"github.com/austindbirch/sol_hook/internal/delivery"
	"github.com/austindbirch/sol_hook/internal/health"
	"github.com/austindbirch/sol_hook/internal/ledger"
	"github.com/austindbirch/sol_hook/internal/logging"
	"github.com/austindbirch/sol_hook/internal/metrics"
	"github.com/austindbirch/sol_hook/internal/queue"
	"github.com/austindbirch/sol_hook/internal/tracing"
)

const serviceName = "solhook-worker"

func queueOptions(cfg config.Delivery) queue.Options {
	return queue.Options{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		Jitter:       cfg.Jitter,
		LeaseTimeout: cfg.LeaseTimeout,
		PollInterval: cfg.PollInterval,
	}
}

// newDeadLetters returns nil when DLQ publishing is disabled
func newDeadLetters(cfg config.NSQ) (delivery.DeadLetterPublisher, func(), error) {
	if !cfg.PublishDLQ {
		return nil, func() {}, nil
	}
	prod, err := nsq.NewProducer(cfg.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, nil, err
	}
	return delivery.NewNSQPublisher(prod, cfg.DLQTopic), prod.Stop, nil
}

func newHTTPHandler(reg *prometheus.Registry, checker health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(checker))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
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

	deadLetters, stopDLQ, err := newDeadLetters(cfg.NSQ)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
	}
	defer stopDLQ()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	q := queue.New(queue.NewRedisBackend(rdb, cfg.Redis.KeyPrefix), queueOptions(cfg.Delivery))
	workers := delivery.NewPool(q, delivery.NewSender(cfg.Delivery.HTTPTimeout), ledger.NewPostgresLedger(pool), delivery.PoolOptions{
		Size:        cfg.Delivery.PoolSize,
		DeadLetters: deadLetters,
		Logger:      logger,
	})

	sched := cron.New()
	if _, err := queue.NewMaintenance(q, logger).Schedule(ctx, sched, cfg.Delivery.ReclaimSchedule); err != nil {
		logger.Plain().WithError(err).Fatal("invalid reclaim schedule")
	}
	sched.Start()

	checker := health.Checker{DB: pool, Redis: health.RedisPinger{Client: rdb}}
	httpSrv := &http.Server{Addr: cfg.Delivery.HTTPPort, Handler: newHTTPHandler(reg, checker), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	logger.WithFields(map[string]any{
		"pool_size":    workers.Size(),
		"max_attempts": q.MaxAttempts(),
		"dlq":          cfg.NSQ.PublishDLQ,
	}).Info("worker service started")

	done := make(chan error, 1)
	go func() { done <- workers.Run(ctx) }()

	<-ctx.Done()
	logger.Plain().Info("Shutting down worker service")
	q.Close()
	if err := <-done; err != nil {
		logger.Plain().WithError(err).Error("worker pool stopped with error")
	}
	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker service stopped")
}
