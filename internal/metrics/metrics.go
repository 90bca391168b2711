package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsNotifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solhook_events_notified_total",
			Help: "Total number of domain events passed to notify.",
		},
		[]string{"event_type"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solhook_jobs_enqueued_total",
			Help: "Total number of delivery jobs enqueued by event type.",
		},
		[]string{"event_type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solhook_deliveries_total",
			Help: "Total number of delivery attempts by status.",
		},
		[]string{"status"},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solhook_delivery_latency_seconds",
			Help:    "Webhook POST latency by status.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solhook_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, invalid_url
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solhook_dlq_total",
			Help: "Total number of delivery jobs exhausted, by last failure reason.",
		},
		[]string{"reason"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solhook_queue_depth",
			Help: "Delivery jobs in the queue by state.",
		},
		[]string{"state"}, // ready, in_flight
	)

	LeasesReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solhook_leases_reclaimed_total",
			Help: "Total number of expired in-flight leases made visible again.",
		},
	)

	LeasesLostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solhook_leases_lost_total",
			Help: "Total number of ack/reschedule calls rejected because the lease had expired.",
		},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solhook_ratelimit_decisions_total",
			Help: "Rate limiter decisions by outcome.",
		},
		[]string{"outcome"}, // allowed, denied, fail_open, fail_closed
	)

	RateLimitStoreErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solhook_ratelimit_store_errors_total",
			Help: "Total number of shared counter store failures seen by the rate limiter.",
		},
	)

	UsageDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solhook_usage_dropped_total",
			Help: "Usage telemetry updates that were discarded.",
		},
		[]string{"reason"}, // buffer_full, store_error
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsNotifiedTotal,
		JobsEnqueuedTotal,
		DeliveriesTotal,
		DeliveryLatencySeconds,
		RetriesTotal,
		DLQTotal,
		QueueDepth,
		LeasesReclaimedTotal,
		LeasesLostTotal,
		RateLimitDecisionsTotal,
		RateLimitStoreErrorsTotal,
		UsageDroppedTotal,
	)
}

// RecordEventNotified counts one notify call and the jobs it fanned out to
func RecordEventNotified(eventType string, enqueued int) {
	EventsNotifiedTotal.WithLabelValues(eventType).Inc()
	if enqueued > 0 {
		JobsEnqueuedTotal.WithLabelValues(eventType).Add(float64(enqueued))
	}
}

// RecordDelivery counts an attempt outcome and its latency
func RecordDelivery(status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	if latency > 0 {
		DeliveryLatencySeconds.WithLabelValues(status).Observe(latency.Seconds())
	}
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

func UpdateQueueDepth(ready, inFlight int64) {
	QueueDepth.WithLabelValues("ready").Set(float64(ready))
	QueueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
}

func RecordLeasesReclaimed(n int) {
	if n > 0 {
		LeasesReclaimedTotal.Add(float64(n))
	}
}

func RecordLeaseLost() {
	LeasesLostTotal.Inc()
}

func RecordRateLimit(outcome string) {
	RateLimitDecisionsTotal.WithLabelValues(outcome).Inc()
}

func RecordRateLimitStoreError() {
	RateLimitStoreErrorsTotal.Inc()
}

func RecordUsageDropped(reason string) {
	UsageDroppedTotal.WithLabelValues(reason).Inc()
}
