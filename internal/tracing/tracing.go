package tracing

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for this application
const TracerName = "github.com/austindbirch/sol_hook"

// Span names shared by the matcher and the delivery workers.
const (
	SpanNotify   = "matcher.notify"
	SpanDelivery = "worker.delivery"
)

// Attribute keys for webhook jobs. Every delivery span carries the first four.
const (
	AttrJobID          = attribute.Key("solhook.job.id")
	AttrSubscriptionID = attribute.Key("solhook.subscription.id")
	AttrEventType      = attribute.Key("solhook.event.type")
	AttrAttempt        = attribute.Key("solhook.delivery.attempt")
	AttrMatches        = attribute.Key("solhook.matches")
	AttrOutcome        = attribute.Key("solhook.delivery.outcome")
	AttrFailureReason  = attribute.Key("solhook.delivery.failure_reason")
	AttrLatencyMs      = attribute.Key("solhook.delivery.latency_ms")
)

// InitTracing installs the W3C propagators and, when OTEL_EXPORTER_OTLP_ENDPOINT
// is set, an OTLP/HTTP exporter. Without an endpoint spans are not recorded
// but trace headers still flow from the API through queued jobs.
func InitTracing(ctx context.Context, serviceName string) (func(), error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	endpoint, ok := getOTLPEndpoint()
	if !ok {
		return func() {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(getVersion()),
			semconv.ServiceInstanceIDKey.String(getInstanceID()),
		),
		resource.WithFromEnv(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(getSampleRatio()))),
	)
	otel.SetTracerProvider(tp)

	return func() {
		_ = tp.Shutdown(context.WithoutCancel(ctx))
	}, nil
}

// GetTracer returns a tracer for the solhook services
func GetTracer() oteltrace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a new span with the given name and attributes
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return GetTracer().Start(ctx, spanName, oteltrace.WithAttributes(attrs...))
}

// JobAttributes identifies one delivery attempt.
func JobAttributes(jobID, subscriptionID, eventType string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrJobID.String(jobID),
		AttrSubscriptionID.String(subscriptionID),
		AttrEventType.String(eventType),
		AttrAttempt.Int(attempt),
	}
}

// StartNotifySpan opens the producer span under which matched jobs are
// enqueued. Its context is what InjectJobHeaders stores on each job.
func StartNotifySpan(ctx context.Context, eventType string) (context.Context, oteltrace.Span) {
	return GetTracer().Start(ctx, SpanNotify,
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
		oteltrace.WithAttributes(AttrEventType.String(eventType)),
	)
}

// StartDeliverySpan continues the trace carried in a job's headers and opens a
// consumer span for one attempt.
func StartDeliverySpan(ctx context.Context, headers map[string]string, jobID, subscriptionID, eventType string, attempt int) (context.Context, oteltrace.Span) {
	ctx = ExtractJobHeaders(ctx, headers)
	return GetTracer().Start(ctx, SpanDelivery,
		oteltrace.WithSpanKind(oteltrace.SpanKindConsumer),
		oteltrace.WithAttributes(JobAttributes(jobID, subscriptionID, eventType, attempt)...),
	)
}

// RecordMatches notes how many subscriptions an event fanned out to.
func RecordMatches(ctx context.Context, n int) {
	oteltrace.SpanFromContext(ctx).SetAttributes(AttrMatches.Int(n))
}

// RecordHTTPResult notes the receiver's response. A zero status means no
// response arrived and is left off the span.
func RecordHTTPResult(ctx context.Context, status int, latency time.Duration) {
	span := oteltrace.SpanFromContext(ctx)
	if status != 0 {
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))
	}
	span.SetAttributes(AttrLatencyMs.Int64(latency.Milliseconds()))
}

// RecordOutcome sets how the attempt was settled and, for failures, why.
func RecordOutcome(ctx context.Context, outcome, reason string) {
	span := oteltrace.SpanFromContext(ctx)
	span.SetAttributes(AttrOutcome.String(outcome))
	if reason != "" {
		span.SetAttributes(AttrFailureReason.String(reason))
	}
}

// AddSpanEvent adds an event to the current span
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	oteltrace.SpanFromContext(ctx).AddEvent(name, oteltrace.WithAttributes(attrs...))
}

// SetSpanError records an error on the current span
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the active trace ID, or "" outside a recorded trace.
func GetTraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// InjectJobHeaders serializes the current trace context into a map stored on a
// delivery job, so the worker that picks the job up continues the same trace.
func InjectJobHeaders(ctx context.Context) map[string]string {
	headers := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	if len(headers) == 0 {
		return nil
	}
	return headers
}

// ExtractJobHeaders restores trace context previously written by InjectJobHeaders
func ExtractJobHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

func getVersion() string {
	if v := os.Getenv("SERVICE_VERSION"); v != "" {
		return v
	}
	return "dev"
}

func getInstanceID() string {
	for _, k := range []string{"HOSTNAME", "POD_NAME"} {
		if id := os.Getenv(k); id != "" {
			return id
		}
	}
	return "unknown"
}

// getOTLPEndpoint returns host:port, since otlptracehttp.WithEndpoint takes no scheme.
func getOTLPEndpoint() (string, bool) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return "", false
	}
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimSuffix(endpoint, "/"), true
}

// getSampleRatio reads OTEL_TRACES_SAMPLER_ARG, defaulting to sampling everything.
func getSampleRatio() float64 {
	r, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64)
	if err != nil || r < 0 || r > 1 {
		return 1
	}
	return r
}
