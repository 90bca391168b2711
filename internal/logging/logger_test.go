package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// decodeLines parses every JSON line written to buf
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewWithOutput_Service(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		wantField   bool
	}{
		{name: "service name is stamped", serviceName: "test-service", wantField: true},
		{name: "empty service name is omitted", serviceName: "", wantField: false},
		{name: "complex service name", serviceName: "solhook-worker-v2.1.3", wantField: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewWithOutput(tt.serviceName, &buf).Plain().Info("hello")

			lines := decodeLines(t, &buf)
			got, ok := lines[0]["service"]
			if ok != tt.wantField {
				t.Fatalf("service field present = %v, want %v", ok, tt.wantField)
			}
			if ok && got != tt.serviceName {
				t.Errorf("service = %v, want %q", got, tt.serviceName)
			}
		})
	}
}

func TestLogEntry_FluentFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("solhook-worker", &buf)

	logger.Plain().
		WithOwner("owner-1").
		WithSubscription("sub-1").
		WithJob("job-1").
		WithEvent("token_transfer").
		WithField("attempt", 3).
		WithError(errors.New("connection refused")).
		Warn("delivery failed")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	line := lines[0]

	want := map[string]any{
		"service":         "solhook-worker",
		"owner":           "owner-1",
		"subscription_id": "sub-1",
		"job_id":          "job-1",
		"event_type":      "token_transfer",
		"attempt":         float64(3),
		"error":           "connection refused",
		"level":           "warning",
		"msg":             "delivery failed",
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("field %q = %v, want %v", k, line[k], v)
		}
	}
	if _, ok := line["time"]; !ok {
		t.Error("log line has no time field")
	}
}

func TestLogEntry_WithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("svc", &buf)

	logger.Plain().WithError(nil).Info("fine")

	lines := decodeLines(t, &buf)
	if _, ok := lines[0]["error"]; ok {
		t.Error("WithError(nil) added an error field")
	}
}

func TestLogger_WithContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var buf bytes.Buffer
	logger := NewWithOutput("svc", &buf)

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.WithContext(ctx).Info("with trace")
	span.End()
	logger.WithContext(context.Background()).Info("without trace")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}
	if got := lines[0]["trace_id"]; got != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want %s", got, span.SpanContext().TraceID())
	}
	if _, ok := lines[1]["trace_id"]; ok {
		t.Error("entry without span carries a trace_id")
	}
}

func TestNewWithOutput_LogLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLines int
	}{
		{name: "warn drops info and debug", level: "warn", wantLines: 1},
		{name: "debug keeps everything", level: "DEBUG", wantLines: 3},
		{name: "unknown level falls back to info", level: "not-a-level", wantLines: 2},
		{name: "unset is info", level: "", wantLines: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.level)
			var buf bytes.Buffer
			logger := NewWithOutput("svc", &buf)

			logger.Plain().Debug("debug")
			logger.Plain().Info("info")
			logger.Plain().Error("error")

			if got := decodeLines(t, &buf); len(got) != tt.wantLines {
				t.Errorf("got %d lines, want %d", len(got), tt.wantLines)
			}
		})
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("svc", &buf)

	logger.WithFields(map[string]any{"a": "b", "n": 2}).Infof("count=%d", 2)

	lines := decodeLines(t, &buf)
	if lines[0]["a"] != "b" || lines[0]["n"] != float64(2) || lines[0]["msg"] != "count=2" {
		t.Errorf("unexpected line: %v", lines[0])
	}
}
